package tune

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// cacheFileVersion is bumped when the on-disk layout changes; older files
// are rejected rather than misread.
const cacheFileVersion = 1

// ErrChecksumMismatch indicates a cache file whose entries do not match its
// recorded checksum. The caller should discard the file and re-tune.
var ErrChecksumMismatch = errors.New("tune: cache checksum mismatch")

// cacheFile is the on-disk form of a tuner cache. The checksum covers the
// serialized entries, so a truncated or hand-edited file is detected instead
// of silently installing bogus decisions.
type cacheFile struct {
	Version  int     `json:"version"`
	Checksum string  `json:"checksum"`
	Entries  []Entry `json:"entries"`
}

func entriesChecksum(entries []Entry) (string, error) {
	data, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Save writes the cache to path. The write goes through a temp file in the
// same directory so a crash never leaves a half-written cache behind.
func (t *Tuner) Save(path string) error {
	entries := t.Entries()
	checksum, err := entriesChecksum(entries)
	if err != nil {
		return fmt.Errorf("tune: save cache: %w", err)
	}

	data, err := json.MarshalIndent(cacheFile{
		Version:  cacheFileVersion,
		Checksum: checksum,
		Entries:  entries,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("tune: save cache: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tune-cache-*")
	if err != nil {
		return fmt.Errorf("tune: save cache: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("tune: save cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("tune: save cache: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("tune: save cache: %w", err)
	}
	return nil
}

// Load reads a cache file and installs its entries. Entries with strategies
// unknown to the running build are installed as-is; Pick re-benchmarks them
// on first use.
func (t *Tuner) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tune: load cache: %w", err)
	}

	var file cacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("tune: load cache: %w", err)
	}
	if file.Version != cacheFileVersion {
		return fmt.Errorf("tune: load cache: unsupported version %d", file.Version)
	}

	checksum, err := entriesChecksum(file.Entries)
	if err != nil {
		return fmt.Errorf("tune: load cache: %w", err)
	}
	if checksum != file.Checksum {
		return ErrChecksumMismatch
	}

	t.Restore(file.Entries)
	return nil
}
