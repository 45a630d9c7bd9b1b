// Copyright 2026 The Kiln Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/kilnml/kiln/internal/tensor"
)

// Backend is the compute interface the convolution engine runs against.
//
// Implementations:
//   - backend/cpu: pure Go with parallel grid execution
//   - backend/webgpu: WGSL compute shaders via go-webgpu
type Backend = tensor.Backend
