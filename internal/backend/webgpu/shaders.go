package webgpu

// Embedded WGSL compute shaders. The convolution shaders are line-for-line
// ports of the host kernels in internal/kernel/conv; any change to the host
// decode or bounds logic must be mirrored here.

// workgroupSize is the default number of threads per workgroup for 1D
// dispatches.
const workgroupSize = 256

// addShader performs element-wise addition: result = a + b.
const addShader = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.size) {
        result[idx] = a[idx] + b[idx];
    }
}
`

// matmulShader performs matrix multiplication: C = A @ B.
// A is [M, K], B is [K, N], C is [M, N].
const matmulShader = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;

struct Params {
    M: u32,
    K: u32,
    N: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(16, 16)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let row = global_id.y;
    let col = global_id.x;

    if (row >= params.M || col >= params.N) {
        return;
    }

    var sum: f32 = 0.0;
    for (var k: u32 = 0u; k < params.K; k = k + 1u) {
        sum = sum + a[row * params.K + k] * b[k * params.N + col];
    }

    result[row * params.N + col] = sum;
}
`

// conv2dDirectShader computes one convolution output element per invocation.
// Port of conv2dDirectAtFloat32; coordinates are signed so padded positions
// can go negative before the bounds checks.
const conv2dDirectShader = `
@group(0) @binding(0) var<storage, read> input: array<f32>;
@group(0) @binding(1) var<storage, read> weight: array<f32>;
@group(0) @binding(2) var<storage, read> bias: array<f32>;
@group(0) @binding(3) var<storage, read_write> result: array<f32>;

struct Params {
    in_channels: i32,
    out_channels: i32,
    height: i32,
    width: i32,
    out_h: i32,
    out_w: i32,
    kernel_h: i32,
    kernel_w: i32,
    stride_h: i32,
    stride_w: i32,
    pad_h: i32,
    pad_w: i32,
    dilation_h: i32,
    dilation_w: i32,
    groups: i32,
    has_bias: i32,
    size: i32,
}
@group(0) @binding(4) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = i32(global_id.x);
    if (idx >= params.size) {
        return;
    }

    let x = idx % params.out_w;
    let y = (idx / params.out_w) % params.out_h;
    let co = (idx / (params.out_w * params.out_h)) % params.out_channels;
    let n = idx / (params.out_w * params.out_h * params.out_channels);

    let in_per_group = params.in_channels / params.groups;
    let out_per_group = params.out_channels / params.groups;
    let g = co / out_per_group;

    var val: f32 = 0.0;
    for (var ci: i32 = 0; ci < in_per_group; ci = ci + 1) {
        for (var ky: i32 = 0; ky < params.kernel_h; ky = ky + 1) {
            let iy = y * params.stride_h - params.pad_h + ky * params.dilation_h;
            if (iy < 0 || iy >= params.height) {
                continue;
            }
            for (var kx: i32 = 0; kx < params.kernel_w; kx = kx + 1) {
                let ix = x * params.stride_w - params.pad_w + kx * params.dilation_w;
                if (ix < 0 || ix >= params.width) {
                    continue;
                }
                let in_idx = ((n * params.in_channels + g * in_per_group + ci) * params.height + iy) * params.width + ix;
                let w_idx = ((co * in_per_group + ci) * params.kernel_h + ky) * params.kernel_w + kx;
                val = val + input[in_idx] * weight[w_idx];
            }
        }
    }
    if (params.has_bias != 0) {
        val = val + bias[co];
    }
    result[idx] = val;
}
`

// convTranspose2dDirectShader computes one transposed-convolution output
// element per invocation, in gather form. Port of
// convTranspose2dDirectAtFloat32.
const convTranspose2dDirectShader = `
@group(0) @binding(0) var<storage, read> input: array<f32>;
@group(0) @binding(1) var<storage, read> weight: array<f32>;
@group(0) @binding(2) var<storage, read> bias: array<f32>;
@group(0) @binding(3) var<storage, read_write> result: array<f32>;

struct Params {
    in_channels: i32,
    out_channels: i32,
    height: i32,
    width: i32,
    out_h: i32,
    out_w: i32,
    kernel_h: i32,
    kernel_w: i32,
    stride_h: i32,
    stride_w: i32,
    pad_h: i32,
    pad_w: i32,
    dilation_h: i32,
    dilation_w: i32,
    groups: i32,
    has_bias: i32,
    size: i32,
}
@group(0) @binding(4) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = i32(global_id.x);
    if (idx >= params.size) {
        return;
    }

    let x = idx % params.out_w;
    let y = (idx / params.out_w) % params.out_h;
    let co = (idx / (params.out_w * params.out_h)) % params.out_channels;
    let n = idx / (params.out_w * params.out_h * params.out_channels);

    let in_per_group = params.in_channels / params.groups;
    let out_per_group = params.out_channels / params.groups;
    let g = co / out_per_group;
    let co_local = co - g * out_per_group;

    var val: f32 = 0.0;
    for (var ky: i32 = 0; ky < params.kernel_h; ky = ky + 1) {
        let y_eff = y + params.pad_h - ky * params.dilation_h;
        if (y_eff < 0 || y_eff % params.stride_h != 0) {
            continue;
        }
        let iy = y_eff / params.stride_h;
        if (iy >= params.height) {
            continue;
        }
        for (var kx: i32 = 0; kx < params.kernel_w; kx = kx + 1) {
            let x_eff = x + params.pad_w - kx * params.dilation_w;
            if (x_eff < 0 || x_eff % params.stride_w != 0) {
                continue;
            }
            let ix = x_eff / params.stride_w;
            if (ix >= params.width) {
                continue;
            }
            for (var ci: i32 = 0; ci < in_per_group; ci = ci + 1) {
                let in_idx = ((n * params.in_channels + g * in_per_group + ci) * params.height + iy) * params.width + ix;
                let w_idx = (((g * in_per_group + ci) * out_per_group + co_local) * params.kernel_h + ky) * params.kernel_w + kx;
                val = val + input[in_idx] * weight[w_idx];
            }
        }
    }
    if (params.has_bias != 0) {
        val = val + bias[co];
    }
    result[idx] = val;
}
`

// col2imShader folds a column matrix back into image form. One invocation
// owns one image element, so writes never race. Port of col2imFloat32.
const col2imShader = `
@group(0) @binding(0) var<storage, read> columns: array<f32>;
@group(0) @binding(1) var<storage, read_write> result: array<f32>;

struct Params {
    batch_size: i32,
    channels: i32,
    im_h: i32,
    im_w: i32,
    col_h: i32,
    col_w: i32,
    kernel_h: i32,
    kernel_w: i32,
    stride_h: i32,
    stride_w: i32,
    pad_h: i32,
    pad_w: i32,
    dilation_h: i32,
    dilation_w: i32,
    size: i32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = i32(global_id.x);
    if (idx >= params.size) {
        return;
    }

    let x = idx % params.im_w;
    let y = (idx / params.im_w) % params.im_h;
    let ch = (idx / (params.im_w * params.im_h)) % params.channels;
    let n = idx / (params.im_w * params.im_h * params.channels);

    let kernel_extent_h = (params.kernel_h - 1) * params.dilation_h + 1;
    let kernel_extent_w = (params.kernel_w - 1) * params.dilation_w + 1;
    let col_stride = params.batch_size * params.col_h * params.col_w;

    let y_shift = y + params.pad_h;
    let x_shift = x + params.pad_w;

    var col_y_start: i32 = 0;
    if (y_shift >= kernel_extent_h) {
        col_y_start = (y_shift - kernel_extent_h) / params.stride_h + 1;
    }
    let col_y_end = min(y_shift / params.stride_h + 1, params.col_h);
    var col_x_start: i32 = 0;
    if (x_shift >= kernel_extent_w) {
        col_x_start = (x_shift - kernel_extent_w) / params.stride_w + 1;
    }
    let col_x_end = min(x_shift / params.stride_w + 1, params.col_w);

    var sum: f32 = 0.0;
    for (var col_y: i32 = col_y_start; col_y < col_y_end; col_y = col_y + 1) {
        let ky_offset = y_shift - col_y * params.stride_h;
        if (ky_offset % params.dilation_h != 0) {
            continue;
        }
        let ky = ky_offset / params.dilation_h;
        for (var col_x: i32 = col_x_start; col_x < col_x_end; col_x = col_x + 1) {
            let kx_offset = x_shift - col_x * params.stride_w;
            if (kx_offset % params.dilation_w != 0) {
                continue;
            }
            let kx = kx_offset / params.dilation_w;
            let row = (ch * params.kernel_h + ky) * params.kernel_w + kx;
            sum = sum + columns[row * col_stride + n * params.col_h * params.col_w + col_y * params.col_w + col_x];
        }
    }
    result[idx] = sum;
}
`
