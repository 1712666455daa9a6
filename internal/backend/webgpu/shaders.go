// WGSL compute shaders for the transducer lattice.
//
// Shared conventions: scores and tables are f32 storage buffers laid out
// row-major with the padded batch dimensions; `meta` packs the per-example
// int32 metadata as [input_lengths | label_lengths | labels] so every
// kernel stays within the default storage-buffer binding limit. NEG_LARGE
// stands in for -infinity (WGSL has no infinity literal); exp() of the
// resulting differences underflows to zero, which is the behavior the
// log-space arithmetic needs.
//
// The lattice recursions are scheduled over anti-diagonals t+u = diag.
// Cells of one diagonal only read cells of already-dispatched diagonals,
// and WebGPU orders storage writes between dispatches, so a dispatch per
// diagonal is the only barrier required.
package webgpu

// lossWorkgroupSize is the number of threads per workgroup.
const lossWorkgroupSize = 256

// lossPrelude declares the bindings and helpers shared by the lattice
// kernels. Kernels that do not use a binding still declare it; pipeline
// layouts are created per shader from the full group.
const lossPrelude = `
struct Params {
    batch: u32,
    max_t: u32,
    max_u: u32,
    vocab: u32,
    blank: u32,
    diag: u32,
}

const NEG_LARGE: f32 = -3.0e38;

fn log_sum_exp(a: f32, b: f32) -> f32 {
    let hi = max(a, b);
    let lo = min(a, b);
    if (hi <= NEG_LARGE) {
        return hi;
    }
    return hi + log(1.0 + exp(lo - hi));
}

fn input_len(b: u32) -> u32 {
    return u32(meta[b]);
}

fn label_len(b: u32) -> u32 {
    return u32(meta[params.batch + b]);
}

fn label_at(b: u32, u: u32) -> u32 {
    return u32(meta[2u * params.batch + b * (params.max_u - 1u) + u]);
}

fn cell_index(b: u32, t: u32, u: u32) -> u32 {
    return (b * params.max_t + t) * params.max_u + u;
}

fn log_prob(b: u32, t: u32, u: u32, k: u32) -> f32 {
    return emissions[(b * params.max_t + t) * params.vocab + k]
         + predictions[(b * params.max_u + u) * params.vocab + k]
         - log_norms[cell_index(b, t, u)];
}
`

// logNormShader fills the per-cell log-normalization table:
// Z(t,u) = logsumexp over k of emissions[t,k] + predictions[u,k],
// two-pass max-then-sum within a single thread. Cells are independent,
// so the whole valid region runs in one dispatch.
const logNormShader = `
@group(0) @binding(0) var<storage, read> emissions: array<f32>;
@group(0) @binding(1) var<storage, read> predictions: array<f32>;
@group(0) @binding(2) var<storage, read> meta: array<i32>;
@group(0) @binding(3) var<storage, read_write> log_norms: array<f32>;
@group(0) @binding(4) var<uniform> params: Params;
` + lossPrelude + `
@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx >= params.batch * params.max_t * params.max_u) {
        return;
    }
    let u = idx % params.max_u;
    let t = (idx / params.max_u) % params.max_t;
    let b = idx / (params.max_u * params.max_t);
    if (t >= input_len(b) || u > label_len(b)) {
        return;
    }

    let em = (b * params.max_t + t) * params.vocab;
    let pr = (b * params.max_u + u) * params.vocab;

    var hi = emissions[em] + predictions[pr];
    for (var k = 1u; k < params.vocab; k++) {
        hi = max(hi, emissions[em + k] + predictions[pr + k]);
    }
    var sum = 0.0;
    for (var k = 0u; k < params.vocab; k++) {
        sum += exp(emissions[em + k] + predictions[pr + k] - hi);
    }
    log_norms[idx] = hi + log(sum);
}
`

// alphaShader computes one anti-diagonal of the forward recursion.
// params.diag selects the diagonal; threads cover (example, time row).
const alphaShader = `
@group(0) @binding(0) var<storage, read> emissions: array<f32>;
@group(0) @binding(1) var<storage, read> predictions: array<f32>;
@group(0) @binding(2) var<storage, read> meta: array<i32>;
@group(0) @binding(3) var<storage, read> log_norms: array<f32>;
@group(0) @binding(4) var<storage, read_write> alphas: array<f32>;
@group(0) @binding(5) var<uniform> params: Params;
` + lossPrelude + `
@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx >= params.batch * params.max_t) {
        return;
    }
    let b = idx / params.max_t;
    let t = idx % params.max_t;
    if (t > params.diag) {
        return;
    }
    let u = params.diag - t;
    if (t >= input_len(b) || u > label_len(b)) {
        return;
    }

    let cell = cell_index(b, t, u);
    if (t == 0u && u == 0u) {
        alphas[cell] = 0.0;
        return;
    }

    var acc = NEG_LARGE;
    if (t > 0u) {
        acc = alphas[cell - params.max_u] + log_prob(b, t - 1u, u, params.blank);
    }
    if (u > 0u) {
        let emit = alphas[cell - 1u] + log_prob(b, t, u - 1u, label_at(b, u - 1u));
        acc = log_sum_exp(acc, emit);
    }
    alphas[cell] = acc;
}
`

// costShader extends every example's terminal cell by the final blank
// transition and negates: cost = -(alpha[T-1,U-1] + logP(blank|T-1,U-1)).
const costShader = `
@group(0) @binding(0) var<storage, read> emissions: array<f32>;
@group(0) @binding(1) var<storage, read> predictions: array<f32>;
@group(0) @binding(2) var<storage, read> meta: array<i32>;
@group(0) @binding(3) var<storage, read> log_norms: array<f32>;
@group(0) @binding(4) var<storage, read> alphas: array<f32>;
@group(0) @binding(5) var<storage, read_write> costs: array<f32>;
@group(0) @binding(6) var<uniform> params: Params;
` + lossPrelude + `
@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let b = global_id.x;
    if (b >= params.batch) {
        return;
    }
    let t = input_len(b) - 1u;
    let u = label_len(b);
    costs[b] = -(alphas[cell_index(b, t, u)] + log_prob(b, t, u, params.blank));
}
`

// betaShader computes one anti-diagonal of the backward recursion,
// dispatched in descending diagonal order.
const betaShader = `
@group(0) @binding(0) var<storage, read> emissions: array<f32>;
@group(0) @binding(1) var<storage, read> predictions: array<f32>;
@group(0) @binding(2) var<storage, read> meta: array<i32>;
@group(0) @binding(3) var<storage, read> log_norms: array<f32>;
@group(0) @binding(4) var<storage, read_write> betas: array<f32>;
@group(0) @binding(5) var<uniform> params: Params;
` + lossPrelude + `
@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx >= params.batch * params.max_t) {
        return;
    }
    let b = idx / params.max_t;
    let t = idx % params.max_t;
    if (t > params.diag) {
        return;
    }
    let u = params.diag - t;
    let t_len = input_len(b);
    let u_len = label_len(b) + 1u;
    if (t >= t_len || u >= u_len) {
        return;
    }

    let cell = cell_index(b, t, u);
    if (t == t_len - 1u && u == u_len - 1u) {
        betas[cell] = log_prob(b, t, u, params.blank);
        return;
    }

    var acc = NEG_LARGE;
    if (t + 1u < t_len) {
        acc = betas[cell + params.max_u] + log_prob(b, t, u, params.blank);
    }
    if (u + 1u < u_len) {
        let emit = betas[cell + 1u] + log_prob(b, t, u, label_at(b, u));
        acc = log_sum_exp(acc, emit);
    }
    betas[cell] = acc;
}
`

// gradPrelude holds the bindings and the shared per-cell gradient term
// for the two gradient kernels.
const gradPrelude = `
@group(0) @binding(0) var<storage, read> emissions: array<f32>;
@group(0) @binding(1) var<storage, read> predictions: array<f32>;
@group(0) @binding(2) var<storage, read> meta: array<i32>;
@group(0) @binding(3) var<storage, read> log_norms: array<f32>;
@group(0) @binding(4) var<storage, read> alphas: array<f32>;
@group(0) @binding(5) var<storage, read> betas: array<f32>;
@group(0) @binding(6) var<storage, read> upstream: array<f32>;
@group(0) @binding(7) var<storage, read_write> grads: array<f32>;
` + lossPrelude + `
// cell_grad returns d(cost)/d(score(t,u,k)) before upstream scaling:
// the local-softmax occupancy term minus the posterior of the edges
// actually emitting k out of (t,u).
fn cell_grad(b: u32, t: u32, u: u32, k: u32, t_len: u32, u_len: u32, log_like: f32) -> f32 {
    let cell = cell_index(b, t, u);
    let lp = log_prob(b, t, u, k);
    let a = alphas[cell];
    var g = exp(a + betas[cell] - log_like + lp);
    if (k == params.blank) {
        if (t == t_len - 1u && u == u_len - 1u) {
            g -= exp(a + lp - log_like);
        } else if (t + 1u < t_len) {
            g -= exp(a + lp + betas[cell + params.max_u] - log_like);
        }
    }
    if (u + 1u < u_len && k == label_at(b, u)) {
        g -= exp(a + lp + betas[cell + 1u] - log_like);
    }
    return g;
}
`

// egradShader accumulates emission gradients: one thread owns one
// (example, time, symbol) output entry and reduces over output positions,
// so no two threads ever write the same entry.
const egradShader = gradPrelude + `
@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx >= params.batch * params.max_t * params.vocab) {
        return;
    }
    let k = idx % params.vocab;
    let t = (idx / params.vocab) % params.max_t;
    let b = idx / (params.vocab * params.max_t);
    let t_len = input_len(b);
    let u_len = label_len(b) + 1u;
    if (t >= t_len) {
        return;
    }

    let log_like = betas[b * params.max_t * params.max_u];
    var grad = 0.0;
    for (var u = 0u; u < u_len; u++) {
        grad += cell_grad(b, t, u, k, t_len, u_len, log_like);
    }
    grads[idx] = grad * upstream[b];
}
`

// pgradShader accumulates prediction gradients: one thread owns one
// (example, position, symbol) output entry and reduces over time steps.
const pgradShader = gradPrelude + `
@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx >= params.batch * params.max_u * params.vocab) {
        return;
    }
    let k = idx % params.vocab;
    let u = (idx / params.vocab) % params.max_u;
    let b = idx / (params.vocab * params.max_u);
    let t_len = input_len(b);
    let u_len = label_len(b) + 1u;
    if (u >= u_len) {
        return;
    }

    let log_like = betas[b * params.max_t * params.max_u];
    var grad = 0.0;
    for (var t = 0u; t < t_len; t++) {
        grad += cell_grad(b, t, u, k, t_len, u_len, log_like);
    }
    grads[idx] = grad * upstream[b];
}
`
