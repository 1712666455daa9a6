package webgpu

import (
	"encoding/binary"
	"fmt"

	"github.com/go-webgpu/webgpu/wgpu"
)

// LossBatch is a validated, padded transducer batch handed to the GPU
// kernels. Slices are host views; the backend uploads them on entry and
// reads results back before returning.
type LossBatch struct {
	Emissions    []float32 // B×T×V
	Predictions  []float32 // B×U×V
	Labels       []int32   // B×(U-1)
	InputLengths []int32   // B
	LabelLengths []int32   // B
	B, T, U, V   int
	Blank        int
}

// meta packs the int32 metadata into the single buffer layout the
// shaders expect: [input_lengths | label_lengths | labels].
func (lb *LossBatch) meta() []int32 {
	m := make([]int32, 0, 2*lb.B+len(lb.Labels))
	m = append(m, lb.InputLengths...)
	m = append(m, lb.LabelLengths...)
	m = append(m, lb.Labels...)
	return m
}

// params encodes the uniform parameter block for one dispatch.
func (lb *LossBatch) params(diag int) []byte {
	buf := make([]byte, 32)
	for i, v := range []int{lb.B, lb.T, lb.U, lb.V, lb.Blank, diag} {
		//nolint:gosec // validated batch dimensions are non-negative
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return buf
}

// table returns the number of cells in the padded B×T×U tables.
func (lb *LossBatch) table() int {
	return lb.B * lb.T * lb.U
}

// gbuf pairs a GPU buffer with its byte size; bind group entries need
// the size explicitly.
type gbuf struct {
	buf  *wgpu.Buffer
	size uint64
}

func (g gbuf) release() { g.buf.Release() }

// storageIn uploads data into a read-only storage buffer.
func (b *Backend) storageIn(data []byte) gbuf {
	return gbuf{b.createBuffer(data, wgpu.BufferUsageStorage), uint64(len(data))}
}

// storageOut creates a zero-initialized result buffer that can be copied
// back to the host.
func (b *Backend) storageOut(size uint64) gbuf {
	return gbuf{b.createEmptyBuffer(size, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc), size}
}

// LossForward runs the forward lattice on the GPU and fills costs (B),
// alphas and logNorms (both B×T×U). All diagonals of the batch are
// encoded into one command buffer; dispatch boundaries order the writes.
func (b *Backend) LossForward(batch *LossBatch, costs, alphas, logNorms []float32) error {
	bufEm := b.storageIn(bytesOf(batch.Emissions))
	defer bufEm.release()
	bufPr := b.storageIn(bytesOf(batch.Predictions))
	defer bufPr.release()
	bufMeta := b.storageIn(bytesOf(batch.meta()))
	defer bufMeta.release()

	tableSize := uint64(batch.table() * 4)
	bufAlphas := b.storageOut(tableSize)
	defer bufAlphas.release()
	bufLogNorms := b.storageOut(tableSize)
	defer bufLogNorms.release()
	bufCosts := b.storageOut(uint64(batch.B * 4))
	defer bufCosts.release()

	run := b.newEncoder(batch)
	defer run.releaseAll()

	// Log-norms for the whole valid region: cells are independent.
	run.dispatch("transducer_log_norm", logNormShader, batch.table(), 0,
		bufEm, bufPr, bufMeta, bufLogNorms)

	// Alpha wavefront: one dispatch per anti-diagonal.
	for d := 0; d <= batch.T+batch.U-2; d++ {
		run.dispatch("transducer_alpha", alphaShader, batch.B*batch.T, d,
			bufEm, bufPr, bufMeta, bufLogNorms, bufAlphas)
	}

	run.dispatch("transducer_cost", costShader, batch.B, 0,
		bufEm, bufPr, bufMeta, bufLogNorms, bufAlphas, bufCosts)

	run.submit()

	if err := b.readInto(bufCosts, bytesOf(costs)); err != nil {
		return err
	}
	if err := b.readInto(bufAlphas, bytesOf(alphas)); err != nil {
		return err
	}
	return b.readInto(bufLogNorms, bytesOf(logNorms))
}

// LossBackward runs the beta recursion and gradient assembly on the GPU,
// filling egrads (B×T×V) and pgrads (B×U×V). alphas and logNorms must be
// the tables a prior LossForward produced for the same batch.
func (b *Backend) LossBackward(batch *LossBatch, alphas, logNorms, upstream, egrads, pgrads []float32) error {
	bufEm := b.storageIn(bytesOf(batch.Emissions))
	defer bufEm.release()
	bufPr := b.storageIn(bytesOf(batch.Predictions))
	defer bufPr.release()
	bufMeta := b.storageIn(bytesOf(batch.meta()))
	defer bufMeta.release()
	bufAlphas := b.storageIn(bytesOf(alphas))
	defer bufAlphas.release()
	bufLogNorms := b.storageIn(bytesOf(logNorms))
	defer bufLogNorms.release()
	bufUpstream := b.storageIn(bytesOf(upstream))
	defer bufUpstream.release()

	bufBetas := b.storageOut(uint64(batch.table() * 4))
	defer bufBetas.release()
	bufEGrads := b.storageOut(uint64(len(egrads) * 4))
	defer bufEGrads.release()
	bufPGrads := b.storageOut(uint64(len(pgrads) * 4))
	defer bufPGrads.release()

	run := b.newEncoder(batch)
	defer run.releaseAll()

	// Beta wavefront: diagonals in descending order.
	for d := batch.T + batch.U - 2; d >= 0; d-- {
		run.dispatch("transducer_beta", betaShader, batch.B*batch.T, d,
			bufEm, bufPr, bufMeta, bufLogNorms, bufBetas)
	}

	run.dispatch("transducer_egrad", egradShader, len(egrads), 0,
		bufEm, bufPr, bufMeta, bufLogNorms, bufAlphas, bufBetas, bufUpstream, bufEGrads)
	run.dispatch("transducer_pgrad", pgradShader, len(pgrads), 0,
		bufEm, bufPr, bufMeta, bufLogNorms, bufAlphas, bufBetas, bufUpstream, bufPGrads)

	run.submit()

	if err := b.readInto(bufEGrads, bytesOf(egrads)); err != nil {
		return err
	}
	return b.readInto(bufPGrads, bytesOf(pgrads))
}

// encoderRun accumulates compute passes into one command buffer and the
// per-dispatch resources that must outlive submission.
type encoderRun struct {
	backend  *Backend
	batch    *LossBatch
	encoder  *wgpu.CommandEncoder
	deferred []func()
}

func (b *Backend) newEncoder(batch *LossBatch) *encoderRun {
	return &encoderRun{
		backend: b,
		batch:   batch,
		encoder: b.device.CreateCommandEncoder(nil),
	}
}

// dispatch records one compute pass: pipeline, bind group (the given
// buffers in binding order, then the uniform params block as the last
// binding), and a 1-D dispatch covering the given thread count.
func (r *encoderRun) dispatch(name, code string, threads, diag int, buffers ...gbuf) {
	b := r.backend
	pipeline := b.getOrCreatePipeline(name, code)

	params := r.batch.params(diag)
	bufParams := b.createUniformBuffer(params)

	entries := make([]wgpu.BindGroupEntry, 0, len(buffers)+1)
	for i, gb := range buffers {
		//nolint:gosec // binding indices are small
		entries = append(entries, wgpu.BufferBindingEntry(uint32(i), gb.buf, 0, gb.size))
	}
	//nolint:gosec // binding indices are small
	entries = append(entries, wgpu.BufferBindingEntry(uint32(len(buffers)), bufParams, 0, uint64(len(params))))

	bindGroup := b.device.CreateBindGroupSimple(pipeline.GetBindGroupLayout(0), entries)

	pass := r.encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	//nolint:gosec // thread counts are non-negative
	pass.DispatchWorkgroups(uint32((threads+lossWorkgroupSize-1)/lossWorkgroupSize), 1, 1)
	pass.End()

	r.deferred = append(r.deferred, func() {
		bindGroup.Release()
		bufParams.Release()
	})
}

// submit finishes the command buffer and hands it to the queue.
func (r *encoderRun) submit() {
	cmdBuffer := r.encoder.Finish(nil)
	r.backend.queue.Submit(cmdBuffer)
}

// releaseAll frees the per-dispatch resources; call after submit.
func (r *encoderRun) releaseAll() {
	for _, f := range r.deferred {
		f()
	}
	r.deferred = nil
}

// readInto reads a GPU buffer back into the given host byte view.
func (b *Backend) readInto(src gbuf, dst []byte) error {
	data, err := b.readBuffer(src.buf, src.size)
	if err != nil {
		return err
	}
	if copy(dst, data) != len(dst) {
		return fmt.Errorf("webgpu: short readback, want %d bytes got %d", len(dst), len(data))
	}
	return nil
}
