// Package framegraph compiles per-frame graphs of GPU passes into
// synchronized, queue-scheduled submission plans and executes them.
//
// # Overview
//
// Application code declares the resources of a frame (transient images and
// buffers, imported resources, the swapchain) and the passes reading and
// writing them. The compiler then
//
//   - checks the graph for cycles and culls passes that contribute to no
//     essential output,
//   - merges passes with identical outputs into final passes,
//   - levels final passes topologically and folds the levels into waves
//     over the graphics, compute and transfer queues,
//   - batches the waves into submissions,
//   - walks every resource's journey to emit acquire and release barriers
//     and cross-queue timeline waits,
//   - plans the creation and destruction of transient resources.
//
// # Quick Start
//
//	fg := framegraph.NewContext(framegraph.WithBackend(backend))
//
//	b, _ := fg.Begin("frame")
//	mesh := b.AddTransientBuffer("MeshBuffer", framegraph.BufferDesc{Size: 1 << 16})
//	surface := b.ImportSwapchain("surface", desc, acquireImage)
//
//	b.BeginPass("Upload", framegraph.QueueTransfer)
//	b.AddOutput(mesh, framegraph.PurposeTransferWrite)
//	b.SetExecute(upload, nil)
//	b.EndPass()
//
//	b.BeginPass("Scene", framegraph.QueueGraphics)
//	b.AddInput(mesh, framegraph.PurposeVertexRead)
//	b.AddOutput(surface, framegraph.PurposeColorWrite, framegraph.WithClearColor(black))
//	b.SetExecute(draw, nil)
//	b.EndPass()
//
//	plan, err := b.End()
//	if err != nil {
//	    return err
//	}
//	return fg.Execute(ctx, plan)
//
// # Caching
//
// Graphs that do not change between frames are built with BeginCached.
// The compiled plan is promoted out of the frame arena and returned again
// for equal keys without compiling.
//
// # Backends
//
// Execution goes through the Backend interface. The backend/halbackend
// package implements it on top of gogpu/wgpu HAL devices and
// backend/trace records the calls for inspection and tests.
//
// # Logging
//
// framegraph logs through log/slog and is silent by default; see SetLogger.
package framegraph
