// Package halbackend executes frame graph plans on a gogpu/wgpu HAL device.
//
// Transient images become hal textures with a default view, transient
// buffers become hal buffers. Image barriers are recorded as texture usage
// transitions and render scopes as hal render passes. The device exposes a
// single queue, so every queue kind records onto it and submission order
// satisfies cross-queue waits.
//
// Frame completion is tracked with one fence whose value grows by one per
// fence-signalling batch; a frame maps to the highest value it signalled.
// Resources destroyed while a frame is in flight, and the command
// buffers it submitted, are released once WaitFrame observes that frame's
// fence value.
//
// Importing the package registers the "hal" backend, which opens a
// headless noop device. Applications with a real device use New.
package halbackend
