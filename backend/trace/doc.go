// Package trace provides a frame graph backend that records every call as
// a typed command instead of talking to a device.
//
// It backs dry runs of compiled plans and tests of the execution engine:
//
//	tb := trace.New()
//	fg := framegraph.NewContext(framegraph.WithBackend(tb))
//	...
//	fg.Execute(ctx, plan)
//	tb.Dump(os.Stdout)
//
// Allocation failures can be injected with FailCreate.
//
// The package registers itself under backend.BackendTrace.
package trace
