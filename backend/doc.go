// Package backend keeps the registry of platform backends that execute
// compiled frame graph plans.
//
// # Backend Registration
//
// Backends register a factory from init(), so importing a backend package
// for its side effects makes it available by name:
//
//	import _ "github.com/gogpu/framegraph/backend/trace"
//
//	b, err := backend.New(backend.BackendTrace)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Close()
//	fg := framegraph.NewContext(framegraph.WithBackend(b))
//
// # Backend Selection
//
// Default returns the best registered backend: the HAL backend when a
// device can be opened, the trace backend otherwise.
package backend
