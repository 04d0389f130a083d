package framegraph

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the frame graph compiler.
var (
	// ErrCyclicDependency is returned when the producer/consumer graph
	// contains a cycle. Nothing is scheduled for such a graph.
	ErrCyclicDependency = errors.New("framegraph: cyclic dependency")

	// ErrNoWorkToDo marks a graph whose passes were all culled.
	// It is never returned as a compile error; see Plan.Empty.
	ErrNoWorkToDo = errors.New("framegraph: no work to do")

	// ErrCritical is the class of invalid graphs: bad references, duplicate
	// producers, mismatched merged passes, reference count underflow.
	ErrCritical = errors.New("framegraph: critical error")

	// ErrTransientResource is returned when the backend fails to create a
	// transient resource while executing a plan.
	ErrTransientResource = errors.New("framegraph: transient resource allocation failed")

	// ErrBuildInProgress is returned when a second frame graph is begun on
	// a context before the first one ended.
	ErrBuildInProgress = errors.New("framegraph: frame graph build already in progress")

	// ErrBuilderClosed is returned when a builder is used after End.
	ErrBuilderClosed = errors.New("framegraph: builder already ended")

	// ErrInvalidResource is returned for references to undeclared resources.
	ErrInvalidResource = errors.New("framegraph: invalid resource reference")

	// ErrInvalidPurpose is returned when a purpose does not fit the resource
	// kind, the queue, or the connection direction.
	ErrInvalidPurpose = errors.New("framegraph: invalid resource purpose")

	// ErrDuplicateProducer is returned when one resource version would get
	// two producers.
	ErrDuplicateProducer = errors.New("framegraph: duplicate producer")

	// ErrGroupMismatch is returned when passes sharing an output key
	// disagree on queue kind or timeline wait stage.
	ErrGroupMismatch = errors.New("framegraph: merged passes disagree on queue")

	// ErrConflictingUsage is returned when one pass needs a resource in two
	// incompatible layouts.
	ErrConflictingUsage = errors.New("framegraph: conflicting resource usage")

	// ErrRefCountUnderflow signals a culling bug: a reference count was
	// decremented below zero.
	ErrRefCountUnderflow = errors.New("framegraph: reference count underflow")

	// ErrTooManyPasses is returned when a plan does not fit the packed
	// submission id: more than MaxBatchPasses passes in one batch or more
	// than MaxSubmissions submissions.
	ErrTooManyPasses = errors.New("framegraph: submission id overflow")

	// ErrMissingProducer is returned when a transient resource is read
	// before any pass writes it.
	ErrMissingProducer = errors.New("framegraph: resource read before written")

	// ErrNotCompiled is returned when executing a plan that failed to compile.
	ErrNotCompiled = errors.New("framegraph: plan is not compiled")

	// ErrNoBackend is returned when executing without a platform backend.
	ErrNoBackend = errors.New("framegraph: no backend configured")

	// ErrStalePlan is returned when executing a plan whose frame arena has
	// been reset since it was compiled.
	ErrStalePlan = errors.New("framegraph: plan arena was reset")

	// ErrPassFailed wraps an error returned by a pass callback.
	ErrPassFailed = errors.New("framegraph: pass callback failed")
)

// ResultFlags is the compile/execute result bitmask kept on a plan.
type ResultFlags uint32

const (
	// ResultCompiled is set on every plan that compiled successfully.
	ResultCompiled ResultFlags = 1 << iota
	ResultCyclicDependency
	ResultNoWorkToDo
	ResultCriticalError
	ResultTransientFailure
)

// fatalFlags stop compilation.
const fatalFlags = ResultCyclicDependency | ResultCriticalError

var resultFlagNames = [...]string{
	"compiled", "cyclic_dependency", "no_work_to_do", "critical_error", "transient_resource_failure",
}

func (f ResultFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for i, name := range resultFlagNames {
		if f&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// Fatal reports whether the flags describe a graph that must not be executed.
func (f ResultFlags) Fatal() bool { return f&fatalFlags != 0 }

// sentinelFor maps a result flag to its sentinel error.
func sentinelFor(f ResultFlags) error {
	switch {
	case f&ResultCyclicDependency != 0:
		return ErrCyclicDependency
	case f&ResultCriticalError != 0:
		return ErrCritical
	case f&ResultTransientFailure != 0:
		return ErrTransientResource
	case f&ResultNoWorkToDo != 0:
		return ErrNoWorkToDo
	}
	return nil
}

// CompileError describes why a frame graph failed to compile.
//
// errors.Is matches both the class sentinel (ErrCyclicDependency,
// ErrCritical) and the specific cause (ErrDuplicateProducer, ...).
type CompileError struct {
	Flags    ResultFlags
	Pass     string
	Resource string
	Err      error
}

func (e *CompileError) Error() string {
	var b strings.Builder
	b.WriteString(sentinelFor(e.Flags).Error())
	if e.Pass != "" {
		fmt.Fprintf(&b, " in pass %q", e.Pass)
	}
	if e.Resource != "" {
		fmt.Fprintf(&b, " on resource %q", e.Resource)
	}
	if e.Err != nil && e.Err != sentinelFor(e.Flags) {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the class sentinel and the specific cause.
func (e *CompileError) Unwrap() []error {
	errs := []error{sentinelFor(e.Flags)}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Severity grades a diagnostic.
type Severity uint8

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	default:
		return "error"
	}
}

// Diagnostic is one message reported while compiling a frame graph.
type Diagnostic struct {
	Severity Severity
	Flags    ResultFlags
	Pass     string
	Resource string
	Message  string
}

func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(d.Severity.String())
	b.WriteString(": ")
	b.WriteString(d.Message)
	if d.Pass != "" {
		fmt.Fprintf(&b, " (pass %q)", d.Pass)
	}
	if d.Resource != "" {
		fmt.Fprintf(&b, " (resource %q)", d.Resource)
	}
	return b.String()
}
