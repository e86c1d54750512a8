// Package loader parses the wire JSON machine definition into a
// primitives.MachineConfig: name resolution and structural validation only,
// no symbol binding (that happens at core.NewMachine).
package loader

import "fmt"

// ErrorKind tags a LoadError by the structural problem it names.
type ErrorKind string

const (
	UnknownTarget          ErrorKind = "UnknownTarget"
	CycleInInitial         ErrorKind = "CycleInInitial"
	InvalidParallelInitial ErrorKind = "InvalidParallelInitial"
	DuplicateChild         ErrorKind = "DuplicateChild"
	EmptyCompound          ErrorKind = "EmptyCompound"
	MalformedDuration      ErrorKind = "MalformedDuration"
	UnknownEventSchema     ErrorKind = "UnknownEventSchema"
	MalformedJSON          ErrorKind = "MalformedJSON"
)

// LoadError is the error type returned by Load for any structural problem
// in the wire definition.
type LoadError struct {
	Kind ErrorKind
	Path string // dotted state path or event name, when known
	Msg  string
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("loader: %s at %q: %s", e.Kind, e.Path, e.Msg)
	}
	return fmt.Sprintf("loader: %s: %s", e.Kind, e.Msg)
}

func newErr(kind ErrorKind, path, format string, args ...any) *LoadError {
	return &LoadError{Kind: kind, Path: path, Msg: fmt.Sprintf(format, args...)}
}
