package atlaspack

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies an Error.
type Kind int

// Error kinds. Every one of them aborts the build it occurs in.
const (
	KindUnknown Kind = iota
	SourceNotFound
	DecodeFailure
	PackingOverflow
	DuplicateFrameIdentifier
	IoFailure
	InvalidConfig
)

var kindNames = [...]string{
	KindUnknown:              "unknown error",
	SourceNotFound:           "source not found",
	DecodeFailure:            "decode failure",
	PackingOverflow:          "packing overflow",
	DuplicateFrameIdentifier: "duplicate frame identifier",
	IoFailure:                "i/o failure",
	InvalidConfig:            "invalid config",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// Error carries the kind of failure along with whatever context is known
// about where it happened.
type Error struct {
	Kind       Kind
	Identifier string // Frame identifier, if any
	Path       string // Source or output path, if any
	Width      int    // Offending dimensions, if any
	Height     int
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Identifier != "" {
		fmt.Fprintf(&b, ": frame %q", e.Identifier)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, ": %s", e.Path)
	}
	if e.Width != 0 || e.Height != 0 {
		fmt.Fprintf(&b, ": %dx%d", e.Width, e.Height)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether any *Error in err's chain has kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func ioFailure(path string, err error) *Error {
	return &Error{Kind: IoFailure, Path: path, Err: err}
}
