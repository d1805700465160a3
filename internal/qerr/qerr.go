// Package qerr defines the structured error kinds surfaced by the query
// core. Every failure named here carries enough structure (kind plus the
// offending identifiers) for a caller to act on it; none of them is
// retried automatically.
package qerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a query-core failure.
type Kind string

const (
	// UnsupportedFormat: the file extension maps to no known source format.
	UnsupportedFormat Kind = "UNSUPPORTED_FORMAT"

	// UnreadableSource: the file cannot be parsed at all (corrupt header,
	// unsupported encoding, truncated container).
	UnreadableSource Kind = "UNREADABLE_SOURCE"

	// EmptySource: the file parsed but held zero data rows. Non-fatal; the
	// source is still registered with an all-unknown schema.
	EmptySource Kind = "EMPTY_SOURCE"

	// UnresolvedReference: a source or column reference does not resolve
	// against any registered schema.
	UnresolvedReference Kind = "UNRESOLVED_REFERENCE"

	// AmbiguousIntent: the request cannot be resolved to a single intent
	// (e.g. a multi-source request without the NL capability).
	AmbiguousIntent Kind = "AMBIGUOUS_INTENT"

	// AmbiguousJoinKey: more than one disjoint candidate join key exists
	// and the intent named none.
	AmbiguousJoinKey Kind = "AMBIGUOUS_JOIN_KEY"

	// IncompatibleJoinKeys: the declared or inferred key pair's types are
	// incompatible and no implicit coercion is defined.
	IncompatibleJoinKeys Kind = "INCOMPATIBLE_JOIN_KEYS"

	// JoinKeyMismatch: row data violated the planned key's type at
	// execution time. Partial; affected rows are skipped and counted.
	JoinKeyMismatch Kind = "JOIN_KEY_MISMATCH"

	// AggregationTypeError: an aggregate function was applied to a column
	// whose type does not support it.
	AggregationTypeError Kind = "AGGREGATION_TYPE"
)

// Error is the structured error type for all named query-core failures.
type Error struct {
	Kind    Kind
	Message string

	// Source and Column identify the offending reference, when one exists.
	Source string
	Column string

	// Candidates lists the conflicting options for ambiguity errors
	// (candidate join keys, candidate sources).
	Candidates []string

	// Err is the wrapped cause, if any.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Source != "" {
		fmt.Fprintf(&b, " (source=%s", e.Source)
		if e.Column != "" {
			fmt.Fprintf(&b, ", column=%s", e.Column)
		}
		b.WriteString(")")
	} else if e.Column != "" {
		fmt.Fprintf(&b, " (column=%s)", e.Column)
	}
	if len(e.Candidates) > 0 {
		fmt.Fprintf(&b, " candidates=[%s]", strings.Join(e.Candidates, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a structured error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a structured error of the given kind wrapping a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err (or anything it wraps) is a query-core error
// of the given kind.
func IsKind(err error, kind Kind) bool {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind == kind
	}
	return false
}

// KindOf returns the kind of err if it is a query-core error, or "".
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return ""
}
