package analysis

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds returned by the analysis core. Use errors.Is to match them.
var (
	ErrInsufficientData     = errors.New("insufficient data")
	ErrInvalidWindow        = errors.New("invalid window")
	ErrInvalidSelection     = errors.New("invalid selection")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrEmptySeries          = errors.New("empty series")
)

// Error carries the context needed to render a user-facing message for a
// failed analysis step.
type Error struct {
	Kind     error
	Asset    AssetID
	Required int
	Actual   int
	Message  string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Asset != "" {
		fmt.Fprintf(&b, " (asset %s)", e.Asset)
	}
	if e.Required != 0 || e.Actual != 0 {
		fmt.Fprintf(&b, " (required %d, got %d)", e.Required, e.Actual)
	}
	return b.String()
}

// Unwrap exposes the error kind.
func (e *Error) Unwrap() error {
	return e.Kind
}

// KindName returns a stable snake_case name for an error kind, or "" when
// err is not an analysis error.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, ErrInvalidWindow):
		return "invalid_window"
	case errors.Is(err, ErrInvalidSelection):
		return "invalid_selection"
	case errors.Is(err, ErrInvalidConfiguration):
		return "invalid_configuration"
	case errors.Is(err, ErrEmptySeries):
		return "empty_series"
	default:
		return ""
	}
}

func insufficientData(required, actual int, format string, args ...interface{}) error {
	return &Error{Kind: ErrInsufficientData, Required: required, Actual: actual, Message: fmt.Sprintf(format, args...)}
}

func invalidWindow(window, rows int, format string, args ...interface{}) error {
	return &Error{Kind: ErrInvalidWindow, Required: window, Actual: rows, Message: fmt.Sprintf(format, args...)}
}

func invalidSelection(asset AssetID, format string, args ...interface{}) error {
	return &Error{Kind: ErrInvalidSelection, Asset: asset, Message: fmt.Sprintf(format, args...)}
}
