package player

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Kind classifies an engine error.
type Kind int

const (
	// InvalidInput covers malformed playlists, URLs and UTF-8, unknown action
	// ids, a repeated Play and empty variant lists.
	InvalidInput Kind = iota
	// Other covers everything else, including conversion failures that are
	// not input errors.
	Other
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	default:
		return "Other"
	}
}

var (
	// ErrAlreadyStarted is returned by Play on a session that is already playing.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrUnknownAction is returned when a completion does not belong to any
	// outstanding action.
	ErrUnknownAction = errors.New("unknown action id")

	// ErrNoVariants is returned when a master playlist lists no variant stream.
	ErrNoVariants = errors.New("master playlist has no variant streams")

	// ErrNotUTF8 is returned when playlist bytes are not valid UTF-8.
	ErrNotUTF8 = errors.New("playlist is not valid UTF-8")

	// ErrPlaylistType is returned when a playlist of the wrong type arrives,
	// e.g. a master playlist where a media playlist was expected.
	ErrPlaylistType = errors.New("unexpected playlist type")
)

// Location is one entry of an error trace.
type Location struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Message string `json:"message,omitempty"`
}

// Error is the engine error type. Trace grows by one Location every time the
// error crosses a call boundary through Track.
type Error struct {
	Kind  Kind
	Trace []Location
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Reason returns the text of the underlying cause, or "" if there is none.
func (e *Error) Reason() string {
	if e.cause == nil {
		return ""
	}
	return e.cause.Error()
}

// MarshalJSON encodes the error as {"kind", "reason", "trace"}.
func (e *Error) MarshalJSON() ([]byte, error) {
	trace := e.Trace
	if trace == nil {
		trace = []Location{}
	}
	return json.Marshal(struct {
		Kind   string     `json:"kind"`
		Reason string     `json:"reason"`
		Trace  []Location `json:"trace"`
	}{
		Kind:   e.Kind.String(),
		Reason: e.Reason(),
		Trace:  trace,
	})
}

// KindOf reports the Kind of err. Errors that did not originate in the engine
// are Other.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}

// Track records the caller's location on err and returns it. A non-engine
// error is first converted to an Other error. Track(nil) returns nil.
func Track(err error, msg ...any) error {
	if err == nil {
		return nil
	}
	return track(err, 2, msg...)
}

func newError(kind Kind, cause error) *Error {
	e := &Error{Kind: kind, cause: cause}
	e.Trace = append(e.Trace, caller(2, ""))
	return e
}

func errorf(kind Kind, cause error, format string, args ...any) *Error {
	e := &Error{Kind: kind, cause: fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), cause)}
	e.Trace = append(e.Trace, caller(2, ""))
	return e
}

// takeOver converts a collaborator error into an engine error of the given
// kind. Engine errors keep their own kind and trace.
func takeOver(kind Kind, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		e.Trace = append(e.Trace, caller(2, ""))
		return e
	}
	e = &Error{Kind: kind, cause: err}
	e.Trace = append(e.Trace, caller(2, ""))
	return e
}

func track(err error, skip int, msg ...any) error {
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Kind: Other, cause: err}
	}
	var text string
	if len(msg) > 0 {
		text = fmt.Sprint(msg...)
	}
	e.Trace = append(e.Trace, caller(skip+1, text))
	return e
}

func caller(skip int, msg string) Location {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return Location{File: "unknown", Message: msg}
	}
	return Location{
		File:    filepath.Join(filepath.Base(filepath.Dir(file)), filepath.Base(file)),
		Line:    line,
		Message: msg,
	}
}
