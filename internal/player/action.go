package player

import (
	"encoding/json"
	"fmt"
	"time"
)

// StreamID identifies the handler generation that issues actions. Every media
// playlist handler gets its own StreamID.
type StreamID uint32

// ActionID correlates a host completion with the action that requested it.
//
// The upper 32 bits hold the StreamID of the issuing handler, the lower 32
// bits a sequence number private to that stream. Comparing two ids as
// integers therefore orders them by (stream, sequence).
type ActionID uint64

const (
	scopeShift   = 32
	sequenceMask = 1<<scopeShift - 1
)

// NewActionID composes an id from its stream and sequence fields.
func NewActionID(stream StreamID, seq uint32) ActionID {
	return ActionID(uint64(stream)<<scopeShift | uint64(seq))
}

// Stream returns the id's stream field.
func (id ActionID) Stream() StreamID {
	return StreamID(uint64(id) >> scopeShift)
}

// Sequence returns the id's per-stream sequence field.
func (id ActionID) Sequence() uint32 {
	return uint32(uint64(id) & sequenceMask)
}

func (id ActionID) String() string {
	return fmt.Sprintf("%d:%d", id.Stream(), id.Sequence())
}

// ActionType names the effect an Action requests.
type ActionType string

const (
	// FetchData asks the host to fetch the bytes at URL and report them with
	// HandleData.
	FetchData ActionType = "FetchData"
	// SetTimeout asks the host to wait Duration and then call HandleTimeout.
	SetTimeout ActionType = "SetTimeout"
)

// Action is an effect the engine asks its host to perform. Exactly one of URL
// and Duration is meaningful, depending on Type.
type Action struct {
	Type     ActionType
	ID       ActionID
	URL      string
	Duration time.Duration
}

type fetchDataJSON struct {
	Type     ActionType `json:"type"`
	ActionID uint64     `json:"action_id"`
	URL      string     `json:"url"`
}

type setTimeoutJSON struct {
	Type     ActionType `json:"type"`
	ActionID uint64     `json:"action_id"`
	Duration int64      `json:"duration"`
}

// MarshalJSON encodes the action as a tagged record. Durations are encoded in
// whole milliseconds.
func (a Action) MarshalJSON() ([]byte, error) {
	switch a.Type {
	case FetchData:
		return json.Marshal(fetchDataJSON{Type: a.Type, ActionID: uint64(a.ID), URL: a.URL})
	case SetTimeout:
		return json.Marshal(setTimeoutJSON{Type: a.Type, ActionID: uint64(a.ID), Duration: a.Duration.Milliseconds()})
	default:
		return nil, fmt.Errorf("unknown action type %q", a.Type)
	}
}

// ActionFactory allocates actions for one stream. Ids are handed out in
// strictly increasing order for the first 2^32 allocations; the sequence then
// wraps to 0 and the id keeps its stream.
type ActionFactory struct {
	next ActionID
}

// NewActionFactory returns a factory whose ids carry the given stream.
func NewActionFactory(stream StreamID) *ActionFactory {
	return &ActionFactory{next: NewActionID(stream, 0)}
}

// Stream returns the stream the factory allocates for.
func (f *ActionFactory) Stream() StreamID {
	return f.next.Stream()
}

// Fetch returns a FetchData action for url.
func (f *ActionFactory) Fetch(url string) Action {
	return Action{Type: FetchData, ID: f.allocate(), URL: url}
}

// SetTimeout returns a SetTimeout action for d.
func (f *ActionFactory) SetTimeout(d time.Duration) Action {
	return Action{Type: SetTimeout, ID: f.allocate(), Duration: d}
}

func (f *ActionFactory) allocate() ActionID {
	id := f.next
	f.next = NewActionID(id.Stream(), id.Sequence()+1)
	return id
}
