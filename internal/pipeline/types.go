package pipeline

import "fmt"

// Chunk is one unit of pipeline data. A chunk may be made of several
// memory segments; Segments maps them into byte views that stay valid until
// the Render call returns.
type Chunk interface {
	Segments() ([][]byte, error)
}

// Bytes is a single-segment chunk.
type Bytes []byte

// Segments implements Chunk.
func (b Bytes) Segments() ([][]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return [][]byte{b}, nil
}

// MultiSegment is a chunk made of several segments, rendered in order.
type MultiSegment [][]byte

// Segments implements Chunk.
func (m MultiSegment) Segments() ([][]byte, error) {
	return m, nil
}

// EventType identifies a pipeline event.
type EventType int

const (
	EventStreamStart EventType = iota
	EventSegment
	EventFlush
	EventEOS
)

func (t EventType) String() string {
	switch t {
	case EventStreamStart:
		return "stream-start"
	case EventSegment:
		return "segment"
	case EventFlush:
		return "flush"
	case EventEOS:
		return "eos"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is an in-band pipeline signal.
type Event struct {
	Type EventType
}

// Format is a position query format.
type Format int

const (
	FormatDefault Format = iota
	FormatBytes
	FormatTime
	FormatBuffers
)

// State is the coordinator lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateStarted
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
