package jobrun

import "github.com/personadesk/runstream/internal/correlate"

// Buffer caps per job family. Short design sessions keep less scrollback
// than long-running imports.
const (
	ShortSessionCap = 500
	LongSessionCap  = 5000
)

// Kind describes one family of backend jobs: which bus channels carry its
// events, how its payloads name the run identifier, and how the run
// lifecycle is tuned for it.
type Kind struct {
	// Name labels the kind in logs and API payloads.
	Name string
	// Channels names the progress/status channels and the id field.
	Channels correlate.Channels
	// BufferCap bounds the output line buffer.
	BufferCap int
	// AllowInput enables the awaiting_input phase. Kinds without it
	// treat an awaiting_input status as non-terminal noise.
	AllowInput bool
	// DefaultError is surfaced when a failed status omits a message.
	DefaultError string
}
