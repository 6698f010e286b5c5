package presence

// Origin tags a document change with where it came from, so subscribers can
// tell a local mutation apart from an imported remote one.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

func (o Origin) String() string {
	if o == OriginRemote {
		return "remote"
	}
	return "local"
}

// Change describes one batch of document mutations delivered to subscribers.
type Change struct {
	Origin Origin
	Keys   []string // participant ids whose records were touched
}

// CursorRecord is one participant's presence entry. At most one live record
// exists per ID.
type CursorRecord struct {
	ID           string
	X            float64
	Y            float64
	Color        string
	Name         string
	LastUpdateMs int64
}

// Document is the capability set the sync engine needs from the replicated
// document. Snapshots are opaque bytes; Import must be commutative and
// idempotent so duplicated or reordered snapshots converge.
type Document interface {
	SetCursor(rec CursorRecord) error
	// Touch refreshes the record's LastUpdateMs in place. Returns false when
	// no record exists for the id.
	Touch(id string, nowMs int64) (bool, error)
	DeleteCursor(id string) error
	Cursor(id string) (CursorRecord, bool, error)
	Cursors() ([]CursorRecord, error)
	// SweepExpired removes every record with nowMs-LastUpdateMs > expireMs
	// and reports the removed ids.
	SweepExpired(nowMs, expireMs int64) ([]string, error)
	ExportSnapshot() ([]byte, error)
	Import(data []byte) error
	Subscribe(fn func(Change))
}
