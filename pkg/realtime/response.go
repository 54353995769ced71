package realtime

import (
	"sort"
	"sync"
)

// ResponseUnit is one in-progress or completed model turn, identified by the
// server-issued response id.
//
// Audio is assembled from ordered delta events keyed by content index and
// held back until the corresponding audio-done event arrives, so a turn that
// is later invalidated never reaches the playback sink. Text is taken only
// from the item-completed event: incremental text deltas can split multi-byte
// sequences across frame boundaries and are discarded on arrival.
//
// At most one ResponseUnit is active per session. Units are created on
// response.created, destroyed on response.done, and discarded outright when
// the connection drops — a half-assembled turn cannot be resumed.
type ResponseUnit struct {
	// ID is the server-issued response id.
	ID string

	mu    sync.Mutex
	audio map[int][][]byte // content index → deltas in arrival order
	text  string
	done  bool
}

// NewResponseUnit creates an empty unit for the given server response id.
func NewResponseUnit(id string) *ResponseUnit {
	return &ResponseUnit{
		ID:    id,
		audio: make(map[int][][]byte),
	}
}

// AddAudioDelta queues one decoded PCM delta under its content index.
func (r *ResponseUnit) AddAudioDelta(contentIndex int, pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[contentIndex] = append(r.audio[contentIndex], pcm)
}

// FlushAudio concatenates and removes the queued deltas for one content
// index. It returns nil when nothing is queued.
func (r *ResponseUnit) FlushAudio(contentIndex int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	deltas := r.audio[contentIndex]
	if len(deltas) == 0 {
		return nil
	}
	delete(r.audio, contentIndex)

	return concat(deltas)
}

// Audio returns the full reassembled audio across all still-queued content
// indexes, in ascending index order.
func (r *ResponseUnit) Audio() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	indexes := make([]int, 0, len(r.audio))
	for idx := range r.audio {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var out []byte
	for _, idx := range indexes {
		out = append(out, concat(r.audio[idx])...)
	}
	return out
}

// PurgeAudio drops every queued-but-unflushed delta. Used on interruption.
func (r *ResponseUnit) PurgeAudio() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio = make(map[int][][]byte)
}

// QueuedDeltas reports the number of deltas still queued across all indexes.
func (r *ResponseUnit) QueuedDeltas() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, deltas := range r.audio {
		n += len(deltas)
	}
	return n
}

// SetText records the complete message text reported by the item-completed
// event.
func (r *ResponseUnit) SetText(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text = text
}

// Text returns the completed text, or "" while the turn is still streaming.
func (r *ResponseUnit) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.text
}

// MarkDone flags the unit as completed.
func (r *ResponseUnit) MarkDone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = true
}

// Done reports whether response.done has been observed for this unit.
func (r *ResponseUnit) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func concat(deltas [][]byte) []byte {
	size := 0
	for _, d := range deltas {
		size += len(d)
	}
	out := make([]byte, 0, size)
	for _, d := range deltas {
		out = append(out, d...)
	}
	return out
}
