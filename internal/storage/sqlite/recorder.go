package sqlite

import (
	"context"
	"sync"

	"github.com/dyike/CareMesh/internal/observability"
	"github.com/dyike/CareMesh/models"
)

type recordKind int

const (
	recordEvent recordKind = iota + 1
	recordArchive
)

type record struct {
	kind     recordKind
	event    models.Event
	snapshot models.SessionSnapshot
}

// Recorder persists session progress in the background so that writers on
// the negotiation path never wait on disk.
type Recorder struct {
	store *Store

	mu     sync.Mutex
	closed bool
	queue  chan record
	wg     sync.WaitGroup
}

func NewRecorder(store *Store, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 512
	}
	r := &Recorder{store: store, queue: make(chan record, buffer)}
	r.wg.Add(1)
	go r.loop()
	return r
}

func (r *Recorder) loop() {
	defer r.wg.Done()
	ctx := context.Background()
	for rec := range r.queue {
		switch rec.kind {
		case recordEvent:
			if err := r.store.InsertEvent(ctx, rec.event); err != nil {
				observability.Logger().Warn("record event", "session_id", rec.event.SessionID, "seq", rec.event.Seq, "error", err)
			}
		case recordArchive:
			if err := r.store.ArchiveSession(ctx, rec.snapshot); err != nil {
				observability.Logger().Warn("archive session", "session_id", rec.snapshot.ID, "error", err)
			}
		}
	}
}

func (r *Recorder) enqueue(rec record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		observability.Logger().Warn("recorder queue full, dropping record", "kind", rec.kind)
	}
}

func (r *Recorder) OnEvent(ev models.Event) {
	r.enqueue(record{kind: recordEvent, event: ev})
}

func (r *Recorder) OnFinish(snap models.SessionSnapshot) {
	r.enqueue(record{kind: recordArchive, snapshot: snap})
}

// Close drains queued records and stops the writer.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
}
