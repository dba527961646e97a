package trace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/antler-rules/antler"
)

// Recorder appends one session's events to the store. It implements
// antler.Observer; attach it with antler.WithObserver.
//
// The Observer contract has no error channel — the engine never depends
// on what a sink does. The Recorder therefore records its first write
// failure and drops subsequent events; callers check Err after the run.
type Recorder struct {
	store   *Store
	session string

	mu  sync.Mutex
	err error
}

// NewRecorder creates a recorder for one session. The session token and
// flow name are registered before the first event arrives.
func (s *Store) NewRecorder(ctx context.Context, session, flow string) (*Recorder, error) {
	if err := s.registerSession(ctx, session, flow); err != nil {
		return nil, err
	}
	return &Recorder{store: s, session: session}, nil
}

// OnEvent implements antler.Observer.
func (r *Recorder) OnEvent(e antler.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	if err := r.write(e); err != nil {
		r.err = err
		slog.Warn("trace recording stopped",
			"session", r.session,
			"seq", e.Seq,
			"error", err,
		)
	}
}

// Err returns the first write failure, if any. A non-nil result means
// the log is truncated at the failing event.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) write(e antler.Event) error {
	var payload, hash string
	if e.Payload != nil {
		canon, err := MarshalCanonical(e.Payload)
		if err != nil {
			return fmt.Errorf("canonicalize payload: %w", err)
		}
		payload = string(canon)
		hash = HashCanonical(canon)
	}

	// The UNIQUE(session, seq, kind) constraint with DO NOTHING makes a
	// replayed event stream idempotent.
	_, err := r.store.db.ExecContext(context.Background(), `
		INSERT INTO events
		(session, seq, kind, fact_id, type_tag, rule, agenda_group, payload, payload_hash, err)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session, seq, kind) DO NOTHING
	`,
		r.session,
		e.Seq,
		string(e.Kind),
		uint64(e.FactID),
		e.TypeTag,
		e.Rule,
		e.Group,
		payload,
		hash,
		e.Err,
	)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
