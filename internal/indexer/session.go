package indexer

import (
	"context"
	"sync"
	"time"

	"smart-gallery/internal/progress"
)

// State is the lifecycle state of a sync session.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ItemFailure records why one file could not be fully processed. A failed
// preview still leaves the file catalogued.
type ItemFailure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Result is the terminal outcome of a session. Every caller waiting on the
// same session receives the same value.
type Result struct {
	SessionID string        `json:"sessionId"`
	FolderKey string        `json:"folderKey"`
	State     State         `json:"state"`
	Processed int           `json:"processed"`
	Total     int           `json:"total"`
	Deleted   int           `json:"deleted"`
	Failures  []ItemFailure `json:"failures,omitempty"`
	Err       error         `json:"-"`
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	ID         string        `json:"sessionId"`
	FolderKey  string        `json:"folderKey"`
	Mode       Mode          `json:"mode"`
	State      State         `json:"state"`
	Total      int           `json:"total"`
	Processed  int           `json:"processed"`
	Failures   []ItemFailure `json:"failures,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Session is one sync run for a folder key. It is never persisted.
type Session struct {
	ID        string
	FolderKey string
	Mode      Mode
	CreatedAt time.Time

	mu         sync.Mutex
	state      State
	total      int
	processed  int
	deleted    int
	failures   []ItemFailure
	finishedAt time.Time
	err        error

	progress *progress.Channel
	done     chan struct{}
	result   Result
}

func newSession(id, key string, mode Mode, idleTimeout time.Duration, onClose func()) *Session {
	return &Session{
		ID:        id,
		FolderKey: key,
		Mode:      mode,
		CreatedAt: time.Now(),
		state:     StateIdle,
		progress:  progress.New(idleTimeout, onClose),
		done:      make(chan struct{}),
	}
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := SessionInfo{
		ID:        s.ID,
		FolderKey: s.FolderKey,
		Mode:      s.Mode,
		State:     s.state,
		Total:     s.total,
		Processed: s.processed,
		Failures:  append([]ItemFailure(nil), s.failures...),
		CreatedAt: s.CreatedAt,
	}
	if !s.finishedAt.IsZero() {
		t := s.finishedAt
		info.FinishedAt = &t
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	return info
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe attaches a progress listener.
func (s *Session) Subscribe() (<-chan progress.Event, func()) {
	return s.progress.Subscribe()
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session finishes or ctx is done.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		return s.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Session) start(total int) {
	s.mu.Lock()
	s.state = StateRunning
	s.total = total
	s.mu.Unlock()
}

func (s *Session) setTotal(total int) {
	s.mu.Lock()
	s.total = total
	s.mu.Unlock()
}

// record counts one finished item and returns the new processed count.
func (s *Session) record(f *ItemFailure) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	if f != nil {
		s.failures = append(s.failures, *f)
	}
	return s.processed
}

func (s *Session) addDeleted(n int) {
	s.mu.Lock()
	s.deleted += n
	s.mu.Unlock()
}

func (s *Session) publish(phase progress.Phase, msg string) {
	s.mu.Lock()
	ev := progress.Event{
		SessionID: s.ID,
		FolderKey: s.FolderKey,
		Processed: s.processed,
		Total:     s.total,
		Phase:     phase,
		Message:   msg,
		Failures:  len(s.failures),
		State:     string(s.state),
	}
	s.mu.Unlock()
	s.progress.Publish(ev)
}

// finish moves the session to its terminal state exactly once.
func (s *Session) finish(err error) Result {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return s.result
	}
	s.state = StateCompleted
	if err != nil {
		s.state = StateFailed
	}
	s.err = err
	s.finishedAt = time.Now()
	s.result = Result{
		SessionID: s.ID,
		FolderKey: s.FolderKey,
		State:     s.state,
		Processed: s.processed,
		Total:     s.total,
		Deleted:   s.deleted,
		Failures:  append([]ItemFailure(nil), s.failures...),
		Err:       err,
	}
	ev := progress.Event{
		SessionID: s.ID,
		FolderKey: s.FolderKey,
		Processed: s.processed,
		Total:     s.total,
		Phase:     progress.PhaseDone,
		Failures:  len(s.failures),
		Done:      true,
		State:     string(s.state),
	}
	if err != nil {
		ev.Message = err.Error()
	}
	res := s.result
	s.mu.Unlock()

	s.progress.Publish(ev)
	close(s.done)
	return res
}
