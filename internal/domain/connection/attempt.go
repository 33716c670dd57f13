package connection

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"bankbridge/internal/shared/fault"
)

// Status is a state of the connection state machine.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusAuthenticating Status = "authenticating"
	StatusReady          Status = "ready"
	StatusSubmitting     Status = "submitting"
	StatusPolling        Status = "polling"
	StatusConnected      Status = "connected"
	StatusError          Status = "error"
)

// Terminal reports whether s is a terminal state for an attempt.
func (s Status) Terminal() bool {
	return s == StatusConnected || s == StatusError
}

// Snapshot is the sanitized view of an attempt exposed to observers. It
// never carries credentials or raw aggregator payloads.
type Snapshot struct {
	AttemptID     string
	InstitutionID string
	Status        Status
	ConnectionID  string
	ErrorKind     fault.Kind
	ErrorDetail   string
}

// Attempt is the handle returned by Submit. Observers follow it through
// Updates or Done; the handle itself holds no credential material.
type Attempt struct {
	id            string
	institutionID string

	mu           sync.Mutex
	status       Status
	connectionID string
	errKind      fault.Kind
	errDetail    string

	updates chan Snapshot
	done    chan struct{}
}

func newAttempt(institutionID string) *Attempt {
	return &Attempt{
		id:            uuid.NewString(),
		institutionID: institutionID,
		status:        StatusReady,
		updates:       make(chan Snapshot, 16),
		done:          make(chan struct{}),
	}
}

// ID returns the correlation id assigned to this attempt.
func (a *Attempt) ID() string {
	return a.id
}

// InstitutionID returns the institution this attempt targets.
func (a *Attempt) InstitutionID() string {
	return a.institutionID
}

// Snapshot returns the current sanitized state of the attempt.
func (a *Attempt) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// Updates returns a channel of state snapshots. The channel is closed once
// the attempt reaches a terminal state. Slow observers may miss intermediate
// snapshots; the terminal snapshot is always retrievable via Snapshot.
func (a *Attempt) Updates() <-chan Snapshot {
	return a.updates
}

// Done returns a channel closed when the attempt reaches a terminal state.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Err returns the terminal failure of the attempt, or nil while it is still
// running or after it connected.
func (a *Attempt) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status != StatusError {
		return nil
	}
	if a.errKind == "" {
		return errors.New(a.errDetail)
	}
	return fault.New(a.errKind, a.errDetail)
}

func (a *Attempt) snapshotLocked() Snapshot {
	return Snapshot{
		AttemptID:     a.id,
		InstitutionID: a.institutionID,
		Status:        a.status,
		ConnectionID:  a.connectionID,
		ErrorKind:     a.errKind,
		ErrorDetail:   a.errDetail,
	}
}

// publishLocked sends the current snapshot without blocking; observers that
// lag simply miss intermediate states.
func (a *Attempt) publishLocked() {
	select {
	case a.updates <- a.snapshotLocked():
	default:
	}
}

func (a *Attempt) setStatus(s Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = s
	a.publishLocked()
}

func (a *Attempt) setConnectionID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectionID = id
}

func (a *Attempt) finishConnected(connectionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectionID = connectionID
	a.status = StatusConnected
	a.publishLocked()
	close(a.updates)
	close(a.done)
}

func (a *Attempt) finishError(kind fault.Kind, detail string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errKind = kind
	a.errDetail = detail
	a.status = StatusError
	a.publishLocked()
	close(a.updates)
	close(a.done)
}
