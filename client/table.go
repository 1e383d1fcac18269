package client

import (
	"sync"
	"time"
)

// State is the lifecycle position of a pending call. Every state but StatePending is terminal.
type State int

const (
	StatePending State = iota
	StateResolved
	StateTimedOut
	StateConnectionClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateResolved:
		return "Resolved"
	case StateTimedOut:
		return "TimedOut"
	case StateConnectionClosed:
		return "ConnectionClosed"
	default:
		return "Unknown"
	}
}

// PendingCall is one outstanding request sent by this endpoint.
type PendingCall struct {
	MessageID string
	Action    string
	IssuedAt  time.Time
	Deadline  time.Time

	state  State // guarded by Table.mu
	future *Future
}

// Table tracks the calls awaiting a response on one connection.
//
// Every insert and removal goes through one mutex. Removal is the only way to obtain
// the right to complete a call's future, so whichever path removes an entry first
// (response, timeout or close) is the single writer; the others find nothing.
type Table struct {
	mu      sync.Mutex
	entries map[string]*PendingCall
	strict  bool // at most one outstanding call
	closed  bool
}

// NewTable returns an empty table. With strict set, Insert refuses a second entry.
func NewTable(strict bool) *Table {
	return &Table{
		entries: make(map[string]*PendingCall),
		strict:  strict,
	}
}

// Insert registers pc. It fails without modifying the table when the table is closed,
// when strict mode already holds a call, or when the message id is in use.
func (t *Table) Insert(pc *PendingCall) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrConnectionClosed
	}
	if _, ok := t.entries[pc.MessageID]; ok {
		return ErrDuplicateMessageID
	}
	if t.strict && len(t.entries) > 0 {
		return ErrPipelineFull
	}
	pc.state = StatePending
	t.entries[pc.MessageID] = pc
	return nil
}

// Take removes the entry for id and moves it to the terminal state to.
// The caller that gets ok == true owns the completion of the entry's future.
func (t *Table) Take(id string, to State) (*PendingCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pc, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	delete(t.entries, id)
	pc.state = to
	return pc, true
}

// TakeExpired removes every entry whose deadline is not after now.
func (t *Table) TakeExpired(now time.Time) []*PendingCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []*PendingCall
	for id, pc := range t.entries {
		if now.Before(pc.Deadline) {
			continue
		}
		delete(t.entries, id)
		pc.state = StateTimedOut
		expired = append(expired, pc)
	}
	return expired
}

// Close refuses further inserts and removes every remaining entry.
// A second Close returns nothing.
func (t *Table) Close() []*PendingCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	drained := make([]*PendingCall, 0, len(t.entries))
	for id, pc := range t.entries {
		delete(t.entries, id)
		pc.state = StateConnectionClosed
		drained = append(drained, pc)
	}
	return drained
}

// Len returns the number of pending calls.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// State returns the state of pc as recorded by the table.
func (t *Table) State(pc *PendingCall) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return pc.state
}
