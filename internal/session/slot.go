package session

import "sync"

type slotState int

const (
	slotPending slotState = iota
	slotValue
	slotError
	slotCancelled
)

// slot holds the single result of a Command. The first resolution wins;
// later ones are ignored.
type slot struct {
	mu    sync.Mutex
	state slotState
	value interface{}
	err   error
	done  chan struct{}
}

func newSlot() *slot {
	return &slot{done: make(chan struct{})}
}

func (s *slot) resolve(state slotState, value interface{}, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != slotPending {
		return false
	}

	s.state = state
	s.value = value
	s.err = err
	close(s.done)

	return true
}

func (s *slot) finish(value interface{}) bool {
	return s.resolve(slotValue, value, nil)
}

func (s *slot) fail(err error) bool {
	return s.resolve(slotError, nil, err)
}

// cancel marks the slot as no longer wanted.
func (s *slot) cancel() bool {
	return s.resolve(slotCancelled, nil, nil)
}

func (s *slot) Resolved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state != slotPending
}

func (s *slot) result() (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.value, s.err
}
