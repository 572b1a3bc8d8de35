package strategy

import (
	"sort"
	"sync"
)

// Lifecycle tracks the per-symbol position state. Invalid transitions leave the
// state unchanged.
type Lifecycle struct {
	mu     sync.Mutex
	states map[string]State
}

func NewLifecycle() *Lifecycle {
	return &Lifecycle{states: make(map[string]State)}
}

func (l *Lifecycle) State(symbol string) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.states[symbol]; ok {
		return st
	}
	return StateAbsent
}

func (l *Lifecycle) Apply(symbol string, event Event) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	current, ok := l.states[symbol]
	if !ok {
		current = StateAbsent
	}
	next := nextState(current, event)
	if next == StateAbsent {
		delete(l.states, symbol)
	} else {
		l.states[symbol] = next
	}
	return next
}

// Set forces a state, used when restoring positions from a snapshot.
func (l *Lifecycle) Set(symbol string, st State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st == StateAbsent {
		delete(l.states, symbol)
		return
	}
	l.states[symbol] = st
}

func (l *Lifecycle) Tracked() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.states))
	for symbol := range l.states {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func nextState(current State, event Event) State {
	switch current {
	case StateAbsent:
		if event == EventEnter {
			return StateOpening
		}
	case StateOpening:
		if event == EventFilled {
			return StateOpen
		}
		if event == EventAbort {
			return StateAbsent
		}
	case StateOpen:
		if event == EventExit {
			return StateClosing
		}
	case StateClosing:
		if event == EventDone {
			return StateAbsent
		}
		if event == EventAbort {
			return StateOpen
		}
	}
	return current
}
