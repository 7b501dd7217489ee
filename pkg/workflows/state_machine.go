package workflows

import "fmt"

// Transition is one row of a transition table: applying Event in From moves to
// To and carries an Effect for the caller to apply.
type Transition[S comparable, E comparable, X any] struct {
	From   S
	Event  E
	To     S
	Effect X
}

type edge[S comparable, E comparable] struct {
	from  S
	event E
}

// StateMachine is a closed transition table over a finite set of states and
// events. Every (state, event) pair not listed is illegal.
type StateMachine[S comparable, E comparable, X any] struct {
	states      []S
	events      []E
	transitions map[edge[S, E]]Transition[S, E, X]
}

// NewStateMachine builds a table and rejects rows that mention unknown states
// or events, or that define the same (state, event) pair twice.
func NewStateMachine[S comparable, E comparable, X any](states []S, events []E, rows ...Transition[S, E, X]) (*StateMachine[S, E, X], error) {
	knownStates := make(map[S]struct{}, len(states))
	for _, s := range states {
		if _, dup := knownStates[s]; dup {
			return nil, fmt.Errorf("state %v declared twice", s)
		}
		knownStates[s] = struct{}{}
	}
	knownEvents := make(map[E]struct{}, len(events))
	for _, e := range events {
		if _, dup := knownEvents[e]; dup {
			return nil, fmt.Errorf("event %v declared twice", e)
		}
		knownEvents[e] = struct{}{}
	}

	sm := &StateMachine[S, E, X]{
		states:      append([]S(nil), states...),
		events:      append([]E(nil), events...),
		transitions: make(map[edge[S, E]]Transition[S, E, X], len(rows)),
	}
	for _, row := range rows {
		if _, ok := knownStates[row.From]; !ok {
			return nil, fmt.Errorf("transition from unknown state %v", row.From)
		}
		if _, ok := knownStates[row.To]; !ok {
			return nil, fmt.Errorf("transition to unknown state %v", row.To)
		}
		if _, ok := knownEvents[row.Event]; !ok {
			return nil, fmt.Errorf("transition on unknown event %v", row.Event)
		}
		key := edge[S, E]{from: row.From, event: row.Event}
		if _, dup := sm.transitions[key]; dup {
			return nil, fmt.Errorf("transition %v --%v--> defined twice", row.From, row.Event)
		}
		sm.transitions[key] = row
	}
	return sm, nil
}

// MustNewStateMachine is NewStateMachine for package-level tables.
func MustNewStateMachine[S comparable, E comparable, X any](states []S, events []E, rows ...Transition[S, E, X]) *StateMachine[S, E, X] {
	sm, err := NewStateMachine(states, events, rows...)
	if err != nil {
		panic(err)
	}
	return sm
}

// Lookup returns the transition for event in state from.
func (sm *StateMachine[S, E, X]) Lookup(from S, event E) (Transition[S, E, X], bool) {
	t, ok := sm.transitions[edge[S, E]{from: from, event: event}]
	return t, ok
}

// IsKnownEvent reports whether event was declared.
func (sm *StateMachine[S, E, X]) IsKnownEvent(event E) bool {
	for _, e := range sm.events {
		if e == event {
			return true
		}
	}
	return false
}

// IsKnownState reports whether state was declared.
func (sm *StateMachine[S, E, X]) IsKnownState(state S) bool {
	for _, s := range sm.states {
		if s == state {
			return true
		}
	}
	return false
}

// CanTransition checks if any event moves from to to.
func (sm *StateMachine[S, E, X]) CanTransition(from, to S) bool {
	for _, e := range sm.events {
		if t, ok := sm.Lookup(from, e); ok && t.To == to {
			return true
		}
	}
	return false
}

// GetAllowedEvents returns the events legal in from, in declaration order.
func (sm *StateMachine[S, E, X]) GetAllowedEvents(from S) []E {
	allowed := []E{}
	for _, e := range sm.events {
		if _, ok := sm.Lookup(from, e); ok {
			allowed = append(allowed, e)
		}
	}
	return allowed
}

// GetAllowedTransitions returns the statuses reachable from from in one step.
func (sm *StateMachine[S, E, X]) GetAllowedTransitions(from S) []S {
	allowed := []S{}
	for _, e := range sm.events {
		if t, ok := sm.Lookup(from, e); ok {
			allowed = append(allowed, t.To)
		}
	}
	return allowed
}

// Walk visits every (state, event) pair of the full cross product, with the
// transition when the pair is legal.
func (sm *StateMachine[S, E, X]) Walk(fn func(from S, event E, t Transition[S, E, X], legal bool)) {
	for _, s := range sm.states {
		for _, e := range sm.events {
			t, ok := sm.Lookup(s, e)
			fn(s, e, t, ok)
		}
	}
}
