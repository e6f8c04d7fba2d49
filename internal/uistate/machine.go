// Package uistate models the lifecycle of one conversational turn and the
// archival side-process as an explicit finite-state machine.
package uistate

import (
	"errors"
	"fmt"
	"sync"
)

// State is the single current UI state.
type State string

const (
	Waiting   State = "Waiting"
	Screening State = "Screening"
	Chatting  State = "Chatting"
	OffTopic  State = "OffTopic"
	Error     State = "Error"
	Archiving State = "Archiving"
)

// Event is the only mutator of State.
type Event string

const (
	StartedScreening      Event = "StartedScreening"
	StartedChat           Event = "StartedChat"
	RejectedFromScreening Event = "RejectedFromScreening"
	PassedScreening       Event = "PassedScreening"
	FinishedChat          Event = "FinishedChat"
	Errored               Event = "Error"
	Reset                 Event = "Reset"
	StartedArchiving      Event = "StartedArchiving"
	FinishedArchiving     Event = "FinishedArchiving"
)

// ErrInvalidTransition is wrapped by every InvalidTransitionError.
var ErrInvalidTransition = errors.New("invalid state change")

// InvalidTransitionError reports an event that is not modeled for the current state.
type InvalidTransitionError struct {
	From  State
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: %s on %s", ErrInvalidTransition, e.Event, e.From)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

type edge struct {
	from  State
	event Event
}

// transitions is the complete table. Pairs not listed are invalid.
var transitions = map[edge]State{
	{Waiting, StartedScreening}:        Screening,
	{Waiting, Reset}:                   Waiting,
	{Waiting, StartedArchiving}:        Archiving,
	{Screening, PassedScreening}:       Chatting,
	{Screening, RejectedFromScreening}: OffTopic,
	{Screening, Errored}:               Error,
	{Chatting, FinishedChat}:           Waiting,
	{Chatting, Errored}:                Error,
	{Chatting, StartedChat}:            Chatting,
	{OffTopic, Reset}:                  Waiting,
	{OffTopic, Errored}:                Error,
	{Error, Reset}:                     Waiting,
	{Archiving, FinishedArchiving}:     Waiting,
	{Archiving, Errored}:               Error,
}

// Next returns the state reached from s on e, or an InvalidTransitionError.
func Next(s State, e Event) (State, error) {
	to, ok := transitions[edge{s, e}]
	if !ok {
		return s, &InvalidTransitionError{From: s, Event: e}
	}
	return to, nil
}

// Transitioner accepts protocol events. Machine implements it; protocols only
// depend on this interface.
type Transitioner interface {
	Transition(e Event) error
}

// Machine holds the current state. It is synchronous; the mutex only makes it
// safe to read from a rendering goroutine while a protocol drives it.
type Machine struct {
	mu    sync.RWMutex
	state State
}

// NewMachine creates a machine in the given initial state.
func NewMachine(initial State) *Machine {
	return &Machine{state: initial}
}

// Transition applies e or returns an InvalidTransitionError leaving the state unchanged.
func (m *Machine) Transition(e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	to, err := Next(m.state, e)
	if err != nil {
		return err
	}
	m.state = to
	return nil
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Busy reports whether a turn or an archive run is in flight.
func (s State) Busy() bool {
	return s == Screening || s == Chatting || s == Archiving
}

// States lists every state.
func States() []State {
	return []State{Waiting, Screening, Chatting, OffTopic, Error, Archiving}
}

// Events lists every event.
func Events() []Event {
	return []Event{
		StartedScreening, StartedChat, RejectedFromScreening, PassedScreening,
		FinishedChat, Errored, Reset, StartedArchiving, FinishedArchiving,
	}
}

var _ Transitioner = (*Machine)(nil)
