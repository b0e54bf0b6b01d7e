package settle

import "sync"

type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseSubmitted Phase = "submitted"
	PhaseAmbiguous Phase = "ambiguous"
	PhaseRecheck   Phase = "recheck"
	PhaseRetrying  Phase = "retrying"
	PhaseConfirmed Phase = "confirmed"
	PhaseFailed    Phase = "failed"
)

type Event string

const (
	EventSubmit    Event = "submit"
	EventConfirmed Event = "confirmed"
	EventTimeout   Event = "timeout"
	EventTransient Event = "transient"
	EventRejected  Event = "rejected"
	EventRecheck   Event = "recheck"
	EventLanded    Event = "landed"
	EventNotLanded Event = "not_landed"
	EventExhausted Event = "exhausted"
)

// StateMachine tracks one logical roll submission.
type StateMachine struct {
	mu      sync.Mutex
	Phase   Phase
	History []Phase
}

func NewStateMachine() *StateMachine {
	return &StateMachine{Phase: PhasePending, History: []Phase{PhasePending}}
}

func (s *StateMachine) Apply(event Event) Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := nextPhase(s.Phase, event)
	if next != s.Phase {
		s.History = append(s.History, next)
	}
	s.Phase = next
	return s.Phase
}

func (s *StateMachine) Current() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Phase
}

// Terminal reports whether no further event can move the machine.
func (p Phase) Terminal() bool {
	return p == PhaseConfirmed || p == PhaseFailed
}

func nextPhase(current Phase, event Event) Phase {
	switch current {
	case PhasePending:
		switch event {
		case EventSubmit:
			return PhaseSubmitted
		case EventLanded:
			return PhaseConfirmed
		}
	case PhaseSubmitted:
		switch event {
		case EventConfirmed:
			return PhaseConfirmed
		case EventTimeout:
			return PhaseAmbiguous
		case EventTransient:
			return PhaseRetrying
		case EventRejected:
			return PhaseFailed
		}
	case PhaseAmbiguous:
		if event == EventRecheck {
			return PhaseRecheck
		}
	case PhaseRecheck:
		switch event {
		case EventLanded:
			return PhaseConfirmed
		case EventNotLanded, EventTransient:
			return PhaseRetrying
		}
	case PhaseRetrying:
		switch event {
		case EventSubmit:
			return PhaseSubmitted
		case EventExhausted:
			return PhaseFailed
		}
	}
	return current
}
