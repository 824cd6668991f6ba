package session

import (
	"github.com/felixgeelhaar/statekit"
	"github.com/rs/zerolog"

	"github.com/menta2k/cropframe/pkg/transform"
)

// Phase is the lifecycle state of a session.
type Phase string

// Session phases.
const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseReady         Phase = "ready"
	PhaseGesturing     Phase = "gesturing"
	PhaseConfirmed     Phase = "confirmed"
	PhaseCancelled     Phase = "cancelled"
)

// Closed reports whether p is a terminal phase.
func (p Phase) Closed() bool {
	return p == PhaseConfirmed || p == PhaseCancelled
}

const (
	stateUninitialized statekit.StateID = statekit.StateID(PhaseUninitialized)
	stateReady         statekit.StateID = statekit.StateID(PhaseReady)
	stateGesturing     statekit.StateID = statekit.StateID(PhaseGesturing)
	stateConfirmed     statekit.StateID = statekit.StateID(PhaseConfirmed)
	stateCancelled     statekit.StateID = statekit.StateID(PhaseCancelled)
)

// Lifecycle events.
const (
	eventInit    statekit.EventType = "INIT"
	eventBegin   statekit.EventType = "BEGIN"
	eventEnd     statekit.EventType = "END"
	eventAbort   statekit.EventType = "ABORT"
	eventConfirm statekit.EventType = "CONFIRM"
	eventCancel  statekit.EventType = "CANCEL"
)

// legalEvents lists the events each phase reacts to. Events are only sent
// when they appear here.
var legalEvents = map[Phase][]statekit.EventType{
	PhaseUninitialized: {eventInit, eventCancel},
	PhaseReady:         {eventBegin, eventConfirm, eventCancel},
	PhaseGesturing:     {eventEnd, eventAbort, eventCancel},
}

func (p Phase) accepts(e statekit.EventType) bool {
	for _, legal := range legalEvents[p] {
		if legal == e {
			return true
		}
	}
	return false
}

// lifecycle is the statechart context shared with the session.
type lifecycle struct {
	logger    zerolog.Logger
	tracker   *transform.Tracker
	lastEvent statekit.EventType
	events    int
}

func newLifecycleMachine(lc *lifecycle) (*statekit.MachineConfig[*lifecycle], error) {
	return statekit.NewMachine[*lifecycle]("crop-session").
		WithInitial(stateUninitialized).
		WithContext(lc).
		WithAction("recordEvent", recordEvent).
		WithAction("enteredReady", entered(PhaseReady)).
		WithAction("enteredGesturing", entered(PhaseGesturing)).
		WithAction("enteredConfirmed", entered(PhaseConfirmed)).
		WithAction("enteredCancelled", entered(PhaseCancelled)).
		WithGuard("gesturesIdle", gesturesIdle).
		State(stateUninitialized).
			On(eventInit).Target(stateReady).Do("recordEvent").
			On(eventCancel).Target(stateCancelled).Do("recordEvent").
			Done().
		State(stateReady).
			OnEntry("enteredReady").
			On(eventBegin).Target(stateGesturing).Do("recordEvent").
			On(eventConfirm).Target(stateConfirmed).Do("recordEvent").
			On(eventCancel).Target(stateCancelled).Do("recordEvent").
			Done().
		State(stateGesturing).
			OnEntry("enteredGesturing").
			On(eventEnd).Target(stateReady).Guard("gesturesIdle").Do("recordEvent").
			On(eventAbort).Target(stateReady).Do("recordEvent").
			On(eventCancel).Target(stateCancelled).Do("recordEvent").
			Done().
		State(stateConfirmed).
			Final().
			OnEntry("enteredConfirmed").
			Done().
		State(stateCancelled).
			Final().
			OnEntry("enteredCancelled").
			Done().
		Build()
}

func recordEvent(lc **lifecycle, event statekit.Event) {
	if lc == nil || *lc == nil {
		return
	}
	(*lc).lastEvent = event.Type
	(*lc).events++
}

func entered(p Phase) func(**lifecycle, statekit.Event) {
	return func(lc **lifecycle, event statekit.Event) {
		if lc == nil || *lc == nil {
			return
		}
		(*lc).logger.Debug().
			Str("phase", string(p)).
			Str("event", string(event.Type)).
			Msg("session phase changed")
	}
}

// gesturesIdle holds while no pinch or drag is in progress.
func gesturesIdle(lc *lifecycle, _ statekit.Event) bool {
	return lc == nil || lc.tracker == nil || !lc.tracker.Active()
}
