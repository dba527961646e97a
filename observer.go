package antler

// EventKind classifies session events emitted to an Observer.
type EventKind string

const (
	EventSessionOpened EventKind = "session_opened"
	EventAssert        EventKind = "assert"
	EventRetract       EventKind = "retract"
	EventModify        EventKind = "modify"
	EventActivation    EventKind = "activation"
	EventActivationGC  EventKind = "activation_retracted"
	EventFiring        EventKind = "firing"
	EventFiringFailed  EventKind = "firing_failed"
	EventFocus         EventKind = "focus"
	EventHalt          EventKind = "halt"
	EventDispose       EventKind = "dispose"
)

// Event is one observable state change inside a session: a fact mutation,
// an activation appearing on or leaving the agenda, a firing, or a
// lifecycle transition. Events are emitted synchronously in sequence
// order.
type Event struct {
	Seq     int64     // logical clock stamp
	Kind    EventKind // what happened
	FactID  FactID    // fact identity, for fact events
	TypeTag string    // fact type tag, for fact events
	Rule    string    // rule name, for activation/firing events
	Group   string    // agenda group, for focus/activation events
	Payload any       // fact payload, for fact events; opaque to the engine
	Err     string    // failure detail, for firing_failed
}

// Observer receives session events. Implementations are collaborators
// outside the core (trace recorders, test collectors); the engine only
// emits, it never depends on what the sink does.
//
// Observers are called synchronously from the session's single writer and
// must not call back into the session.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(e Event)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(e Event) { f(e) }
