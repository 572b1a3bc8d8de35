package strategy

type State string

type Event string

const (
	StateAbsent  State = "ABSENT"
	StateOpening State = "OPENING"
	StateOpen    State = "OPEN"
	StateClosing State = "CLOSING"
)

const (
	EventEnter  Event = "ENTER"
	EventFilled Event = "FILLED"
	EventExit   Event = "EXIT"
	EventDone   Event = "DONE"
	EventAbort  Event = "ABORT"
)
