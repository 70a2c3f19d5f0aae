package session

// State is the lifecycle state of a session.
type State int32

const (
	Disconnected State = iota
	Connecting
	Negotiating
	Connected
	Closing
	Closed
)

var stateNames = [...]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Negotiating:  "negotiating",
	Connected:    "connected",
	Closing:      "closing",
	Closed:       "closed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// canExchange reports whether frames may be sent or received.
func (s State) canExchange() bool {
	return s == Connected || s == Negotiating
}

// StateListener is called on every state transition, synchronously and in
// transition order. A listener must not call Start or Stop.
type StateListener func(from, to State)
