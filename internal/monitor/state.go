package monitor

// State is the session state of one monitored room.
type State int

const (
	Idle State = iota
	Recording
	ReconnectPending
)

// States lists every state, in declaration order.
var States = []State{Idle, Recording, ReconnectPending}

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case ReconnectPending:
		return "reconnect_pending"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON snapshots.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func stateNames() []string {
	out := make([]string, len(States))
	for i, s := range States {
		out[i] = s.String()
	}
	return out
}
