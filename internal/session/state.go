package session

// State is the lifecycle state of a conversation.
type State int

// Lifecycle states. A fresh Start from Idle, Ended or Error re-enters
// Connecting.
const (
	Idle State = iota
	Connecting
	Active
	Error
	Ended
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Error:
		return "error"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Status returns the user-facing status line for s.
func (s State) Status() string {
	switch s {
	case Idle:
		return "Presiona Iniciar para comenzar la conversación."
	case Connecting:
		return "Conectando..."
	case Active:
		return "Conversación activa. ¡Habla ahora!"
	case Error:
		return "Error de conexión. Por favor, intenta de nuevo."
	case Ended:
		return "Conversación terminada."
	default:
		return ""
	}
}

// Running reports whether s owns live resources.
func (s State) Running() bool {
	return s == Connecting || s == Active
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
