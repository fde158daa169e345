package client

// State is a session's position in its lifecycle. A session moves
// Unjoined → Joining → Mentor or Student → Left and never goes back.
type State int

const (
	StateUnjoined State = iota
	StateJoining
	StateMentor
	StateStudent
	StateLeft
)

func (s State) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoining:
		return "joining"
	case StateMentor:
		return "mentor"
	case StateStudent:
		return "student"
	case StateLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Joined reports whether the session holds a role in a room.
func (s State) Joined() bool {
	return s == StateMentor || s == StateStudent
}
