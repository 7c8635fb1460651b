// Package session holds the per-user conversation state: the stage a user is
// in, the candidates offered to them and the lock that serializes their events.
package session

// Stage is the conversation step a user is in.
type Stage int

const (
	Idle Stage = iota
	AwaitingQuery
	AwaitingSelection
)

func (s Stage) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingQuery:
		return "awaiting_query"
	case AwaitingSelection:
		return "awaiting_selection"
	default:
		return "unknown"
	}
}
