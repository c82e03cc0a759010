package session

// State is the lifecycle state of one Session. Transitions only move
// forward; a Session never revisits Streaming after Draining.
type State int32

const (
	// StateIdle: session created, remote session not yet established.
	StateIdle State = iota

	// StateConnecting: context curation and remote handshake in flight.
	StateConnecting

	// StateStreaming: audio relay active in both directions; tool calls
	// may arrive and be dispatched concurrently with relay.
	StateStreaming

	// StateDraining: local stop received; local audio-in relay stopped,
	// remote audio-out and tool dispatch continue until the grace
	// period expires or the remote signals end of turn.
	StateDraining

	// StateClosed: terminal; both legs released.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
