package session

import (
	"github.com/hearthware/go-hearth/pkg/voice"
	"github.com/hearthware/go-hearth/pkg/wyoming"
)

// eventKind identifies one of the session's asynchronous event sources.
// All sources funnel into a single channel so the state machine has one
// select point; the grace-period timer is the only separate select case.
type eventKind int

const (
	evLocalDescribe eventKind = iota
	evLocalStart
	evLocalChunk
	evLocalStop
	evLocalError

	evConnected
	evConnectError

	evRemoteAudio
	evToolCall
	evToolResult
	evTurnComplete
	evInterrupted
	evRemoteError
)

// event is the uniform envelope multiplexed by the session loop.
// Exactly one of the value fields is set, depending on kind.
type event struct {
	kind   eventKind
	pcm    []byte
	format wyoming.AudioFormat
	call   voice.ToolCall
	result voice.ToolResult
	err    error
}
