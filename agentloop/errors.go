package agentloop

import "errors"

// State errors returned by Agent and RunLoopContinue. They signal caller
// misuse and are never delivered as events.
var (
	ErrAlreadyStreaming = errors.New("agent is already processing a prompt; use Steer or FollowUp to queue messages")
	ErrNoModel          = errors.New("no model configured")
	ErrNoMessages       = errors.New("no messages to continue from")
	ErrInvalidContinue  = errors.New("cannot continue from an assistant message without queued messages")
)
