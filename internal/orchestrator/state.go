package orchestrator

// state tracks one request's progress through the response flow. Transitions
// are linear apart from the branch after classification; FAILED is reachable
// from any state.
type state int

const (
	stateInit state = iota
	stateHistoryLoaded
	stateClassified
	stateAgentBranch
	stateDirectBranch
	stateStreaming
	stateFlushed
	stateDone
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateInit:
		return "INIT"
	case stateHistoryLoaded:
		return "HISTORY_LOADED"
	case stateClassified:
		return "CLASSIFIED"
	case stateAgentBranch:
		return "AGENT_BRANCH"
	case stateDirectBranch:
		return "DIRECT_BRANCH"
	case stateStreaming:
		return "STREAMING"
	case stateFlushed:
		return "FLUSHED"
	case stateDone:
		return "DONE"
	case stateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
