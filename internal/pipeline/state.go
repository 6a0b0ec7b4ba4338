package pipeline

// State is a step of a single pipeline run.
type State int

const (
	StateReceived State = iota
	StateGeneratingAnswer
	StateSynthesizingAudio
	StateTranscoding
	StateExtractingLipSync
	StatePersistingMemory
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateGeneratingAnswer:
		return "GENERATING_ANSWER"
	case StateSynthesizingAudio:
		return "SYNTHESIZING_AUDIO"
	case StateTranscoding:
		return "TRANSCODING"
	case StateExtractingLipSync:
		return "EXTRACTING_LIPSYNC"
	case StatePersistingMemory:
		return "PERSISTING_MEMORY"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
