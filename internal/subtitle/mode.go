package subtitle

import "github.com/lexiqai/caption-sync/internal/message"

// detectMode picks the session render mode from the first agent fragment.
// Word mode requires both the preference and word timings on the fragment;
// anything else falls back to text.
func detectMode(preferred RenderMode, f message.AgentTranscript) RenderMode {
	if preferred == ModeWord && len(f.Words) > 0 {
		return ModeWord
	}
	return ModeText
}
