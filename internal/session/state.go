package session

import "bytes"

// Phase is the position of a flow in the practice cycle.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseQuestionSelected Phase = "question_selected"
	PhaseRecorded         Phase = "recorded"
	PhaseTranscribed      Phase = "transcribed"
	PhaseScored           Phase = "scored"
)

// State is the ephemeral data of one practice attempt.
type State struct {
	CurrentQuestion string
	LastAudio       []byte
	Transcript      string
	// TranscriptFailed is set when Transcript carries a failure message.
	TranscriptFailed bool
	CorrectedAnswer  string
	Result           string
	RecordID         int64
}

// sameAudio compares payloads by value.
func (s *State) sameAudio(audio []byte) bool {
	return len(s.LastAudio) > 0 && bytes.Equal(s.LastAudio, audio)
}

// clearAttempt drops everything but the question.
func (s *State) clearAttempt() {
	q := s.CurrentQuestion
	*s = State{CurrentQuestion: q}
}

// Snapshot is the read-only view handed to the Display.
type Snapshot struct {
	Phase            Phase  `json:"phase"`
	Question         string `json:"question"`
	HasAudio         bool   `json:"has_audio"`
	AudioBytes       int    `json:"audio_bytes"`
	Transcript       string `json:"transcript"`
	TranscriptFailed bool   `json:"transcript_failed"`
	CorrectedAnswer  string `json:"corrected_answer"`
	Result           string `json:"result"`
	RecordID         int64  `json:"record_id,omitempty"`
}

func snapshotOf(p Phase, s *State) Snapshot {
	return Snapshot{
		Phase:            p,
		Question:         s.CurrentQuestion,
		HasAudio:         len(s.LastAudio) > 0,
		AudioBytes:       len(s.LastAudio),
		Transcript:       s.Transcript,
		TranscriptFailed: s.TranscriptFailed,
		CorrectedAnswer:  s.CorrectedAnswer,
		Result:           s.Result,
		RecordID:         s.RecordID,
	}
}
