// Package session drives one practice attempt from question selection to a
// persisted, scored answer.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/yourorg/mianshi/internal/logging"
	"github.com/yourorg/mianshi/internal/scoring"
	"github.com/yourorg/mianshi/internal/settings"
	"github.com/yourorg/mianshi/internal/transcribe"
	"github.com/yourorg/mianshi/pkg/types"
)

var (
	// ErrInvalidPhase is returned when an action does not apply to the current phase.
	ErrInvalidPhase = errors.New("action not allowed in current phase")
	// ErrEmptyAnswer is returned by Score when the corrected answer is blank.
	ErrEmptyAnswer = errors.New("answer is empty")
	// ErrNoRecorder is returned by Capture when the flow has no Recorder.
	ErrNoRecorder = errors.New("no recorder configured")
)

// Deps are the collaborators of a Flow. Recorder and Display are optional.
type Deps struct {
	Settings    settings.Store
	History     RecordWriter
	Transcriber Transcriber
	Scorer      Scorer
	Recorder    Recorder
	Display     Display
	Bank        *QuestionBank
	Logger      *slog.Logger
}

// Options tune a Flow.
type Options struct {
	// DefaultModel is used when no model is saved in settings.
	DefaultModel         string
	TranscriptionTimeout time.Duration
	ScoringTimeout       time.Duration
}

// Flow is the practice state machine for a single client. All methods are
// safe for concurrent use; actions are serialized.
type Flow struct {
	mu    sync.Mutex
	deps  Deps
	opts  Options
	log   *slog.Logger
	phase Phase
	state State
}

func New(deps Deps, opts Options) *Flow {
	if deps.Display == nil {
		deps.Display = nopDisplay{}
	}
	if deps.Bank == nil {
		deps.Bank = NewQuestionBank(nil)
	}
	if opts.DefaultModel == "" {
		opts.DefaultModel = scoring.DefaultModel
	}
	return &Flow{
		deps:  deps,
		opts:  opts,
		log:   logging.OrDiscard(deps.Logger),
		phase: PhaseIdle,
	}
}

// Snapshot returns the current view.
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return snapshotOf(f.phase, &f.state)
}

// Phase returns the current phase.
func (f *Flow) Phase() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

// Bank returns the question bank the flow cycles through.
func (f *Flow) Bank() *QuestionBank { return f.deps.Bank }

// SelectQuestion starts a new attempt for question. Selecting the question
// already in progress is a no-op; anything else clears the attempt.
func (f *Flow) SelectQuestion(question string) Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	question = strings.TrimSpace(question)
	if question == f.state.CurrentQuestion && f.phase != PhaseIdle {
		return snapshotOf(f.phase, &f.state)
	}
	f.selectLocked(question)
	return f.renderLocked()
}

// Next moves to the following bank question with a fresh attempt.
func (f *Flow) Next() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selectLocked(f.deps.Bank.Next())
	return f.renderLocked()
}

func (f *Flow) selectLocked(question string) {
	f.state = State{CurrentQuestion: question}
	if question == "" {
		f.phase = PhaseIdle
		return
	}
	f.phase = PhaseQuestionSelected
	f.log.Debug("question selected", "question", question)
}

// Reset returns to Idle with empty state.
func (f *Flow) Reset() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = State{}
	f.phase = PhaseIdle
	return f.renderLocked()
}

// Discard drops the recording, transcript and result but keeps the question.
func (f *Flow) Discard() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.clearAttempt()
	if f.state.CurrentQuestion == "" {
		f.phase = PhaseIdle
	} else {
		f.phase = PhaseQuestionSelected
	}
	return f.renderLocked()
}

// Capture records through the configured Recorder and feeds the payload to
// AcceptAudio. An empty recording leaves the state unchanged.
func (f *Flow) Capture(ctx context.Context) (Snapshot, error) {
	if f.deps.Recorder == nil {
		return f.Snapshot(), ErrNoRecorder
	}
	if p := f.Phase(); p == PhaseIdle {
		return f.Snapshot(), f.fail(fmt.Errorf("%w: select a question before recording", ErrInvalidPhase))
	}
	audio, err := f.deps.Recorder.Record(ctx)
	if err != nil {
		return f.Snapshot(), f.fail(fmt.Errorf("record audio: %w", err))
	}
	return f.AcceptAudio(ctx, audio)
}

// AcceptAudio transcribes a new audio payload. The same payload delivered
// again is ignored, so redraws never repeat the request. A transcription
// failure is stored as the transcript text and is not returned.
func (f *Flow) AcceptAudio(ctx context.Context, audio []byte) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(audio) == 0 {
		return snapshotOf(f.phase, &f.state), nil
	}
	if f.phase == PhaseIdle {
		return snapshotOf(f.phase, &f.state), f.fail(fmt.Errorf("%w: select a question before recording", ErrInvalidPhase))
	}
	if f.state.sameAudio(audio) {
		return snapshotOf(f.phase, &f.state), nil
	}
	key, err := f.credential(ctx, settings.KeyTranscriptionAPIKey)
	if err != nil {
		return snapshotOf(f.phase, &f.state), f.fail(err)
	}

	f.state.clearAttempt()
	f.state.LastAudio = bytes.Clone(audio)
	f.phase = PhaseRecorded
	f.renderLocked()

	f.transcribeLocked(ctx, key)
	f.state.CorrectedAnswer = f.state.Transcript
	return f.renderLocked(), nil
}

// Retranscribe sends the stored payload again. The corrected answer is
// left as the user edited it.
func (f *Flow) Retranscribe(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.state.LastAudio) == 0 {
		return snapshotOf(f.phase, &f.state), f.fail(fmt.Errorf("%w: nothing recorded", ErrInvalidPhase))
	}
	key, err := f.credential(ctx, settings.KeyTranscriptionAPIKey)
	if err != nil {
		return snapshotOf(f.phase, &f.state), f.fail(err)
	}
	f.transcribeLocked(ctx, key)
	if strings.TrimSpace(f.state.CorrectedAnswer) == "" {
		f.state.CorrectedAnswer = f.state.Transcript
	}
	return f.renderLocked(), nil
}

func (f *Flow) transcribeLocked(ctx context.Context, key string) {
	ctx, cancel := withTimeout(ctx, f.opts.TranscriptionTimeout)
	defer cancel()

	text, err := f.deps.Transcriber.Transcribe(ctx, f.state.LastAudio, key)
	if err != nil {
		f.log.Warn("transcription failed", "bytes", len(f.state.LastAudio), "err", err)
		f.deps.Display.Error(err)
		text = transcribe.FailureText(err)
	}
	f.state.Transcript = text
	f.state.TranscriptFailed = err != nil
	f.phase = PhaseTranscribed
}

// EditAnswer replaces the corrected answer. Editing a scored attempt returns
// it to Transcribed so it can be scored again.
func (f *Flow) EditAnswer(answer string) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phase != PhaseTranscribed && f.phase != PhaseScored {
		return snapshotOf(f.phase, &f.state), f.fail(fmt.Errorf("%w: no transcript to edit", ErrInvalidPhase))
	}
	if answer == f.state.CorrectedAnswer {
		return snapshotOf(f.phase, &f.state), nil
	}
	f.state.CorrectedAnswer = answer
	if f.phase == PhaseScored {
		f.state.Result = ""
		f.state.RecordID = 0
		f.phase = PhaseTranscribed
	}
	return f.renderLocked(), nil
}

// Score evaluates the corrected answer and persists the exchange. A missing
// chat credential fails before any request and leaves the state unchanged.
func (f *Flow) Score(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.phase != PhaseTranscribed {
		return snapshotOf(f.phase, &f.state), f.fail(fmt.Errorf("%w: score requires a transcript", ErrInvalidPhase))
	}
	answer := f.state.CorrectedAnswer
	if strings.TrimSpace(answer) == "" {
		return snapshotOf(f.phase, &f.state), f.fail(ErrEmptyAnswer)
	}
	snap, err := settings.Load(ctx, f.deps.Settings)
	if err != nil {
		return snapshotOf(f.phase, &f.state), f.fail(err)
	}
	if strings.TrimSpace(snap.ChatAPIKey) == "" {
		return snapshotOf(f.phase, &f.state), f.fail(fmt.Errorf("%w: %s is not set", types.ErrConfiguration, settings.KeyChatAPIKey))
	}
	model := snap.ModelID
	if model == "" {
		model = f.opts.DefaultModel
	}

	sctx, cancel := withTimeout(ctx, f.opts.ScoringTimeout)
	defer cancel()
	start := time.Now()
	result, err := f.deps.Scorer.Score(sctx, scoring.Request{
		Question: f.state.CurrentQuestion,
		Answer:   answer,
		Template: snap.PromptTemplate,
		Model:    model,
		APIKey:   snap.ChatAPIKey,
	})
	if err != nil {
		f.log.Warn("scoring failed", "model", model, "err", err)
		return snapshotOf(f.phase, &f.state), f.fail(err)
	}
	f.log.Info("answer scored", "model", model, "elapsed", time.Since(start))

	rec, err := f.deps.History.Insert(ctx, f.state.CurrentQuestion, answer, result)
	if err != nil {
		// Keep the evaluation visible even though it was not saved.
		f.state.Result = result
		f.renderLocked()
		return snapshotOf(f.phase, &f.state), f.fail(err)
	}
	f.state.Result = result
	f.state.RecordID = rec.ID
	f.phase = PhaseScored
	return f.renderLocked(), nil
}

func (f *Flow) credential(ctx context.Context, key settings.Key) (string, error) {
	v, _, err := f.deps.Settings.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: %s is not set", types.ErrConfiguration, key)
	}
	return v, nil
}

func (f *Flow) fail(err error) error {
	f.deps.Display.Error(err)
	return err
}

func (f *Flow) renderLocked() Snapshot {
	snap := snapshotOf(f.phase, &f.state)
	f.deps.Display.Render(snap)
	return snap
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
