package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/mianshi/internal/scoring"
	"github.com/yourorg/mianshi/internal/settings"
	"github.com/yourorg/mianshi/internal/transcribe"
	"github.com/yourorg/mianshi/pkg/types"
)

type fakeTranscriber struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio []byte, apiKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.text != "" {
		return f.text, nil
	}
	return fmt.Sprintf("text-%d", len(audio)), nil
}

type fakeScorer struct {
	calls int
	last  scoring.Request
	err   error
}

func (f *fakeScorer) Score(_ context.Context, req scoring.Request) (string, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return "", f.err
	}
	return "评分: " + req.Answer, nil
}

type fakeHistory struct {
	records []types.PracticeRecord
	err     error
}

func (f *fakeHistory) Insert(_ context.Context, q, a, r string) (types.PracticeRecord, error) {
	if f.err != nil {
		return types.PracticeRecord{}, f.err
	}
	rec := types.PracticeRecord{ID: int64(len(f.records) + 1), Question: q, Answer: a, Result: r}
	f.records = append(f.records, rec)
	return rec, nil
}

type fakeRecorder struct{ audio []byte }

func (f fakeRecorder) Record(context.Context) ([]byte, error) { return f.audio, nil }

type recordingDisplay struct {
	renders []Snapshot
	errs    []error
}

func (d *recordingDisplay) Render(s Snapshot) { d.renders = append(d.renders, s) }
func (d *recordingDisplay) Error(err error)   { d.errs = append(d.errs, err) }

type harness struct {
	flow    *Flow
	tr      *fakeTranscriber
	sc      *fakeScorer
	hist    *fakeHistory
	store   settings.Store
	display *recordingDisplay
}

func newHarness(t *testing.T, withKeys bool) *harness {
	t.Helper()
	h := &harness{
		tr:      &fakeTranscriber{},
		sc:      &fakeScorer{},
		hist:    &fakeHistory{},
		store:   settings.NewMemory(),
		display: &recordingDisplay{},
	}
	if withKeys {
		ctx := context.Background()
		require.NoError(t, h.store.Set(ctx, settings.KeyChatAPIKey, "sk-chat"))
		require.NoError(t, h.store.Set(ctx, settings.KeyTranscriptionAPIKey, "sk-audio"))
	}
	h.flow = New(Deps{
		Settings:    h.store,
		History:     h.hist,
		Transcriber: h.tr,
		Scorer:      h.sc,
		Recorder:    fakeRecorder{audio: []byte("RIFFdata")},
		Display:     h.display,
	}, Options{DefaultModel: "m-default"})
	return h
}

func TestFullCycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	assert.Equal(t, PhaseIdle, h.flow.Phase())
	snap := h.flow.SelectQuestion("Q1")
	assert.Equal(t, PhaseQuestionSelected, snap.Phase)

	snap, err := h.flow.AcceptAudio(ctx, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, PhaseTranscribed, snap.Phase)
	assert.Equal(t, "text-3", snap.Transcript)
	assert.Equal(t, "text-3", snap.CorrectedAnswer)

	_, err = h.flow.EditAnswer("我的回答")
	require.NoError(t, err)

	snap, err = h.flow.Score(ctx)
	require.NoError(t, err)
	assert.Equal(t, PhaseScored, snap.Phase)
	assert.Equal(t, "评分: 我的回答", snap.Result)
	assert.EqualValues(t, 1, snap.RecordID)

	require.Len(t, h.hist.records, 1)
	assert.Equal(t, "Q1", h.hist.records[0].Question)
	assert.Equal(t, "我的回答", h.hist.records[0].Answer)
	assert.Equal(t, "m-default", h.sc.last.Model)
	assert.Equal(t, "sk-chat", h.sc.last.APIKey)

	snap = h.flow.Reset()
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Empty(t, snap.Question)
	assert.False(t, snap.HasAudio)
}

func TestSameAudioTranscribedOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.flow.SelectQuestion("Q1")

	payload := []byte("same-bytes")
	_, err := h.flow.AcceptAudio(ctx, payload)
	require.NoError(t, err)
	_, err = h.flow.EditAnswer("edited")
	require.NoError(t, err)

	// A redraw delivers an equal copy of the same payload.
	snap, err := h.flow.AcceptAudio(ctx, append([]byte(nil), payload...))
	require.NoError(t, err)
	assert.Equal(t, 1, h.tr.calls)
	assert.Equal(t, "edited", snap.CorrectedAnswer)

	_, err = h.flow.AcceptAudio(ctx, []byte("other"))
	require.NoError(t, err)
	assert.Equal(t, 2, h.tr.calls)
	assert.Equal(t, "text-5", h.flow.Snapshot().CorrectedAnswer)
}

func TestEmptyAudioIgnored(t *testing.T) {
	h := newHarness(t, true)
	h.flow.SelectQuestion("Q1")
	snap, err := h.flow.AcceptAudio(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, PhaseQuestionSelected, snap.Phase)
	assert.Zero(t, h.tr.calls)
}

func TestAudioBeforeQuestionRejected(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.flow.AcceptAudio(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidPhase)
	assert.Zero(t, h.tr.calls)
}

func TestMissingTranscriptionKey(t *testing.T) {
	h := newHarness(t, false)
	h.flow.SelectQuestion("Q1")

	snap, err := h.flow.AcceptAudio(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, types.ErrConfiguration)
	assert.Equal(t, PhaseQuestionSelected, snap.Phase)
	assert.False(t, snap.HasAudio)
	assert.Zero(t, h.tr.calls)
	require.Len(t, h.display.errs, 1)
}

func TestTranscriptionFailureBecomesText(t *testing.T) {
	h := newHarness(t, true)
	h.tr.err = fmt.Errorf("%w: status 500", types.ErrTranscription)
	h.flow.SelectQuestion("Q1")

	snap, err := h.flow.AcceptAudio(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, PhaseTranscribed, snap.Phase)
	assert.True(t, snap.TranscriptFailed)
	assert.True(t, transcribe.IsFailureText(snap.Transcript))
	assert.Contains(t, snap.Transcript, "status 500")
	require.Len(t, h.display.errs, 1)
}

func TestRetranscribeKeepsEditedAnswer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.flow.SelectQuestion("Q1")
	_, err := h.flow.AcceptAudio(ctx, []byte("abc"))
	require.NoError(t, err)
	_, err = h.flow.EditAnswer("mine")
	require.NoError(t, err)

	h.tr.text = "second pass"
	snap, err := h.flow.Retranscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, h.tr.calls)
	assert.Equal(t, "second pass", snap.Transcript)
	assert.Equal(t, "mine", snap.CorrectedAnswer)
}

func TestScoreWithoutChatKeyLeavesState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	require.NoError(t, h.store.Set(ctx, settings.KeyTranscriptionAPIKey, "sk-audio"))
	h.flow.SelectQuestion("Q1")
	_, err := h.flow.AcceptAudio(ctx, []byte("abc"))
	require.NoError(t, err)
	before := h.flow.Snapshot()

	snap, err := h.flow.Score(ctx)
	assert.ErrorIs(t, err, types.ErrConfiguration)
	assert.Equal(t, before, snap)
	assert.Zero(t, h.sc.calls)
	assert.Empty(t, h.hist.records)
}

func TestScoreUsesSavedModelAndTemplate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	require.NoError(t, settings.SaveModel(ctx, h.store, "deepseek/deepseek-chat"))
	require.NoError(t, settings.SaveTemplate(ctx, h.store, "Q={question} A={answer}"))
	h.flow.SelectQuestion("Q1")
	_, err := h.flow.AcceptAudio(ctx, []byte("abc"))
	require.NoError(t, err)

	_, err = h.flow.Score(ctx)
	require.NoError(t, err)
	assert.Equal(t, "deepseek/deepseek-chat", h.sc.last.Model)
	assert.Equal(t, "Q={question} A={answer}", h.sc.last.Template)
}

func TestScoreErrorKeepsPhase(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.sc.err = fmt.Errorf("%w: 401", types.ErrScoring)
	h.flow.SelectQuestion("Q1")
	_, err := h.flow.AcceptAudio(ctx, []byte("abc"))
	require.NoError(t, err)

	snap, err := h.flow.Score(ctx)
	assert.ErrorIs(t, err, types.ErrScoring)
	assert.Equal(t, PhaseTranscribed, snap.Phase)
	assert.Equal(t, 1, h.sc.calls)
	assert.Empty(t, h.hist.records)
}

func TestScorePersistenceFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.hist.err = fmt.Errorf("%w: disk full", types.ErrPersistence)
	h.flow.SelectQuestion("Q1")
	_, err := h.flow.AcceptAudio(ctx, []byte("abc"))
	require.NoError(t, err)

	snap, err := h.flow.Score(ctx)
	assert.ErrorIs(t, err, types.ErrPersistence)
	assert.Equal(t, PhaseTranscribed, snap.Phase)
	assert.NotEmpty(t, snap.Result)
	assert.Zero(t, snap.RecordID)
	assert.Empty(t, h.hist.records)

	last := h.display.renders[len(h.display.renders)-1]
	assert.Equal(t, snap.Result, last.Result)
	assert.Zero(t, last.RecordID, "an unsaved result must not carry a record id")
	require.NotEmpty(t, h.display.errs)
	assert.ErrorIs(t, h.display.errs[len(h.display.errs)-1], types.ErrPersistence)
}

func TestScoreRequiresTranscript(t *testing.T) {
	h := newHarness(t, true)
	h.flow.SelectQuestion("Q1")
	_, err := h.flow.Score(context.Background())
	assert.True(t, errors.Is(err, ErrInvalidPhase))
}

func TestEmptyAnswerNotScored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.flow.SelectQuestion("Q1")
	_, err := h.flow.AcceptAudio(ctx, []byte("abc"))
	require.NoError(t, err)
	_, err = h.flow.EditAnswer("   ")
	require.NoError(t, err)

	_, err = h.flow.Score(ctx)
	assert.ErrorIs(t, err, ErrEmptyAnswer)
	assert.Zero(t, h.sc.calls)
}

func TestEditAfterScoreAllowsRescore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.flow.SelectQuestion("Q1")
	_, _ = h.flow.AcceptAudio(ctx, []byte("abc"))
	_, err := h.flow.Score(ctx)
	require.NoError(t, err)

	snap, err := h.flow.EditAnswer("better")
	require.NoError(t, err)
	assert.Equal(t, PhaseTranscribed, snap.Phase)
	assert.Empty(t, snap.Result)

	_, err = h.flow.Score(ctx)
	require.NoError(t, err)
	assert.Len(t, h.hist.records, 2)
}

func TestSelectSameQuestionKeepsAttempt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.flow.SelectQuestion("Q1")
	_, _ = h.flow.AcceptAudio(ctx, []byte("abc"))

	snap := h.flow.SelectQuestion(" Q1 ")
	assert.Equal(t, PhaseTranscribed, snap.Phase)

	snap = h.flow.SelectQuestion("Q2")
	assert.Equal(t, PhaseQuestionSelected, snap.Phase)
	assert.Empty(t, snap.Transcript)
	assert.False(t, snap.HasAudio)
}

func TestNextAndDiscard(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	bank := h.flow.Bank().All()

	snap := h.flow.Next()
	assert.Equal(t, bank[1], snap.Question)
	_, _ = h.flow.AcceptAudio(ctx, []byte("abc"))

	snap = h.flow.Discard()
	assert.Equal(t, PhaseQuestionSelected, snap.Phase)
	assert.Equal(t, bank[1], snap.Question)
	assert.False(t, snap.HasAudio)

	// Discarded audio can be submitted again.
	_, _ = h.flow.AcceptAudio(ctx, []byte("abc"))
	assert.Equal(t, 2, h.tr.calls)
}

func TestCapture(t *testing.T) {
	h := newHarness(t, true)
	h.flow.SelectQuestion("Q1")
	snap, err := h.flow.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseTranscribed, snap.Phase)
	assert.Equal(t, len("RIFFdata"), snap.AudioBytes)

	noRec := New(Deps{Settings: h.store, History: h.hist, Transcriber: h.tr, Scorer: h.sc}, Options{})
	noRec.SelectQuestion("Q1")
	_, err = noRec.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNoRecorder)
}

func TestQuestionBank(t *testing.T) {
	b := NewQuestionBank([]string{" a ", "", "b"})
	assert.Equal(t, []string{"a", "b"}, b.All())
	assert.Equal(t, "a", b.Current())
	assert.Equal(t, "b", b.Next())
	assert.Equal(t, "a", b.Next())

	c := b.Clone()
	c.Next()
	assert.Equal(t, "a", b.Current())

	assert.Len(t, NewQuestionBank(nil).All(), 2)
}
