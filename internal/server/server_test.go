package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/mianshi/internal/config"
	"github.com/yourorg/mianshi/internal/scoring"
	"github.com/yourorg/mianshi/internal/session"
	"github.com/yourorg/mianshi/internal/store"
	"github.com/yourorg/mianshi/internal/transcribe"
	"github.com/yourorg/mianshi/pkg/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubTranscriber struct{ calls atomic.Int32 }

func (s *stubTranscriber) Transcribe(_ context.Context, audio []byte, _ string) (string, error) {
	s.calls.Add(1)
	return "转写:" + string(audio), nil
}

type stubScorer struct{ calls atomic.Int32 }

func (s *stubScorer) Score(_ context.Context, req scoring.Request) (string, error) {
	s.calls.Add(1)
	return "评分 " + req.Answer, nil
}

type testEnv struct {
	srv    *Server
	st     *store.SQLStore
	tr     session.Transcriber
	sc     session.Scorer
	client string
}

func newTestServer(t *testing.T, tr session.Transcriber, sc session.Scorer) *testEnv {
	t.Helper()

	cfg := &config.Config{}
	cfg.SetDefaults()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "mianshi.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})

	srv, err := New(cfg, Deps{History: st, Settings: st, Transcriber: tr, Scorer: sc})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testEnv{srv: srv, st: st, tr: tr, sc: sc, client: "6f1c2b9e-4a59-4d7a-9a3c-2f5f4c1d8e10"}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case []byte:
		rdr = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	if _, raw := body.([]byte); !raw && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.client != "" {
		req.Header.Set(clientHeader, e.client)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

// upload posts audio as the multipart "audio" file.
func (e *testEnv) upload(t *testing.T, audio []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", "audio.wav")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(audio)
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/session/audio", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(clientHeader, e.client)
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return v
}

func (e *testEnv) setKeys(t *testing.T) {
	t.Helper()
	rec := e.do(t, http.MethodPut, "/api/settings", map[string]string{
		"openrouter_api_key": "sk-or-1234567890abcd",
		"lemonfox_api_key":   "lf-1234567890abcd",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put settings status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	env := newTestServer(t, &stubTranscriber{}, &stubScorer{})
	rec := env.do(t, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[map[string]string](t, rec); got["database"] != "sqlite" {
		t.Fatalf("unexpected health %v", got)
	}
}

func TestHistoryEmpty(t *testing.T) {
	env := newTestServer(t, &stubTranscriber{}, &stubScorer{})
	rec := env.do(t, http.MethodGet, "/api/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if records := decode[[]types.PracticeRecord](t, rec); len(records) != 0 {
		t.Fatalf("expected empty history, got %d", len(records))
	}
}

func TestIssuesClientCookie(t *testing.T) {
	env := newTestServer(t, &stubTranscriber{}, &stubScorer{})
	env.client = ""
	rec := env.do(t, http.MethodGet, "/api/session", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != clientCookie || cookies[0].Value == "" {
		t.Fatalf("expected client cookie, got %v", cookies)
	}
	if rec.Header().Get(clientHeader) != cookies[0].Value {
		t.Fatalf("expected client header to echo cookie")
	}
}

func TestSettingsMaskedAndValidated(t *testing.T) {
	env := newTestServer(t, &stubTranscriber{}, &stubScorer{})
	env.setKeys(t)

	rec := env.do(t, http.MethodGet, "/api/settings", nil)
	body := rec.Body.String()
	if strings.Contains(body, "sk-or-1234567890abcd") {
		t.Fatalf("credential leaked: %s", body)
	}
	if !strings.Contains(body, `"has_openrouter_api_key":true`) {
		t.Fatalf("expected key presence flag: %s", body)
	}

	rec = env.do(t, http.MethodPut, "/api/settings/template", map[string]string{"template": "只有{answer}"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for template without question, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPut, "/api/settings", map[string]string{
		"selected_model_id": "openai/gpt-4o-mini",
		"bogus":             "x",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown key, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/models", nil)
	if got := decode[map[string]any](t, rec); got["selected"] != "google/gemini-3-flash-preview" {
		t.Fatalf("rejected update must not change model, got %v", got["selected"])
	}
}

func TestSettingsIsolatedPerClient(t *testing.T) {
	env := newTestServer(t, &stubTranscriber{}, &stubScorer{})
	env.setKeys(t)

	env.client = "0d9b7a51-3e0c-4f57-8d3c-6b2a1f0e9c44"
	rec := env.do(t, http.MethodGet, "/api/settings", nil)
	if !strings.Contains(rec.Body.String(), `"has_openrouter_api_key":false`) {
		t.Fatalf("settings leaked across clients: %s", rec.Body.String())
	}
}

func TestPracticeCycle(t *testing.T) {
	tr, sc := &stubTranscriber{}, &stubScorer{}
	env := newTestServer(t, tr, sc)
	env.setKeys(t)

	rec := env.do(t, http.MethodPost, "/api/session/question", map[string]string{"question": "Q1"})
	if snap := decode[session.Snapshot](t, rec); snap.Phase != session.PhaseQuestionSelected {
		t.Fatalf("unexpected phase %s", snap.Phase)
	}

	for i := 0; i < 2; i++ {
		rec = env.do(t, http.MethodPost, "/api/session/audio", []byte("RIFFwav"))
		if rec.Code != http.StatusOK {
			t.Fatalf("audio status = %d: %s", rec.Code, rec.Body.String())
		}
	}
	if n := tr.calls.Load(); n != 1 {
		t.Fatalf("expected one transcription for a repeated payload, got %d", n)
	}

	rec = env.do(t, http.MethodPut, "/api/session/answer", map[string]string{"answer": "修改后"})
	if rec.Code != http.StatusOK {
		t.Fatalf("answer status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/session/score", nil)
	snap := decode[session.Snapshot](t, rec)
	if snap.Phase != session.PhaseScored || snap.Result != "评分 修改后" || snap.RecordID == 0 {
		t.Fatalf("unexpected scored snapshot %+v", snap)
	}

	rec = env.do(t, http.MethodGet, "/api/history", nil)
	records := decode[[]types.PracticeRecord](t, rec)
	if len(records) != 1 || records[0].Answer != "修改后" {
		t.Fatalf("unexpected history %+v", records)
	}

	path := "/api/history/" + strconv.FormatInt(records[0].ID, 10)
	if rec = env.do(t, http.MethodDelete, path, nil); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec = env.do(t, http.MethodDelete, path, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("repeated delete status = %d", rec.Code)
	}
	if rec = env.do(t, http.MethodGet, path, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted status = %d", rec.Code)
	}
}

func TestErrorStatusCodes(t *testing.T) {
	tr, sc := &stubTranscriber{}, &stubScorer{}
	env := newTestServer(t, tr, sc)

	if rec := env.do(t, http.MethodPost, "/api/session/score", nil); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 scoring without transcript, got %d", rec.Code)
	}
	env.do(t, http.MethodPost, "/api/session/next", nil)
	rec := env.do(t, http.MethodPost, "/api/session/audio", []byte("RIFFwav"))
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412 without transcription key, got %d", rec.Code)
	}
	if tr.calls.Load() != 0 {
		t.Fatalf("no request expected without a key")
	}
	if rec := env.do(t, http.MethodPost, "/api/session/audio", []byte{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/history/abc", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}
}

func TestMultipartAudioThroughRealClients(t *testing.T) {
	var transcriptions, chats atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/audio/transcriptions"):
			transcriptions.Add(1)
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			}
			if r.FormValue("language") != "chinese" {
				t.Errorf("expected chinese language hint, got %q", r.FormValue("language"))
			}
			_, _ = w.Write([]byte(`{"text":"我认为为人民服务是根本宗旨"}`))
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			chats.Add(1)
			_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"总分 80"},"finish_reason":"stop"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	tr := &transcribe.Client{BaseURL: upstream.URL, HTTPClient: upstream.Client()}
	sc := &scoring.Client{BaseURL: upstream.URL, DefaultModel: scoring.DefaultModel, HTTPClient: upstream.Client()}
	env := newTestServer(t, tr, sc)
	env.setKeys(t)
	env.do(t, http.MethodPost, "/api/session/next", nil)

	rec := env.upload(t, []byte("RIFF....WAVEdata"))
	if rec.Code != http.StatusOK {
		t.Fatalf("audio status = %d: %s", rec.Code, rec.Body.String())
	}
	if snap := decode[session.Snapshot](t, rec); snap.CorrectedAnswer != "我认为为人民服务是根本宗旨" {
		t.Fatalf("unexpected transcript %+v", snap)
	}

	rec = env.do(t, http.MethodPost, "/api/session/score", nil)
	if snap := decode[session.Snapshot](t, rec); snap.Result != "总分 80" {
		t.Fatalf("unexpected result %+v", snap)
	}
	if transcriptions.Load() != 1 || chats.Load() != 1 {
		t.Fatalf("expected one call each, got %d transcriptions and %d chats", transcriptions.Load(), chats.Load())
	}
}

func TestAudioSizeLimits(t *testing.T) {
	tr := &stubTranscriber{}
	env := newTestServer(t, tr, &stubScorer{})
	env.srv.maxAudio = 1024
	env.setKeys(t)
	env.do(t, http.MethodPost, "/api/session/next", nil)

	if rec := env.upload(t, bytes.Repeat([]byte("a"), 4096)); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized multipart, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodPost, "/api/session/audio", bytes.Repeat([]byte("b"), 2048)); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized body, got %d", rec.Code)
	}
	if rec := env.upload(t, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty multipart file, got %d", rec.Code)
	}
	if tr.calls.Load() != 0 {
		t.Fatalf("rejected uploads must not be transcribed, got %d calls", tr.calls.Load())
	}

	audio := bytes.Repeat([]byte("c"), 1024)
	rec := env.upload(t, audio)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload at the limit status = %d: %s", rec.Code, rec.Body.String())
	}
	if snap := decode[session.Snapshot](t, rec); snap.AudioBytes != len(audio) || snap.Transcript != "转写:"+string(audio) {
		t.Fatalf("audio was not passed through intact: %d bytes", snap.AudioBytes)
	}
}

func TestIdleSessionsEvicted(t *testing.T) {
	env := newTestServer(t, &stubTranscriber{}, &stubScorer{})
	clock := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	env.srv.now = func() time.Time { return clock }
	env.srv.idle = time.Hour

	if rec := env.do(t, http.MethodPost, "/api/session/question", map[string]string{"question": "Q1"}); rec.Code != http.StatusOK {
		t.Fatalf("select question status = %d", rec.Code)
	}

	clock = clock.Add(30 * time.Minute)
	other := &testEnv{srv: env.srv, client: "0b7e8d52-93b1-4c1e-8f0a-5d3f2c6a7b91"}
	other.do(t, http.MethodGet, "/api/session", nil)
	if n := len(env.srv.flows); n != 2 {
		t.Fatalf("expected both sessions kept, got %d", n)
	}

	clock = clock.Add(45 * time.Minute)
	third := &testEnv{srv: env.srv, client: "c2d4f6a8-1b3d-4e5f-8a7b-9c0d1e2f3a4b"}
	third.do(t, http.MethodGet, "/api/session", nil)
	if _, ok := env.srv.flows[env.client]; ok {
		t.Fatalf("expected idle session to be evicted")
	}
	if _, ok := env.srv.flows[other.client]; !ok {
		t.Fatalf("recently used session should be kept")
	}

	rec := env.do(t, http.MethodGet, "/api/session", nil)
	if snap := decode[session.Snapshot](t, rec); snap.Phase != session.PhaseIdle || snap.Question != "" {
		t.Fatalf("evicted client should start fresh, got %+v", snap)
	}
}
