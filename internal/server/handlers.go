package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/mianshi/internal/scoring"
	"github.com/yourorg/mianshi/internal/session"
	"github.com/yourorg/mianshi/internal/settings"
	"github.com/yourorg/mianshi/internal/store"
	"github.com/yourorg/mianshi/pkg/types"
)

var (
	errBadRequest = errors.New("bad request")
	errTooLarge   = errors.New("payload too large")
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": s.dbName()})
}

func (s *Server) dbName() string {
	if d, ok := s.deps.History.(interface{ Driver() string }); ok {
		return d.Driver()
	}
	return ""
}

func (s *Server) handleModels(c *gin.Context) {
	cf, ok := s.mustClient(c)
	if !ok {
		return
	}
	selected, _, err := cf.settings.Get(c.Request.Context(), settings.KeyModelID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if selected == "" {
		selected = s.cfg.Scoring.DefaultModel
	}
	c.JSON(http.StatusOK, gin.H{"models": scoring.Models(), "selected": selected})
}

func (s *Server) handleGetSettings(c *gin.Context) {
	cf, ok := s.mustClient(c)
	if !ok {
		return
	}
	snap, err := settings.Load(c.Request.Context(), cf.settings)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"settings":                  snap.Masked(),
		"has_openrouter_api_key":    snap.ChatAPIKey != "",
		"has_lemonfox_api_key":      snap.TranscriptionAPIKey != "",
		"default_interview_prompt":  scoring.DefaultTemplate,
		"effective_interview_model": firstNonEmpty(snap.ModelID, s.cfg.Scoring.DefaultModel),
	})
}

// handlePutSettings applies a partial update. Every key is checked before
// anything is written.
func (s *Server) handlePutSettings(c *gin.Context) {
	cf, ok := s.mustClient(c)
	if !ok {
		return
	}
	var body map[string]string
	if err := c.ShouldBindJSON(&body); err != nil {
		s.writeError(c, fmt.Errorf("%w: invalid json: %v", errBadRequest, err))
		return
	}
	updates := make(map[settings.Key]string, len(body))
	for name, v := range body {
		k, err := settings.ParseKey(name)
		if err == nil {
			err = settings.Check(k, v)
		}
		if err != nil {
			s.writeError(c, err)
			return
		}
		updates[k] = v
	}
	ctx := c.Request.Context()
	for _, k := range settings.Keys() {
		v, present := updates[k]
		if !present {
			continue
		}
		if err := settings.Save(ctx, cf.settings, k, v); err != nil {
			s.writeError(c, err)
			return
		}
	}
	s.handleGetSettings(c)
}

func (s *Server) handlePutTemplate(c *gin.Context) {
	cf, ok := s.mustClient(c)
	if !ok {
		return
	}
	var body struct {
		Template string `json:"template"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.writeError(c, fmt.Errorf("%w: invalid json: %v", errBadRequest, err))
		return
	}
	ctx := c.Request.Context()
	var err error
	if strings.TrimSpace(body.Template) == "" {
		err = settings.ResetTemplate(ctx, cf.settings)
	} else {
		err = settings.SaveTemplate(ctx, cf.settings, body.Template)
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"template": scoring.SelectTemplate(body.Template)})
}

func (s *Server) handleSession(c *gin.Context) {
	cf, ok := s.mustClient(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, cf.flow.Snapshot())
}

func (s *Server) handleQuestion(c *gin.Context) {
	cf, ok := s.mustClient(c)
	if !ok {
		return
	}
	var body struct {
		Question string `json:"question"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.writeError(c, fmt.Errorf("%w: invalid json: %v", errBadRequest, err))
		return
	}
	c.JSON(http.StatusOK, cf.flow.SelectQuestion(body.Question))
}

func (s *Server) handleNext(c *gin.Context) {
	cf, ok := s.mustClient(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, cf.flow.Next())
}

// handleAudio accepts either a multipart "audio" file or a raw WAV body.
func (s *Server) handleAudio(c *gin.Context) {
	cf, ok := s.mustClient(c)
	if !ok {
		return
	}
	audio, err := s.readAudio(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	snap, err := cf.flow.AcceptAudio(c.Request.Context(), audio)
	s.writeSnapshot(c, snap, err)
}

// readAudio enforces s.maxAudio on both upload forms. Oversized payloads are
// rejected rather than truncated.
func (s *Server) readAudio(c *gin.Context) ([]byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxAudio+multipartOverhead)
		fh, err := c.FormFile("audio")
		if err != nil {
			if tooLarge(err) {
				return nil, fmt.Errorf("%w: upload exceeds %d bytes", errTooLarge, s.maxAudio)
			}
			return nil, fmt.Errorf("%w: missing audio file: %v", errBadRequest, err)
		}
		if fh.Size > s.maxAudio {
			return nil, fmt.Errorf("%w: audio is %d bytes, limit %d", errTooLarge, fh.Size, s.maxAudio)
		}
		if fh.Size == 0 {
			return nil, fmt.Errorf("%w: empty audio file", errBadRequest)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.maxAudio))
	if err != nil {
		if tooLarge(err) {
			return nil, fmt.Errorf("%w: audio exceeds %d bytes", errTooLarge, s.maxAudio)
		}
		return nil, fmt.Errorf("%w: read audio: %v", errBadRequest, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty audio body", errBadRequest)
	}
	return data, nil
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func (s *Server) handleRetranscribe(c *gin.Context) {
	cf, ok := s.mustClient(c)
	if !ok {
		return
	}
	snap, err := cf.flow.Retranscribe(c.Request.Context())
	s.writeSnapshot(c, snap, err)
}

func (s *Server) handleAnswer(c *gin.Context) {
	cf, ok := s.mustClient(c)
	if !ok {
		return
	}
	var body struct {
		Answer string `json:"answer"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.writeError(c, fmt.Errorf("%w: invalid json: %v", errBadRequest, err))
		return
	}
	snap, err := cf.flow.EditAnswer(body.Answer)
	s.writeSnapshot(c, snap, err)
}

func (s *Server) handleScore(c *gin.Context) {
	cf, ok := s.mustClient(c)
	if !ok {
		return
	}
	snap, err := cf.flow.Score(c.Request.Context())
	s.writeSnapshot(c, snap, err)
}

func (s *Server) handleReset(c *gin.Context) {
	cf, ok := s.mustClient(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, cf.flow.Reset())
}

func (s *Server) handleDiscard(c *gin.Context) {
	cf, ok := s.mustClient(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, cf.flow.Discard())
}

func (s *Server) handleHistoryList(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.History.List(c.Request.Context()))
}

func (s *Server) handleHistoryGet(c *gin.Context) {
	id, ok := s.recordID(c)
	if !ok {
		return
	}
	rec, err := s.deps.History.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleHistoryDelete(c *gin.Context) {
	id, ok := s.recordID(c)
	if !ok {
		return
	}
	deleted, err := s.deps.History.DeleteByID(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	status := http.StatusOK
	if !deleted {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"id": id, "deleted": deleted})
}

func (s *Server) recordID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(c, fmt.Errorf("%w: invalid id %q", errBadRequest, c.Param("id")))
		return 0, false
	}
	return id, true
}

func (s *Server) mustClient(c *gin.Context) (*clientFlow, bool) {
	cf, err := s.client(c)
	if err != nil {
		s.writeError(c, err)
		return nil, false
	}
	return cf, true
}

// writeSnapshot reports err with the snapshot attached so callers can redraw.
func (s *Server) writeSnapshot(c *gin.Context, snap session.Snapshot, err error) {
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "session": snap})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "path", c.FullPath(), "err", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, session.ErrEmptyAnswer),
		errors.Is(err, settings.ErrUnknownKey),
		errors.Is(err, settings.ErrUnknownModel):
		return http.StatusBadRequest
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidPhase):
		return http.StatusConflict
	case errors.Is(err, types.ErrConfiguration):
		return http.StatusPreconditionFailed
	case errors.Is(err, types.ErrTemplate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrTranscription), errors.Is(err, types.ErrScoring):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
