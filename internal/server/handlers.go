package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/loqalabs/loqa-guide/internal/lipsync"
	"github.com/loqalabs/loqa-guide/internal/pipeline"
)

const (
	msgInvalidRequest = "Invalid request"
	msgServerError    = "Server Error"
)

type talkRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"sessionId"`
}

type talkResponse struct {
	Status   bool          `json:"status"`
	FileCode string        `json:"fileCode"`
	LipSync  lipsync.Track `json:"lipSyncJson"`
	AIRes    string        `json:"aiRes"`
}

type mouthResponse struct {
	Status   bool          `json:"status"`
	FileCode string        `json:"fileCode"`
	LipSync  lipsync.Track `json:"lipSyncJson"`
}

type failure struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

func fail(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, failure{Status: false, Message: message})
}

func (s *Server) handleTalk(c *gin.Context) {
	var req talkRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		fail(c, http.StatusBadRequest, msgInvalidRequest)
		return
	}

	res, err := s.deps.Pipeline.Run(c.Request.Context(), pipeline.Request{
		Text:      req.Text,
		SessionID: req.SessionID,
	})
	if err != nil {
		// Stage detail is logged by the pipeline and never returned to clients.
		fail(c, http.StatusInternalServerError, msgServerError)
		return
	}
	c.JSON(http.StatusOK, talkResponse{
		Status:   true,
		FileCode: res.FileCode,
		LipSync:  res.LipSync,
		AIRes:    res.AnswerText,
	})
}

func (s *Server) handleMouth(c *gin.Context) {
	code := c.Param("fileCode")
	track, err := s.deps.Tracks.Load(code)
	if errors.Is(err, lipsync.ErrNotFound) {
		fail(c, http.StatusNotFound, msgServerError)
		return
	}
	if err != nil {
		s.logger.Warn("failed to load lip-sync track", slog.String("file_code", code), slogError(err))
		fail(c, http.StatusInternalServerError, msgServerError)
		return
	}
	c.JSON(http.StatusOK, mouthResponse{Status: true, FileCode: code, LipSync: track})
}

func (s *Server) handleSession(c *gin.Context) {
	sess, err := s.deps.Sessions.Session(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		s.logger.Warn("failed to read session", slogError(err))
		fail(c, http.StatusInternalServerError, msgServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    true,
		"sessionId": sess.ID,
		"chats":     sess.Chats,
	})
}

// handleLocation acknowledges coordinates unconditionally and forwards them
// when a reporter is configured.
func (s *Server) handleLocation(c *gin.Context) {
	var body struct {
		Coords json.RawMessage `json:"coords"`
	}
	if err := c.ShouldBindJSON(&body); err == nil && s.deps.Locations != nil && len(body.Coords) > 0 {
		if err := s.deps.Locations.ReportLocation(c.Request.Context(), body.Coords); err != nil {
			s.logger.Warn("failed to report location", slogError(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": true})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleReady(c *gin.Context) {
	if s.deps.Ready == nil || s.deps.Ready() {
		c.String(http.StatusOK, "ready")
		return
	}
	c.String(http.StatusServiceUnavailable, "not ready")
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
