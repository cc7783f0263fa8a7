// Package handlers holds the thin HTTP layer over the content service:
// decode and validate a body, call one operation, encode the result.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lessongate/internal/content"
	"lessongate/pkg/logging/logging"
)

// Generator is the part of content.Service the routes need.
type Generator interface {
	GenerateManim(ctx context.Context, req content.ManimRequest) (*content.ManimResult, error)
	GenerateLesson(ctx context.Context, req content.LessonRequest) (*content.LessonResult, error)
	GenerateVoice(ctx context.Context, req content.VoiceRequest) (*content.VoiceResult, error)
	GenerateArticle(ctx context.Context, req content.ArticleRequest) (*content.ArticleResult, error)
	Translate(ctx context.Context, req content.TranslateRequest) (*content.TranslateResult, error)
}

// ContentHandler serves the /api generation routes.
type ContentHandler struct {
	svc        Generator
	newSession func() string
}

func NewContentHandler(svc Generator) *ContentHandler {
	return &ContentHandler{svc: svc, newSession: uuid.NewString}
}

type manimBody struct {
	Topic     string `json:"topic" validate:"required,max=200"`
	Execute   bool   `json:"execute"`
	SessionID string `json:"sessionId" validate:"omitempty,uuid"`
}

type lessonBody struct {
	Topic        string `json:"topic" validate:"required,max=200"`
	Parts        int    `json:"parts" validate:"omitempty,min=1,max=10"`
	IncludeAudio bool   `json:"includeAudio"`
	Execute      bool   `json:"execute"`
	VoiceID      string `json:"voiceId" validate:"omitempty,max=64"`
}

type voiceBody struct {
	Topic   string `json:"topic" validate:"required,max=200"`
	VoiceID string `json:"voiceId" validate:"omitempty,max=64"`
	Style   string `json:"style" validate:"omitempty,oneof=educational conversational enthusiastic calm"`
}

type articleBody struct {
	Topic        string `json:"topic" validate:"required,max=200"`
	Length       string `json:"length" validate:"omitempty,oneof=short medium long"`
	Style        string `json:"style" validate:"omitempty,oneof=academic casual technical storytelling"`
	IncludeAudio bool   `json:"includeAudio"`
	VoiceID      string `json:"voiceId" validate:"omitempty,max=64"`
}

type translateBody struct {
	Texts          []string `json:"texts" validate:"required,min=1,max=100,dive,required"`
	TargetLanguage string   `json:"targetLanguage" validate:"required,max=8"`
}

// Manim handles POST /api/manim.
func (h *ContentHandler) Manim(w http.ResponseWriter, r *http.Request) {
	var body manimBody
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	start := time.Now()
	res, err := h.svc.GenerateManim(r.Context(), content.ManimRequest{
		Topic:     body.Topic,
		Execute:   body.Execute,
		SessionID: body.SessionID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	logResult(r, "manim", res.Meta, start)
	writeJSON(w, http.StatusOK, res)
}

// Lesson handles POST /api/lesson. Each series gets a fresh session id that
// namespaces its rendered media.
func (h *ContentHandler) Lesson(w http.ResponseWriter, r *http.Request) {
	var body lessonBody
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	start := time.Now()
	res, err := h.svc.GenerateLesson(r.Context(), content.LessonRequest{
		Topic:        body.Topic,
		Parts:        body.Parts,
		IncludeAudio: body.IncludeAudio,
		Execute:      body.Execute,
		VoiceID:      body.VoiceID,
		SessionID:    h.newSession(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	logResult(r, "lesson", res.Meta, start)
	writeJSON(w, http.StatusOK, res)
}

// Voice handles POST /api/voice.
func (h *ContentHandler) Voice(w http.ResponseWriter, r *http.Request) {
	var body voiceBody
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	start := time.Now()
	res, err := h.svc.GenerateVoice(r.Context(), content.VoiceRequest{
		Topic:   body.Topic,
		VoiceID: body.VoiceID,
		Style:   body.Style,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	logResult(r, "voice", res.Meta, start)
	writeJSON(w, http.StatusOK, res)
}

// Article handles POST /api/article.
func (h *ContentHandler) Article(w http.ResponseWriter, r *http.Request) {
	var body articleBody
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	start := time.Now()
	res, err := h.svc.GenerateArticle(r.Context(), content.ArticleRequest{
		Topic:        body.Topic,
		Length:       body.Length,
		Style:        body.Style,
		IncludeAudio: body.IncludeAudio,
		VoiceID:      body.VoiceID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	logResult(r, "article", res.Meta, start)
	writeJSON(w, http.StatusOK, res)
}

// Translate handles POST /api/translate.
func (h *ContentHandler) Translate(w http.ResponseWriter, r *http.Request) {
	var body translateBody
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	start := time.Now()
	res, err := h.svc.Translate(r.Context(), content.TranslateRequest{
		Texts:          body.Texts,
		TargetLanguage: body.TargetLanguage,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	logResult(r, "translation", res.Meta, start)
	writeJSON(w, http.StatusOK, res)
}

func logResult(r *http.Request, kind string, m content.Meta, start time.Time) {
	logging.L(r.Context()).Info("content_response",
		zap.String("kind", kind),
		zap.Bool("cached", m.Cached),
		zap.Bool("fallback_used", m.FallbackUsed),
		zap.Duration("total_latency_ms", time.Since(start)),
	)
}
