// Package content generates educational material for a topic. Every
// operation runs cache check, generation, validation and fix-up, optional
// sandbox execution, optional narration and cache write, in that order, and
// substitutes deterministic fallback content whenever a stage fails.
package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lessongate/internal/blob"
	"lessongate/internal/cache"
	"lessongate/internal/coalesce"
	"lessongate/internal/metrics"
	"lessongate/internal/sandbox"
	"lessongate/internal/tts"
	"lessongate/pkg/logging/logging"
)

type Deps struct {
	Cache          *cache.TopicCache
	LLM            TextGenerator
	Sandbox        Executor
	Speech         Speaker
	Translator     Translator
	Media          blob.Store
	Fallbacks      *FallbackTable
	MediaFallbacks *MediaFallbacks
	Logger         *zap.Logger

	// PartObserver, when set, brackets each lesson part's execute stage.
	PartObserver PartObserver
	// NewSessionID defaults to random UUIDs.
	NewSessionID func() string
}

type Service struct {
	cache      *cache.TopicCache
	llm        TextGenerator
	sandbox    Executor
	speech     Speaker
	translator Translator
	media      blob.Store
	fallbacks  *FallbackTable
	mediaFB    *MediaFallbacks
	observer   PartObserver
	newSession func() string
	logger     *zap.Logger

	manim     *coalesce.Group[*ManimResult]
	lesson    *coalesce.Group[*LessonResult]
	voice     *coalesce.Group[*VoiceResult]
	article   *coalesce.Group[*ArticleResult]
	translate *coalesce.Group[*TranslateResult]
}

func New(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("content")

	s := &Service{
		cache:      d.Cache,
		llm:        d.LLM,
		sandbox:    d.Sandbox,
		speech:     d.Speech,
		translator: d.Translator,
		media:      d.Media,
		fallbacks:  d.Fallbacks,
		mediaFB:    d.MediaFallbacks,
		observer:   d.PartObserver,
		newSession: d.NewSessionID,
		logger:     logger,

		manim:     coalesce.NewGroup[*ManimResult]("manim"),
		lesson:    coalesce.NewGroup[*LessonResult]("lesson"),
		voice:     coalesce.NewGroup[*VoiceResult]("voice"),
		article:   coalesce.NewGroup[*ArticleResult]("article"),
		translate: coalesce.NewGroup[*TranslateResult]("translation"),
	}
	if s.cache == nil {
		s.cache = cache.New(blob.NewMemoryStore(), cache.Config{}, logger)
	}
	if s.fallbacks == nil {
		s.fallbacks = DefaultFallbacks()
	}
	if s.mediaFB == nil {
		s.mediaFB = DefaultMediaFallbacks()
	}
	if s.newSession == nil {
		s.newSession = uuid.NewString
	}
	return s
}

// Coalesced generations outlive the caller that started them: the other
// callers are still waiting on the result.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func (s *Service) GenerateManim(ctx context.Context, req ManimRequest) (*ManimResult, error) {
	req, err := req.normalize()
	if err != nil {
		return nil, err
	}
	key := coalesce.RequestKey("manim", req.Topic, req.Execute, req.SessionID)
	res, shared, err := s.manim.Do(key, func() (*ManimResult, error) {
		return s.runManim(detach(ctx), req), nil
	})
	if err != nil {
		return nil, err
	}
	s.logDone(ctx, "manim", req.Topic, shared, res.Meta)
	return res, nil
}

func (s *Service) GenerateLesson(ctx context.Context, req LessonRequest) (*LessonResult, error) {
	req, err := req.normalize()
	if err != nil {
		return nil, err
	}
	key := coalesce.RequestKey("lesson", req.Topic, req.Parts, req.IncludeAudio, req.Execute, req.VoiceID)
	res, shared, err := s.lesson.Do(key, func() (*LessonResult, error) {
		return s.runLesson(detach(ctx), req), nil
	})
	if err != nil {
		return nil, err
	}
	s.logDone(ctx, "lesson", req.Topic, shared, res.Meta)
	return res, nil
}

func (s *Service) GenerateVoice(ctx context.Context, req VoiceRequest) (*VoiceResult, error) {
	req, err := req.normalize()
	if err != nil {
		return nil, err
	}
	key := coalesce.RequestKey("voice", req.Topic, req.VoiceID, req.Style)
	res, shared, err := s.voice.Do(key, func() (*VoiceResult, error) {
		return s.runVoice(detach(ctx), req), nil
	})
	if err != nil {
		return nil, err
	}
	s.logDone(ctx, "voice", req.Topic, shared, res.Meta)
	return res, nil
}

func (s *Service) GenerateArticle(ctx context.Context, req ArticleRequest) (*ArticleResult, error) {
	req, err := req.normalize()
	if err != nil {
		return nil, err
	}
	key := coalesce.RequestKey("article", req.Topic, req.Length, req.Style, req.IncludeAudio, req.VoiceID)
	res, shared, err := s.article.Do(key, func() (*ArticleResult, error) {
		return s.runArticle(detach(ctx), req), nil
	})
	if err != nil {
		return nil, err
	}
	s.logDone(ctx, "article", req.Topic, shared, res.Meta)
	return res, nil
}

func (s *Service) Translate(ctx context.Context, req TranslateRequest) (*TranslateResult, error) {
	req, err := req.normalize()
	if err != nil {
		return nil, err
	}
	digest := textsDigest(req.Texts)
	key := coalesce.RequestKey("translation", req.TargetLanguage, digest)
	res, shared, err := s.translate.Do(key, func() (*TranslateResult, error) {
		return s.runTranslate(detach(ctx), req, digest), nil
	})
	if err != nil {
		return nil, err
	}
	s.logDone(ctx, "translation", req.TargetLanguage, shared, res.Meta)
	return res, nil
}

func (s *Service) runManim(ctx context.Context, req ManimRequest) *ManimResult {
	defer observe("manim", time.Now())

	res := &ManimResult{Meta: Meta{Success: true}, Topic: req.Topic}

	var p ManimPayload
	fresh := false
	if s.cache.Get(ctx, cache.TypeManim, req.Topic, &p) && p.ValidatedCode != "" {
		res.Cached = true
	} else {
		p, res.FallbackUsed = s.manimPayload(ctx, req.Topic)
		fresh = !res.FallbackUsed
	}

	if req.Execute {
		res.SessionID = req.SessionID
		if res.SessionID == "" {
			res.SessionID = s.newSession()
		}
		res.Execution = s.execute(ctx, "manim", req.Topic, res.SessionID, "", p.ValidatedCode)
		if res.Execution.FallbackMedia {
			res.FallbackUsed = true
		}
	}

	if fresh {
		s.cache.Set(ctx, cache.TypeManim, req.Topic, p)
	}

	res.Title = p.Title
	res.Code = p.Code
	res.Validated = p.ValidatedCode
	res.Explain = p.Explanation
	return res
}

// manimPayload runs the generate and fix-up stages. usedFallback reports
// that the result came from the fallback table.
func (s *Service) manimPayload(ctx context.Context, topic string) (p ManimPayload, usedFallback bool) {
	if s.generate(ctx, "manim", manimSystem, manimPrompt(topic), &p) {
		fixed, err := FixManimCode(p.Code)
		if err == nil {
			p.ValidatedCode = fixed
			return p, false
		}
		s.fallback(ctx, "manim", "validate", err)
	}
	return s.fallbackManim(topic), true
}

func (s *Service) fallbackManim(topic string) ManimPayload {
	p := s.fallbacks.Manim(topic)
	p.ValidatedCode, _ = FixManimCode(p.Code)
	return p
}

func (s *Service) runLesson(ctx context.Context, req LessonRequest) *LessonResult {
	defer observe("lesson", time.Now())

	res := &LessonResult{Meta: Meta{Success: true}, Topic: req.Topic, SessionID: req.SessionID}
	if res.SessionID == "" {
		res.SessionID = s.newSession()
	}
	cacheTopic := fmt.Sprintf("%s %d parts", req.Topic, req.Parts)

	var plan LessonPayload
	fresh := false
	if s.cache.Get(ctx, cache.TypeLesson, cacheTopic, &plan) && len(plan.Parts) > 0 {
		res.Cached = true
	} else {
		var generated LessonPayload
		if s.generate(ctx, "lesson", lessonSystem, lessonPrompt(req.Topic, req.Parts), &generated) {
			plan = generated
			fresh = true
		} else {
			plan = s.fallbacks.Lesson(req.Topic, req.Parts)
			res.FallbackUsed = true
		}
	}
	plan.Parts = renumber(plan.Parts, req.Parts)
	res.Title = plan.Title

	// Parts run one after another: they share the sandbox working
	// directory and output names.
	for i, part := range plan.Parts {
		pr := LessonPartResult{LessonPart: part}

		code, err := FixManimCode(part.Code)
		if err != nil {
			s.fallback(ctx, "lesson", "validate", err)
			fb := s.fallbacks.Lesson(req.Topic, len(plan.Parts)).Parts[i]
			code, _ = FixManimCode(fb.Code)
			pr.Code = fb.Code
			res.FallbackUsed = true
		} else {
			plan.Parts[i].Code = code
		}
		pr.ValidatedCode = code

		if req.Execute {
			s.notify(part.Part, "start")
			pr.Execution = s.execute(ctx, "lesson", req.Topic, res.SessionID, fmt.Sprintf("part%d_", part.Part), code)
			s.notify(part.Part, "end")
			if pr.Execution.FallbackMedia {
				res.FallbackUsed = true
			}
		}

		if req.IncludeAudio {
			pr.Audio = s.speak(ctx, "lesson", LessonNarration(part), req.VoiceID, "")
		}
		res.Parts = append(res.Parts, pr)
	}

	if fresh {
		s.cache.Set(ctx, cache.TypeLesson, cacheTopic, plan)
	}
	return res
}

// renumber keeps at most limit parts and numbers them from 1 in order.
func renumber(parts []LessonPart, limit int) []LessonPart {
	if limit > 0 && len(parts) > limit {
		parts = parts[:limit]
	}
	for i := range parts {
		parts[i].Part = i + 1
	}
	return parts
}

func (s *Service) notify(part int, stage string) {
	if s.observer != nil {
		s.observer(part, stage)
	}
}

func (s *Service) runVoice(ctx context.Context, req VoiceRequest) *VoiceResult {
	defer observe("voice", time.Now())

	res := &VoiceResult{Meta: Meta{Success: true}, Topic: req.Topic}
	cacheTopic := req.Topic + " " + req.Style

	var p VoicePayload
	fresh := false
	if s.cache.Get(ctx, cache.TypeVoice, cacheTopic, &p) {
		res.Cached = true
	} else {
		var generated VoicePayload
		if s.generate(ctx, "voice", voiceSystem, voicePrompt(req.Topic, req.Style), &generated) {
			p = generated
			fresh = true
		} else {
			p = s.fallbacks.Voice(req.Topic)
			res.FallbackUsed = true
		}
	}
	if len(p.Segments) == 0 {
		p.Segments = TimeSegments(p.Script)
	}

	res.Audio = s.speak(ctx, "voice", p.Script, req.VoiceID, req.Style)

	if fresh {
		s.cache.Set(ctx, cache.TypeVoice, cacheTopic, p)
	}
	res.VoicePayload = p
	return res
}

func (s *Service) runArticle(ctx context.Context, req ArticleRequest) *ArticleResult {
	defer observe("article", time.Now())

	res := &ArticleResult{Meta: Meta{Success: true}, Topic: req.Topic, Length: req.Length, Style: req.Style}
	target := ArticleTargets[req.Length]
	cacheTopic := req.Topic + " " + req.Length + " " + req.Style

	var p ArticlePayload
	fresh := false
	if s.cache.Get(ctx, cache.TypeArticle, cacheTopic, &p) {
		res.Cached = true
	} else {
		var generated ArticlePayload
		if s.generate(ctx, "article", articleSystem, articlePrompt(req.Topic, req.Style, target), &generated) {
			p = generated
			fresh = true
		} else {
			p = s.fallbacks.Article(req.Topic)
			res.FallbackUsed = true
		}
	}

	if EnforceArticleLength(&p, target) {
		logging.FromContextOr(ctx, s.logger).Info("article shortened to length target",
			zap.String("topic", req.Topic),
			zap.Int("target", target),
			zap.Int("sections", len(p.Sections)))
	}

	html, err := ArticleHTML(p)
	if err != nil {
		logging.FromContextOr(ctx, s.logger).Warn("article html render failed", zap.Error(err))
	}
	res.HTML = html
	res.CharCount = ArticleLength(p)

	if req.IncludeAudio {
		res.Audio = s.speak(ctx, "article", ArticleNarration(p), req.VoiceID, "")
	}

	if fresh {
		s.cache.Set(ctx, cache.TypeArticle, cacheTopic, p)
	}
	res.ArticlePayload = p
	return res
}

func (s *Service) runTranslate(ctx context.Context, req TranslateRequest, digest string) *TranslateResult {
	defer observe("translation", time.Now())

	res := &TranslateResult{Meta: Meta{Success: true}, TargetLanguage: req.TargetLanguage}
	cacheTopic := req.TargetLanguage + " " + digest

	var p TranslationPayload
	if s.cache.Get(ctx, cache.TypeTranslation, cacheTopic, &p) && len(p.Texts) == len(req.Texts) {
		res.Cached = true
		res.Texts = p.Texts
		return res
	}

	tr, err := s.callTranslator(ctx, req)
	if err != nil {
		s.fallback(ctx, "translation", "generate", err)
		// untranslated text beats no text
		res.FallbackUsed = true
		res.Texts = append([]string(nil), req.Texts...)
		return res
	}

	p = TranslationPayload{TargetLanguage: req.TargetLanguage, Texts: tr.Texts, CreditsUsed: tr.CreditsUsed}
	s.cache.Set(ctx, cache.TypeTranslation, cacheTopic, p)

	res.Texts = p.Texts
	res.CreditsUsed = p.CreditsUsed
	return res
}

func (s *Service) callTranslator(ctx context.Context, req TranslateRequest) (*tts.Translation, error) {
	if s.translator == nil {
		return nil, errors.New("translator not configured")
	}
	tr, err := s.translator.Translate(ctx, req.Texts, req.TargetLanguage)
	if err != nil {
		return nil, err
	}
	if len(tr.Texts) != len(req.Texts) {
		return nil, fmt.Errorf("translator returned %d texts for %d", len(tr.Texts), len(req.Texts))
	}
	return tr, nil
}

func textsDigest(texts []string) string {
	h := sha256.New()
	for _, t := range texts {
		h.Write([]byte(t))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// generate asks the LLM for a payload and decodes it, strictly first and
// then best-effort. false means the caller must substitute fallback
// content; out is unspecified in that case.
func (s *Service) generate(ctx context.Context, kind, system, prompt string, out Payload) bool {
	logger := logging.FromContextOr(ctx, s.logger)
	if s.llm == nil {
		s.fallback(ctx, kind, "generate", errors.New("llm not configured"))
		return false
	}

	text, err := s.llm.Complete(ctx, system, prompt)
	if err != nil {
		s.fallback(ctx, kind, "generate", err)
		return false
	}

	strictErr := DecodeStrict(text, out)
	if strictErr == nil {
		return true
	}
	if err := ExtractBestEffort(text, out); err == nil {
		logger.Info("generated content recovered by best-effort extraction",
			zap.String("kind", kind),
			zap.NamedError("strict_error", strictErr))
		return true
	}

	s.fallback(ctx, kind, "decode", strictErr)
	return false
}

// execute renders code in the sandbox and stores the produced video. Any
// failure selects fallback media instead.
func (s *Service) execute(ctx context.Context, kind, topic, sessionID, prefix, code string) *Execution {
	ex := &Execution{}

	var err error
	if s.sandbox == nil {
		err = errors.New("sandbox not configured")
	} else {
		scene := SceneName(code)
		var res *sandbox.Result
		res, err = s.sandbox.Execute(ctx, sandbox.Job{
			Code:     code,
			Filename: "main.py",
			Command:  fmt.Sprintf("manim render -ql --format mp4 -o %s main.py %s", scene, scene),
		})
		if err == nil {
			files := make([]fileOut, 0, len(res.Files))
			for _, f := range res.Files {
				files = append(files, fileOut{name: f.Name, data: f.Content})
			}
			ex.Files = s.storeMedia(ctx, sessionID, prefix, files)
			if len(ex.Files) > 0 {
				ex.ExecutionSuccess = true
				ex.VideoURL = ex.Files[0]
				return ex
			}
			err = errors.New("no video produced")
		}
	}

	url, rule := s.mediaFB.Select(topic)
	ex.VideoURL = url
	ex.FallbackMedia = true
	ex.Error = err.Error()
	s.fallback(ctx, kind, "execute", err)
	logging.FromContextOr(ctx, s.logger).Info("fallback media selected",
		zap.String("topic", topic),
		zap.String("rule", rule),
		zap.String("video_url", url))
	return ex
}

// speak narrates text. Failures omit the audio.
func (s *Service) speak(ctx context.Context, kind, text, voiceID, style string) *Audio {
	if s.speech == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	prepared, truncated := PrepareSpeechText(text, s.speech.MaxChars())
	sp, err := s.speech.Synthesize(ctx, prepared, voiceID, style)
	if err != nil {
		logging.FromContextOr(ctx, s.logger).Warn("narration failed, audio omitted",
			zap.String("kind", kind), zap.Error(err))
		metrics.FallbacksTotal.WithLabelValues(kind, "augment").Inc()
		return nil
	}
	return &Audio{AudioURL: sp.AudioURL, DurationSeconds: sp.DurationSeconds, Truncated: truncated}
}

func (s *Service) fallback(ctx context.Context, kind, stage string, err error) {
	metrics.FallbacksTotal.WithLabelValues(kind, stage).Inc()
	logging.FromContextOr(ctx, s.logger).Warn("stage failed, using fallback",
		zap.String("kind", kind),
		zap.String("stage", stage),
		zap.Error(err))
}

func (s *Service) logDone(ctx context.Context, kind, topic string, shared bool, m Meta) {
	logging.FromContextOr(ctx, s.logger).Info("generation finished",
		zap.String("kind", kind),
		zap.String("topic", topic),
		zap.Bool("shared", shared),
		zap.Bool("cached", m.Cached),
		zap.Bool("fallback_used", m.FallbackUsed))
}

func observe(kind string, start time.Time) {
	metrics.GenerationSeconds.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
