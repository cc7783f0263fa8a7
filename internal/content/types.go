package content

import (
	"context"
	"errors"

	"lessongate/internal/sandbox"
	"lessongate/internal/tts"
)

var (
	// ErrInvalidInput marks a request the caller must fix. It is the only
	// error the generation operations return for well-formed services.
	ErrInvalidInput = errors.New("invalid input")

	// ErrValidation marks generated code that is still unusable after
	// fix-up.
	ErrValidation = errors.New("generated code failed validation")
)

// Collaborators. Any of them may be nil, in which case the stage that
// needs it takes its fallback path.

type TextGenerator interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

type Executor interface {
	Execute(ctx context.Context, job sandbox.Job) (*sandbox.Result, error)
}

type Speaker interface {
	Synthesize(ctx context.Context, text, voiceID, style string) (*tts.Speech, error)
	MaxChars() int
}

type Translator interface {
	Translate(ctx context.Context, texts []string, target string) (*tts.Translation, error)
}

// Generated payloads. These are what the topic cache stores.

type ManimPayload struct {
	Title         string `json:"title"`
	Code          string `json:"code"`
	ValidatedCode string `json:"validatedCode,omitempty"`
	Explanation   string `json:"explanation,omitempty"`
}

type VoiceSegment struct {
	Text            string  `json:"text"`
	StartSeconds    float64 `json:"startSeconds"`
	DurationSeconds float64 `json:"durationSeconds"`
}

type VoicePayload struct {
	Title    string         `json:"title"`
	Script   string         `json:"script"`
	Segments []VoiceSegment `json:"segments"`
}

type LessonPart struct {
	Part   int    `json:"part"`
	Title  string `json:"title"`
	Script string `json:"script"`
	Code   string `json:"code"`
}

type LessonPayload struct {
	Title string       `json:"title"`
	Parts []LessonPart `json:"parts"`
}

type Section struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type ArticlePayload struct {
	Title        string    `json:"title"`
	Introduction string    `json:"introduction"`
	Sections     []Section `json:"sections"`
	Conclusion   string    `json:"conclusion"`
}

type TranslationPayload struct {
	TargetLanguage string   `json:"targetLanguage"`
	Texts          []string `json:"texts"`
	CreditsUsed    int      `json:"creditsUsed"`
}

// Results returned to callers.

// Meta is carried by every result. Success is true whenever a result is
// returned; FallbackUsed reports that some stage substituted fallback
// content.
type Meta struct {
	Success      bool `json:"success"`
	FallbackUsed bool `json:"fallbackUsed"`
	Cached       bool `json:"cached"`
}

type Execution struct {
	ExecutionSuccess bool     `json:"executionSuccess"`
	VideoURL         string   `json:"videoUrl,omitempty"`
	Files            []string `json:"files,omitempty"`
	FallbackMedia    bool     `json:"fallbackMedia"`
	Error            string   `json:"error,omitempty"`
}

type Audio struct {
	AudioURL        string  `json:"audioUrl"`
	DurationSeconds float64 `json:"durationSeconds"`
	Truncated       bool    `json:"truncated,omitempty"`
}

type ManimRequest struct {
	Topic     string
	Execute   bool
	SessionID string
}

type ManimResult struct {
	Meta
	Topic     string     `json:"topic"`
	SessionID string     `json:"sessionId,omitempty"`
	Title     string     `json:"title"`
	Code      string     `json:"code"`
	Validated string     `json:"validatedCode"`
	Explain   string     `json:"explanation,omitempty"`
	Execution *Execution `json:"execution,omitempty"`
}

type LessonRequest struct {
	Topic        string
	Parts        int
	IncludeAudio bool
	Execute      bool
	VoiceID      string
	SessionID    string
}

type LessonPartResult struct {
	LessonPart
	ValidatedCode string     `json:"validatedCode"`
	Execution     *Execution `json:"execution,omitempty"`
	Audio         *Audio     `json:"audio,omitempty"`
}

type LessonResult struct {
	Meta
	Topic     string             `json:"topic"`
	SessionID string             `json:"sessionId"`
	Title     string             `json:"title"`
	Parts     []LessonPartResult `json:"parts"`
}

type VoiceRequest struct {
	Topic   string
	VoiceID string
	Style   string
}

type VoiceResult struct {
	Meta
	Topic string `json:"topic"`
	VoicePayload
	Audio *Audio `json:"audio,omitempty"`
}

type ArticleRequest struct {
	Topic        string
	Length       string
	Style        string
	IncludeAudio bool
	VoiceID      string
}

type ArticleResult struct {
	Meta
	Topic  string `json:"topic"`
	Length string `json:"length"`
	Style  string `json:"style"`
	ArticlePayload
	HTML      string `json:"html"`
	CharCount int    `json:"charCount"`
	Audio     *Audio `json:"audio,omitempty"`
}

type TranslateRequest struct {
	Texts          []string
	TargetLanguage string
}

type TranslateResult struct {
	Meta
	TargetLanguage string   `json:"targetLanguage"`
	Texts          []string `json:"texts"`
	CreditsUsed    int      `json:"creditsUsed"`
}

// PartObserver is told when each lesson part enters and leaves the
// execute stage. stage is "start" or "end".
type PartObserver func(part int, stage string)
