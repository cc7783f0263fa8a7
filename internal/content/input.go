package content

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

const (
	MaxTopicLength   = 200
	DefaultParts     = 3
	MaxParts         = 10
	MaxTranslateText = 100
)

// ArticleTargets is the character count each article length asks for.
var ArticleTargets = map[string]int{
	"short":  1500,
	"medium": 3000,
	"long":   5000,
}

var (
	ArticleStyles = []string{"academic", "casual", "technical", "storytelling"}
	VoiceStyles   = []string{"educational", "conversational", "enthusiastic", "calm"}
	Languages     = []string{"ar", "de", "en", "es", "fr", "hi", "it", "ja", "ko", "nl", "pt", "ru", "zh"}
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func cleanTopic(topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", invalid("topic is required")
	}
	if utf8.RuneCountInString(topic) > MaxTopicLength {
		return "", invalid("topic is longer than %d characters", MaxTopicLength)
	}
	return topic, nil
}

func (r ManimRequest) normalize() (ManimRequest, error) {
	var err error
	r.Topic, err = cleanTopic(r.Topic)
	return r, err
}

func (r LessonRequest) normalize() (LessonRequest, error) {
	var err error
	if r.Topic, err = cleanTopic(r.Topic); err != nil {
		return r, err
	}
	if r.Parts == 0 {
		r.Parts = DefaultParts
	}
	if r.Parts < 1 || r.Parts > MaxParts {
		return r, invalid("parts must be between 1 and %d", MaxParts)
	}
	return r, nil
}

func (r VoiceRequest) normalize() (VoiceRequest, error) {
	var err error
	if r.Topic, err = cleanTopic(r.Topic); err != nil {
		return r, err
	}
	if r.Style == "" {
		r.Style = VoiceStyles[0]
	}
	if !slices.Contains(VoiceStyles, r.Style) {
		return r, invalid("unsupported voice style %q", r.Style)
	}
	return r, nil
}

func (r ArticleRequest) normalize() (ArticleRequest, error) {
	var err error
	if r.Topic, err = cleanTopic(r.Topic); err != nil {
		return r, err
	}
	if r.Length == "" {
		r.Length = "medium"
	}
	if _, ok := ArticleTargets[r.Length]; !ok {
		return r, invalid("unsupported length %q", r.Length)
	}
	if r.Style == "" {
		r.Style = ArticleStyles[0]
	}
	if !slices.Contains(ArticleStyles, r.Style) {
		return r, invalid("unsupported style %q", r.Style)
	}
	return r, nil
}

func (r TranslateRequest) normalize() (TranslateRequest, error) {
	if len(r.Texts) == 0 {
		return r, invalid("texts are required")
	}
	if len(r.Texts) > MaxTranslateText {
		return r, invalid("at most %d texts per request", MaxTranslateText)
	}
	for i, t := range r.Texts {
		if strings.TrimSpace(t) == "" {
			return r, invalid("texts[%d] is empty", i)
		}
	}
	r.TargetLanguage = strings.ToLower(strings.TrimSpace(r.TargetLanguage))
	if !slices.Contains(Languages, r.TargetLanguage) {
		return r, invalid("unsupported target language %q", r.TargetLanguage)
	}
	return r, nil
}
