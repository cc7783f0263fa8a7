package cache

import (
	"fmt"
	"strings"
	"unicode"
)

// ContentType tags what kind of payload an entry holds.
type ContentType string

const (
	TypeManim       ContentType = "manim"
	TypeVoice       ContentType = "voice"
	TypeLesson      ContentType = "lesson"
	TypeArticle     ContentType = "article"
	TypeTranslation ContentType = "translation"
)

// ContentTypes lists every known type, in a stable order.
var ContentTypes = []ContentType{TypeManim, TypeVoice, TypeLesson, TypeArticle, TypeTranslation}

func (t ContentType) Valid() bool {
	for _, known := range ContentTypes {
		if t == known {
			return true
		}
	}
	return false
}

const (
	topicSeparator  = '_'
	maxNormalized   = 120
	untitledTopic   = "untitled"
	defaultKeySpace = "topics/"
)

// NormalizeTopic lower-cases raw and collapses every run of characters that
// are not letters or digits into a single '_', trimming it at both ends.
// Distinct topics that normalize identically share a cache entry.
func NormalizeTopic(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	pendingSep := false
	n := 0
	for _, r := range strings.ToLower(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteRune(topicSeparator)
				n++
			}
			pendingSep = false
			b.WriteRune(r)
			n++
			if n >= maxNormalized {
				break
			}
			continue
		}
		pendingSep = true
	}

	if b.Len() == 0 {
		return untitledTopic
	}
	return b.String()
}

// TopicKey identifies one cached payload.
type TopicKey struct {
	Type  ContentType
	Topic string // normalized
}

// NewTopicKey derives the key for a raw topic.
func NewTopicKey(t ContentType, rawTopic string) TopicKey {
	return TopicKey{Type: t, Topic: NormalizeTopic(rawTopic)}
}

// String is the logical key, e.g. "manim/black_holes".
func (k TopicKey) String() string {
	return fmt.Sprintf("%s/%s", k.Type, k.Topic)
}

// blobKey is the storage key under the given key space.
func (k TopicKey) blobKey(space string) string {
	return space + k.String() + ".json"
}

// parseBlobKey reverses blobKey. ok is false for foreign keys.
func parseBlobKey(space, key string) (TopicKey, bool) {
	rest, found := strings.CutPrefix(key, space)
	if !found {
		return TopicKey{}, false
	}
	rest, found = strings.CutSuffix(rest, ".json")
	if !found {
		return TopicKey{}, false
	}
	typ, topic, found := strings.Cut(rest, "/")
	if !found || topic == "" {
		return TopicKey{}, false
	}
	return TopicKey{Type: ContentType(typ), Topic: topic}, true
}
