package content

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"lessongate/internal/blob"
	"lessongate/internal/cache"
)

// MediaRule maps matching topics to a pre-recorded video.
type MediaRule struct {
	Name  string
	Match func(normalized string) bool
	URL   string
}

// MediaFallbacks picks the video shown when a scene could not be rendered.
type MediaFallbacks struct {
	rules      []MediaRule
	defaultURL string
}

func NewMediaFallbacks(defaultURL string, rules ...MediaRule) *MediaFallbacks {
	return &MediaFallbacks{rules: rules, defaultURL: defaultURL}
}

const (
	DefaultFallbackVideo = "/static/fallback/default.mp4"
	MathFallbackVideo    = "/static/fallback/math.mp4"
)

func DefaultMediaFallbacks() *MediaFallbacks {
	return NewMediaFallbacks(DefaultFallbackVideo,
		MediaRule{Name: "math", Match: containsAny("math", "calculus", "algebra", "geometry", "equation"), URL: MathFallbackVideo},
	)
}

// SubstringRule builds a rule from plain substrings, as configured.
func SubstringRule(name, url string, substrings ...string) MediaRule {
	words := make([]string, 0, len(substrings))
	for _, s := range substrings {
		if n := cache.NormalizeTopic(s); n != "untitled" {
			words = append(words, n)
		}
	}
	return MediaRule{Name: name, Match: containsAny(words...), URL: url}
}

// Select returns the URL for topic and the name of the rule that chose it.
func (m *MediaFallbacks) Select(topic string) (url, rule string) {
	n := cache.NormalizeTopic(topic)
	for _, r := range m.rules {
		if r.Match != nil && r.Match(n) {
			return r.URL, r.Name
		}
	}
	return m.defaultURL, "default"
}

const mediaSpace = "media/"

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// MediaKey is the blob key for a produced file.
func MediaKey(sessionID, file string) string {
	return mediaSpace + sessionID + "/" + file
}

// MediaURL is the public path the media route serves file under.
func MediaURL(sessionID, file string) string {
	return "/" + MediaKey(sessionID, file)
}

// SafeFileName reduces name to a flat file name usable in a media key.
func SafeFileName(name string) string {
	name = unsafeFileChars.ReplaceAllString(path.Base(strings.ReplaceAll(name, `\`, "/")), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	return name
}

var videoExts = []string{".mp4", ".webm", ".mov", ".gif"}

func isVideo(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, v := range videoExts {
		if ext == v {
			return true
		}
	}
	return false
}

// storeMedia uploads produced videos under the session and returns their
// URLs in sandbox order. Upload failures are logged and skipped.
func (s *Service) storeMedia(ctx context.Context, sessionID, prefix string, files []fileOut) []string {
	if s.media == nil {
		return nil
	}
	var urls []string
	for _, f := range files {
		if !isVideo(f.name) || len(f.data) == 0 {
			continue
		}
		name := SafeFileName(prefix + f.name)
		if err := s.media.Put(ctx, MediaKey(sessionID, name), f.data); err != nil {
			s.logger.Warn("media upload failed",
				zap.String("session_id", sessionID),
				zap.String("file", name),
				zap.Error(err))
			continue
		}
		urls = append(urls, MediaURL(sessionID, name))
	}
	return urls
}

type fileOut struct {
	name string
	data []byte
}

// ReadMedia loads a stored media file.
func ReadMedia(ctx context.Context, store blob.Store, sessionID, file string) ([]byte, error) {
	if file != SafeFileName(file) {
		return nil, fmt.Errorf("%w: bad media file name", ErrInvalidInput)
	}
	return store.Get(ctx, MediaKey(sessionID, file))
}
