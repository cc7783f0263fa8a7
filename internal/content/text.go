package content

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"

	"lessongate/internal/tts"
)

// ClosingPhrase ends narration that had to be shortened.
const ClosingPhrase = "There is much more to discover about this topic, so keep exploring."

// PrepareSpeechText fits text into maxChars runes. Longer text is cut at
// the last sentence end (or word break) that leaves room for the closing
// phrase, which is then appended. truncated reports whether it was cut.
func PrepareSpeechText(text string, maxChars int) (out string, truncated bool) {
	text = strings.TrimSpace(text)
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text, false
	}

	budget := maxChars - utf8.RuneCountInString(ClosingPhrase) - 1
	if budget <= 0 {
		return string([]rune(ClosingPhrase)[:maxChars]), true
	}
	head := string([]rune(text)[:budget])

	if cut := tts.BreakPoint(head); cut > 0 {
		head = head[:cut]
	}

	return strings.TrimSpace(head) + " " + ClosingPhrase, true
}

// ArticleLength counts the characters an article contributes to its
// length target.
func ArticleLength(a ArticlePayload) int {
	n := utf8.RuneCountInString(a.Introduction) + utf8.RuneCountInString(a.Conclusion)
	for _, s := range a.Sections {
		n += utf8.RuneCountInString(s.Title) + utf8.RuneCountInString(s.Content)
	}
	return n
}

// EnforceArticleLength drops trailing sections until the article is no
// longer than target*1.25. Sections are never cut in the middle and at
// least one is kept. It reports whether anything was dropped.
func EnforceArticleLength(a *ArticlePayload, target int) bool {
	if target <= 0 {
		return false
	}
	limit := target + target/4
	dropped := false
	for len(a.Sections) > 1 && ArticleLength(*a) > limit {
		a.Sections = a.Sections[:len(a.Sections)-1]
		dropped = true
	}
	return dropped
}

// ArticleMarkdown lays the article out as Markdown.
func ArticleMarkdown(a ArticlePayload) string {
	var b strings.Builder
	b.WriteString("# " + a.Title + "\n\n")
	if a.Introduction != "" {
		b.WriteString(a.Introduction + "\n\n")
	}
	for _, s := range a.Sections {
		b.WriteString("## " + s.Title + "\n\n" + s.Content + "\n\n")
	}
	if a.Conclusion != "" {
		b.WriteString("## Conclusion\n\n" + a.Conclusion + "\n")
	}
	return b.String()
}

var markdown = goldmark.New()

// ArticleHTML renders the article. Raw HTML in generated text is not
// passed through.
func ArticleHTML(a ArticlePayload) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(ArticleMarkdown(a)), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ArticleNarration is the text read aloud for an article.
func ArticleNarration(a ArticlePayload) string {
	parts := []string{a.Title + ".", a.Introduction}
	for _, s := range a.Sections {
		parts = append(parts, s.Title+".", s.Content)
	}
	parts = append(parts, a.Conclusion)
	return strings.Join(nonEmpty(parts), "\n")
}

// LessonNarration is the text read aloud for one lesson part.
func LessonNarration(p LessonPart) string {
	return strings.Join(nonEmpty([]string{p.Title + ".", p.Script}), "\n")
}

const wordsPerSecond = 2.5

var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]*`)

// TimeSegments splits a script into sentences and assigns each an
// estimated start and duration from its word count.
func TimeSegments(script string) []VoiceSegment {
	var segs []VoiceSegment
	at := 0.0
	for _, s := range sentenceRe.FindAllString(script, -1) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		d := float64(len(strings.Fields(s))) / wordsPerSecond
		segs = append(segs, VoiceSegment{Text: s, StartSeconds: round1(at), DurationSeconds: round1(d)})
		at += d
	}
	return segs
}

func round1(f float64) float64 {
	return float64(int(f*10+0.5)) / 10
}

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" && s != "." {
			out = append(out, s)
		}
	}
	return out
}
