package content

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func fence(s string) string {
	return strings.ReplaceAll(s, "'''", "```")
}

func TestDecodeStrict(t *testing.T) {
	var p ArticlePayload
	err := DecodeStrict(`{"title":"Gravity","introduction":"i","sections":[{"title":"a","content":"b"}],"conclusion":"c"}`, &p)
	if err != nil {
		t.Fatalf("DecodeStrict: %v", err)
	}
	if p.Title != "Gravity" || len(p.Sections) != 1 {
		t.Fatalf("unexpected payload %#v", p)
	}

	var fenced VoicePayload
	if err := DecodeStrict(fence("'''json\n{\"title\":\"t\",\"script\":\"s\"}\n'''"), &fenced); err != nil {
		t.Fatalf("fenced JSON should decode: %v", err)
	}
}

func TestDecodeStrictRejects(t *testing.T) {
	cases := map[string]string{
		"prose":          `Sure! {"title":"t","script":"s"}`,
		"missing script": `{"title":"t"}`,
		"malformed":      `{"title":"t","script":`,
		"trailing":       `{"title":"t","script":"s"} {"x":1}`,
	}
	for name, in := range cases {
		var p VoicePayload
		if err := DecodeStrict(in, &p); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestExtractBestEffortEmbeddedJSON(t *testing.T) {
	var p VoicePayload
	err := ExtractBestEffort(`Sure! Here it is: {"title":"Orbits","script":"Things fall around."} Hope it helps.`, &p)
	if err != nil {
		t.Fatalf("ExtractBestEffort: %v", err)
	}
	if p.Title != "Orbits" || p.Script != "Things fall around." {
		t.Fatalf("unexpected payload %#v", p)
	}
}

func TestExtractBestEffortManimFromProse(t *testing.T) {
	text := fence("The animation:\n'''python\nfrom manim import *\n\nclass FallScene(Scene):\n    def construct(self):\n        pass\n'''\n")
	var p ManimPayload
	if err := ExtractBestEffort(text, &p); err != nil {
		t.Fatalf("ExtractBestEffort: %v", err)
	}
	if p.Title != "FallScene" || !strings.Contains(p.Code, "class FallScene(Scene)") {
		t.Fatalf("unexpected payload %#v", p)
	}
}

func TestExtractBestEffortBrokenJSONFields(t *testing.T) {
	// unterminated object, but the fields are readable
	text := `{"title": "Gravity", "code": "from manim import *\nclass G(Scene):\n    def construct(self):\n        pass", "explanation": "falls`
	var p ManimPayload
	if err := ExtractBestEffort(text, &p); err != nil {
		t.Fatalf("ExtractBestEffort: %v", err)
	}
	if p.Title != "Gravity" || !strings.Contains(p.Code, "class G(Scene):\n") {
		t.Fatalf("unexpected payload %#v", p)
	}
}

func TestExtractBestEffortLessonParts(t *testing.T) {
	text := fence(`# Gravity Series

Part 1: Falling
Everything falls at the same rate.
'''python
class P1(Scene):
    def construct(self):
        pass
'''

**Part 2: Orbits**
An orbit is a fall that never ends.
'''python
class P2(Scene):
    def construct(self):
        pass
'''
`)
	var p LessonPayload
	if err := ExtractBestEffort(text, &p); err != nil {
		t.Fatalf("ExtractBestEffort: %v", err)
	}
	if p.Title != "Gravity Series" || len(p.Parts) != 2 {
		t.Fatalf("unexpected payload %#v", p)
	}
	if p.Parts[1].Title != "Orbits" || p.Parts[1].Script != "An orbit is a fall that never ends." {
		t.Fatalf("unexpected part 2 %#v", p.Parts[1])
	}
	if !strings.Contains(p.Parts[0].Code, "class P1(Scene)") {
		t.Fatalf("code not extracted: %q", p.Parts[0].Code)
	}
}

func TestExtractBestEffortMarkdownArticle(t *testing.T) {
	text := "Here you go:\n# Gravity\nIntro text.\n## Newton\nBody one.\n## Einstein\nBody two.\n## Conclusion\nWrap up.\n"
	var p ArticlePayload
	if err := ExtractBestEffort(text, &p); err != nil {
		t.Fatalf("ExtractBestEffort: %v", err)
	}
	if p.Title != "Gravity" || p.Introduction != "Intro text." || p.Conclusion != "Wrap up." {
		t.Fatalf("unexpected payload %#v", p)
	}
	if len(p.Sections) != 2 || p.Sections[1].Content != "Body two." {
		t.Fatalf("unexpected sections %#v", p.Sections)
	}
}

func TestExtractBestEffortFails(t *testing.T) {
	for _, in := range []string{"", "I can't help with that.", "{}"} {
		var a ArticlePayload
		if err := ExtractBestEffort(in, &a); err == nil {
			t.Errorf("article from %q: expected error", in)
		}
		var m ManimPayload
		if err := ExtractBestEffort(in, &m); err == nil {
			t.Errorf("manim from %q: expected error", in)
		}
	}
}

func TestFirstSentenceCutsOnRunes(t *testing.T) {
	long := strings.Repeat("é", 100)
	got := firstSentence(long)
	if !utf8.ValidString(got) {
		t.Fatalf("title is not valid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 80 {
		t.Fatalf("expected 80 runes, got %d", n)
	}
	if got := firstSentence("Orbits. Then more."); got != "Orbits" {
		t.Fatalf("unexpected sentence %q", got)
	}
}
