package content

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Payload is a generated structure that can check itself and be recovered
// from loosely formatted model output.
type Payload interface {
	Validate() error
	ExtractLoose(text string) error
}

var errMissing = errors.New("missing required field")

func missing(field string) error {
	return fmt.Errorf("%w: %s", errMissing, field)
}

// DecodeStrict decodes text as a single JSON object into out and checks
// required fields. A surrounding Markdown code fence is tolerated, any
// other surrounding text is not.
func DecodeStrict(text string, out Payload) error {
	body := strings.TrimSpace(stripJSONFence(text))
	if !strings.HasPrefix(body, "{") {
		return errors.New("decode: not a JSON object")
	}
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if dec.More() {
		return errors.New("decode: trailing data after object")
	}
	return out.Validate()
}

// ExtractBestEffort recovers a payload from text that failed strict
// decoding: first from a JSON object embedded in prose, then from the
// payload's own loose text rules.
func ExtractBestEffort(text string, out Payload) error {
	if obj, ok := embeddedObject(text); ok {
		if err := json.Unmarshal([]byte(obj), out); err == nil && out.Validate() == nil {
			return nil
		}
	}
	if err := out.ExtractLoose(text); err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	return out.Validate()
}

var jsonFenceRe = regexp.MustCompile("(?s)^\\s*```(?:json)?\\s*\\n(.*?)\\n?```\\s*$")

func stripJSONFence(text string) string {
	if m := jsonFenceRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return text
}

// embeddedObject returns the span from the first '{' to the last '}'.
func embeddedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// stringField finds "name": "value" in loose text and unquotes value.
func stringField(text, name string) string {
	re := regexp.MustCompile(`"` + regexp.QuoteMeta(name) + `"\s*:\s*("(?:[^"\\]|\\.)*")`)
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal([]byte(m[1]), &s); err != nil {
		// unquote by hand when the model produced invalid escapes
		s, err = strconv.Unquote(m[1])
		if err != nil {
			return strings.Trim(m[1], `"`)
		}
	}
	return s
}

var (
	mdTitleRe   = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	mdSectionRe = regexp.MustCompile(`(?m)^##\s+(.+)$`)
	partHeadRe  = regexp.MustCompile(`(?mi)^\s*(?:#+\s*)?(?:\*\*)?part\s+(\d+)\s*[:.\-]\s*(.*?)(?:\*\*)?\s*$`)
)

func (p *ManimPayload) Validate() error {
	if strings.TrimSpace(p.Code) == "" {
		return missing("code")
	}
	if strings.TrimSpace(p.Title) == "" {
		return missing("title")
	}
	return nil
}

func (p *ManimPayload) ExtractLoose(text string) error {
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		p.Code = m[1]
	} else if code := stringField(text, "code"); code != "" {
		p.Code = code
	} else if i := strings.Index(text, "from manim import"); i >= 0 {
		p.Code = text[i:]
	}
	if p.Title == "" {
		p.Title = stringField(text, "title")
	}
	if p.Title == "" {
		if name := SceneName(p.Code); name != "" {
			p.Title = name
		}
	}
	if p.Explanation == "" {
		p.Explanation = stringField(text, "explanation")
	}
	return nil
}

func (p *VoicePayload) Validate() error {
	if strings.TrimSpace(p.Script) == "" {
		return missing("script")
	}
	if strings.TrimSpace(p.Title) == "" {
		return missing("title")
	}
	return nil
}

func (p *VoicePayload) ExtractLoose(text string) error {
	p.Title = stringField(text, "title")
	p.Script = stringField(text, "script")
	if p.Script == "" && !strings.ContainsAny(text, "{}") {
		// plain prose is usable as a script as it stands
		prose := strings.TrimSpace(text)
		if len(prose) >= 50 {
			p.Script = prose
		}
	}
	if p.Title == "" && p.Script != "" {
		p.Title = firstSentence(p.Script)
	}
	return nil
}

func (p *LessonPayload) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return missing("title")
	}
	if len(p.Parts) == 0 {
		return missing("parts")
	}
	for i, part := range p.Parts {
		if strings.TrimSpace(part.Script) == "" {
			return missing(fmt.Sprintf("parts[%d].script", i))
		}
		if strings.TrimSpace(part.Code) == "" {
			return missing(fmt.Sprintf("parts[%d].code", i))
		}
	}
	return nil
}

// ExtractLoose reads "Part N: title" headings, each followed by narration
// and a fenced code block.
func (p *LessonPayload) ExtractLoose(text string) error {
	if m := mdTitleRe.FindStringSubmatch(text); m != nil {
		p.Title = strings.TrimSpace(m[1])
	} else {
		p.Title = stringField(text, "title")
	}

	heads := partHeadRe.FindAllStringSubmatchIndex(text, -1)
	p.Parts = p.Parts[:0]
	for i, h := range heads {
		end := len(text)
		if i+1 < len(heads) {
			end = heads[i+1][0]
		}
		body := text[h[1]:end]

		part := LessonPart{Part: i + 1, Title: strings.TrimSpace(text[h[4]:h[5]])}
		if m := fenceRe.FindStringSubmatchIndex(body); m != nil {
			part.Code = body[m[2]:m[3]]
			body = body[:m[0]] + body[m[1]:]
		}
		part.Script = strings.TrimSpace(body)
		p.Parts = append(p.Parts, part)
	}
	return nil
}

func (p *ArticlePayload) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return missing("title")
	}
	if len(p.Sections) == 0 {
		return missing("sections")
	}
	for i, s := range p.Sections {
		if strings.TrimSpace(s.Content) == "" {
			return missing(fmt.Sprintf("sections[%d].content", i))
		}
	}
	return nil
}

// ExtractLoose reads a Markdown article: "# Title", an introduction, then
// "## Heading" sections. A trailing "Conclusion" section becomes the
// conclusion.
func (p *ArticlePayload) ExtractLoose(text string) error {
	m := mdTitleRe.FindStringSubmatchIndex(text)
	if m == nil {
		return errors.New("no markdown title")
	}
	p.Title = strings.TrimSpace(text[m[2]:m[3]])
	rest := text[m[1]:]

	heads := mdSectionRe.FindAllStringSubmatchIndex(rest, -1)
	if len(heads) == 0 {
		return errors.New("no markdown sections")
	}
	p.Introduction = strings.TrimSpace(rest[:heads[0][0]])
	p.Sections = p.Sections[:0]
	for i, h := range heads {
		end := len(rest)
		if i+1 < len(heads) {
			end = heads[i+1][0]
		}
		title := strings.TrimSpace(rest[h[2]:h[3]])
		body := strings.TrimSpace(rest[h[1]:end])
		if i == len(heads)-1 && strings.EqualFold(title, "conclusion") {
			p.Conclusion = body
			continue
		}
		p.Sections = append(p.Sections, Section{Title: title, Content: body})
	}
	return nil
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".!?\n"); i > 0 {
		s = s[:i]
	}
	return strings.TrimSpace(truncateRunes(s, 80))
}

// compactJSON is used in prompts to show the expected shape.
func compactJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
