package content

import (
	"fmt"
	"regexp"
	"strings"
)

const manimImport = "from manim import *"

var (
	sceneClassRe = regexp.MustCompile(`(?m)^class\s+(\w+)\s*\(\s*(?:Scene|ThreeDScene|MovingCameraScene)\s*\)\s*:`)
	constructRe  = regexp.MustCompile(`(?m)^[ ]+def\s+construct\s*\(\s*self\s*\)\s*:`)
	importRe     = regexp.MustCompile(`(?m)^\s*(?:from\s+manim\s+import\b|import\s+manim\b)`)
	fenceRe      = regexp.MustCompile("(?s)```(?:python|py)?\\s*\\n(.*?)```")
)

// Calls removed from current Manim releases and their replacements.
var legacyCalls = strings.NewReplacer(
	"ShowCreation(", "Create(",
	"TextMobject(", "Text(",
	"TexMobject(", "MathTex(",
	".get_graph(", ".plot(",
)

// FixManimCode makes generated scene code runnable where it can: it injects
// the manim import, normalizes indentation to four spaces per level and
// rewrites removed API calls. It returns ErrValidation when the result
// still lacks a Scene subclass with a construct method.
func FixManimCode(code string) (string, error) {
	code = strings.ReplaceAll(code, "\r\n", "\n")
	if m := fenceRe.FindStringSubmatch(code); m != nil {
		code = m[1]
	}
	code = reindent(code)
	code = legacyCalls.Replace(code)

	if !importRe.MatchString(code) {
		code = manimImport + "\n\n" + code
	}
	code = strings.TrimSpace(code) + "\n"

	if !sceneClassRe.MatchString(code) {
		return code, fmt.Errorf("%w: no Scene subclass", ErrValidation)
	}
	if !constructRe.MatchString(code) {
		return code, fmt.Errorf("%w: no construct(self) method", ErrValidation)
	}
	return code, nil
}

// SceneName returns the first Scene subclass in code, or "".
func SceneName(code string) string {
	if m := sceneClassRe.FindStringSubmatch(code); m != nil {
		return m[1]
	}
	return ""
}

// reindent expands tabs and rescales indentation so one level is four
// spaces. The indentation unit is the gcd of all indents; odd leftovers
// are rounded to the nearest level.
func reindent(code string) string {
	lines := strings.Split(code, "\n")
	indents := make([]int, len(lines))

	unit := 0
	for i, line := range lines {
		n, rest := leadingWidth(line)
		lines[i] = rest
		indents[i] = n
		if rest != "" && n > 0 {
			unit = gcd(unit, n)
		}
	}

	for i, rest := range lines {
		if rest == "" {
			continue
		}
		n := indents[i]
		switch {
		case n == 0:
		case unit >= 2 && unit != 4:
			n = n / unit * 4
		case n%4 != 0:
			n = (n + 2) / 4 * 4
		}
		lines[i] = strings.Repeat(" ", n) + rest
	}
	return strings.Join(lines, "\n")
}

// leadingWidth measures leading whitespace with tabs as four columns and
// returns the width and the trimmed remainder.
func leadingWidth(line string) (int, string) {
	n := 0
	for i, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n, strings.TrimRight(line[i:], " \t")
		}
	}
	return 0, ""
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
