package tts

import (
	"strings"
	"unicode/utf8"
)

var sentenceEnds = []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}

// BreakPoint returns the byte offset in head where it is best cut: just
// after the last sentence end, or at the last word break when that sentence
// end would drop more than half of head. It returns -1 when head has
// neither.
func BreakPoint(head string) int {
	cut := -1
	for _, end := range sentenceEnds {
		if i := strings.LastIndex(head, end); i >= 0 && i+1 > cut {
			cut = i + 1
		}
	}
	if cut < len(head)/2 {
		cut = strings.LastIndexAny(head, " \n")
	}
	return cut
}

// SplitText cuts text into pieces of at most maxChars runes at sentence or
// word breaks. Text that already fits comes back as the only piece.
func SplitText(text string, maxChars int) []string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return []string{text}
	}

	var parts []string
	for utf8.RuneCountInString(text) > maxChars {
		head := text[:runeOffset(text, maxChars)]
		cut := BreakPoint(head)
		if cut <= 0 {
			cut = len(head)
		}
		if part := strings.TrimSpace(text[:cut]); part != "" {
			parts = append(parts, part)
		}
		text = strings.TrimLeft(text[cut:], " \n\t\r")
	}
	if text = strings.TrimSpace(text); text != "" || len(parts) == 0 {
		parts = append(parts, text)
	}
	return parts
}

// runeOffset is the byte offset of the n-th rune of s.
func runeOffset(s string, n int) int {
	i := 0
	for off := range s {
		if i == n {
			return off
		}
		i++
	}
	return len(s)
}
