package content

import "fmt"

const jsonOnly = "Respond with a single JSON object and nothing else. Do not wrap it in Markdown."

var (
	manimShape = compactJSON(ManimPayload{
		Title:       "Scene title",
		Code:        "from manim import *\n\nclass ExampleScene(Scene):\n    def construct(self):\n        ...",
		Explanation: "One paragraph describing what the animation shows.",
	})
	voiceShape = compactJSON(VoicePayload{
		Title:  "Narration title",
		Script: "The full narration text.",
	})
	lessonShape = compactJSON(LessonPayload{
		Title: "Series title",
		Parts: []LessonPart{{Part: 1, Title: "Part title", Script: "Narration for this part.", Code: "Manim scene for this part"}},
	})
	articleShape = compactJSON(ArticlePayload{
		Title:        "Article title",
		Introduction: "Opening paragraph.",
		Sections:     []Section{{Title: "Section heading", Content: "Section body."}},
		Conclusion:   "Closing paragraph.",
	})
)

const manimSystem = "You write Manim Community Edition scenes that teach a concept visually. " +
	"Use only the current Manim API (Create, Text, MathTex, axes.plot). " +
	"Define exactly one class deriving from Scene with a construct(self) method. " + jsonOnly

func manimPrompt(topic string) string {
	return fmt.Sprintf("Create a short educational animation about %q.\nJSON shape: %s", topic, manimShape)
}

const voiceSystem = "You write narration scripts for short educational audio. " +
	"Use plain spoken sentences without lists or markup. " + jsonOnly

func voicePrompt(topic, style string) string {
	return fmt.Sprintf("Write a %s narration of about 300 words explaining %q.\nJSON shape: %s", style, topic, voiceShape)
}

const lessonSystem = "You plan lesson series made of short animated parts. " +
	"Each part has narration and a Manim Community Edition scene with one Scene subclass. " + jsonOnly

func lessonPrompt(topic string, parts int) string {
	return fmt.Sprintf("Plan a %d-part lesson series about %q. Number parts from 1.\nJSON shape: %s", parts, topic, lessonShape)
}

const articleSystem = "You write clear educational articles for curious readers. " + jsonOnly

func articlePrompt(topic, style string, target int) string {
	return fmt.Sprintf("Write a %s article about %q of about %d characters in total, split into 3 to 6 sections.\nJSON shape: %s",
		style, topic, target, articleShape)
}
