package content

import (
	"fmt"
	"strings"

	"lessongate/internal/cache"
)

// FallbackRule supplies deterministic content for topics it matches.
// Match receives the normalized topic.
type FallbackRule struct {
	Name  string
	Match func(normalized string) bool
	Build func(topic string) Material
}

// Material is the raw content a rule provides. Every payload kind is
// derived from it.
type Material struct {
	Title      string
	Intro      string
	Points     []Section
	Conclusion string
	Scene      string // complete Manim scene
}

// FallbackTable evaluates rules in order; the default rule always matches.
type FallbackTable struct {
	rules []FallbackRule
	def   FallbackRule
}

func NewFallbackTable(def FallbackRule, rules ...FallbackRule) *FallbackTable {
	return &FallbackTable{rules: rules, def: def}
}

// DefaultFallbacks is the built-in table.
func DefaultFallbacks() *FallbackTable {
	return NewFallbackTable(
		FallbackRule{Name: "default", Build: genericMaterial},
		FallbackRule{Name: "gravity", Match: containsAny("gravity", "gravitation", "newton"), Build: gravityMaterial},
		FallbackRule{Name: "black_holes", Match: containsAny("black_hole", "event_horizon", "singularity"), Build: blackHoleMaterial},
		FallbackRule{Name: "photosynthesis", Match: containsAny("photosynthesis", "chlorophyll"), Build: photosynthesisMaterial},
		FallbackRule{Name: "math", Match: containsAny("math", "calculus", "derivative", "integral", "algebra", "function"), Build: mathMaterial},
	)
}

// containsAny matches when the normalized topic contains any of words.
func containsAny(words ...string) func(string) bool {
	return func(normalized string) bool {
		for _, w := range words {
			if strings.Contains(normalized, w) {
				return true
			}
		}
		return false
	}
}

// Rules lists the rules in evaluation order, default last.
func (t *FallbackTable) Rules() []FallbackRule {
	return append(append([]FallbackRule(nil), t.rules...), t.def)
}

// Select returns the first rule matching topic.
func (t *FallbackTable) Select(topic string) FallbackRule {
	n := cache.NormalizeTopic(topic)
	for _, r := range t.rules {
		if r.Match != nil && r.Match(n) {
			return r
		}
	}
	return t.def
}

func (t *FallbackTable) material(topic string) Material {
	m := t.Select(topic).Build(topic)
	if len(m.Points) == 0 || m.Scene == "" {
		d := t.def.Build(topic)
		if len(m.Points) == 0 {
			m.Points = d.Points
		}
		if m.Scene == "" {
			m.Scene = d.Scene
		}
	}
	return m
}

func (t *FallbackTable) Manim(topic string) ManimPayload {
	m := t.material(topic)
	return ManimPayload{
		Title:       m.Title,
		Code:        m.Scene,
		Explanation: m.Intro,
	}
}

func (t *FallbackTable) Voice(topic string) VoicePayload {
	m := t.material(topic)
	script := strings.Join(nonEmpty(append(append([]string{m.Intro}, contents(m.Points)...), m.Conclusion)), " ")
	return VoicePayload{Title: m.Title, Script: script, Segments: TimeSegments(script)}
}

// Lesson builds parts from the material's points. The first part uses the
// rule's scene; later parts get a titled text scene for their point.
func (t *FallbackTable) Lesson(topic string, parts int) LessonPayload {
	m := t.material(topic)
	if parts < 1 {
		parts = 1
	}
	out := LessonPayload{Title: m.Title, Parts: make([]LessonPart, 0, parts)}
	for i := 0; i < parts; i++ {
		pt := m.Points[i%len(m.Points)]
		title := pt.Title
		if i >= len(m.Points) {
			title = "Review: " + pt.Title
		}
		code := m.Scene
		if i > 0 {
			code = textScene(fmt.Sprintf("Part%dScene", i+1), title, pt.Content)
		}
		script := pt.Content
		if i == 0 && m.Intro != "" {
			script = m.Intro + " " + pt.Content
		}
		out.Parts = append(out.Parts, LessonPart{Part: i + 1, Title: title, Script: script, Code: code})
	}
	return out
}

func (t *FallbackTable) Article(topic string) ArticlePayload {
	m := t.material(topic)
	return ArticlePayload{
		Title:        m.Title,
		Introduction: m.Intro,
		Sections:     append([]Section(nil), m.Points...),
		Conclusion:   m.Conclusion,
	}
}

func contents(points []Section) []string {
	out := make([]string, len(points))
	for i, p := range points {
		out[i] = p.Content
	}
	return out
}

// textScene shows a heading and wrapped body text.
func textScene(class, heading, body string) string {
	return fmt.Sprintf(`from manim import *

class %s(Scene):
    def construct(self):
        heading = Text(%s, font_size=40).to_edge(UP)
        body = Paragraph(*%s, font_size=24, line_spacing=0.8).next_to(heading, DOWN, buff=0.6)
        self.play(Write(heading))
        self.play(FadeIn(body, shift=UP))
        self.wait(2)
`, class, pyString(heading), pyList(wrap(body, 48, 6)))
}

func pyString(s string) string {
	return fmt.Sprintf("%q", s)
}

func pyList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = pyString(s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// wrap breaks s into at most maxLines lines of roughly width characters.
func wrap(s string, width, maxLines int) []string {
	var lines []string
	var cur strings.Builder
	for _, w := range strings.Fields(s) {
		if cur.Len() > 0 && cur.Len()+1+len(w) > width {
			lines = append(lines, cur.String())
			cur.Reset()
			if len(lines) == maxLines {
				lines[maxLines-1] += " ..."
				return lines
			}
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	return lines
}

func titleCase(topic string) string {
	words := strings.Fields(topic)
	for i, w := range words {
		r := []rune(w)
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func genericMaterial(topic string) Material {
	title := titleCase(topic)
	return Material{
		Title: "Understanding " + title,
		Intro: fmt.Sprintf("%s is a subject worth understanding step by step. "+
			"This overview introduces the core ideas, shows how they connect, and points to where they matter.", title),
		Points: []Section{
			{Title: "What It Is", Content: fmt.Sprintf("At its heart, %s describes a set of ideas that explain how something works. "+
				"Start by naming the main parts and what each one does.", topic)},
			{Title: "Key Ideas", Content: fmt.Sprintf("The key ideas of %s build on one another. "+
				"Once the basic terms are clear, relationships between them become easier to see and to predict.", topic)},
			{Title: "Why It Matters", Content: fmt.Sprintf("%s shows up in everyday life and in current research. "+
				"Connecting the ideas to real examples makes them easier to remember and apply.", title)},
		},
		Conclusion: fmt.Sprintf("%s rewards curiosity. Revisit the key ideas, try an example yourself, and build from there.", title),
		Scene: fmt.Sprintf(`from manim import *

class TopicOverviewScene(Scene):
    def construct(self):
        title = Text(%s, font_size=44)
        self.play(Write(title))
        self.play(title.animate.to_edge(UP))
        points = VGroup(
            Text("What it is", font_size=30),
            Text("Key ideas", font_size=30),
            Text("Why it matters", font_size=30),
        ).arrange(DOWN, aligned_edge=LEFT, buff=0.5)
        for point in points:
            self.play(FadeIn(point, shift=RIGHT))
        self.wait(2)
`, pyString(titleCase(truncateRunes(topic, 40)))),
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func gravityMaterial(string) Material {
	return Material{
		Title: "Gravity: The Force That Shapes the Universe",
		Intro: "Gravity is the attraction between any two masses. It keeps our feet on the ground, " +
			"holds the Moon in orbit and gathers gas into stars and galaxies.",
		Points: []Section{
			{Title: "Newton's Law of Gravitation", Content: "Newton showed that every mass attracts every other mass with a force " +
				"proportional to the product of the masses and inversely proportional to the square of the distance between them. " +
				"Double the distance and the pull drops to a quarter."},
			{Title: "Falling Objects", Content: "Near Earth's surface every object falls with the same acceleration, about 9.8 meters per second squared, " +
				"when air resistance is negligible. A hammer and a feather dropped on the Moon land together."},
			{Title: "Orbits", Content: "An orbit is a fall that never ends. A satellite moves sideways fast enough that " +
				"the ground curves away beneath it as quickly as it falls toward it."},
			{Title: "Einstein's View", Content: "General relativity describes gravity as the curvature of spacetime by mass and energy. " +
				"Objects follow the straightest possible paths through that curved geometry."},
		},
		Conclusion: "From apples to galaxies, gravity is the same law at every scale, and it remains one of the most studied forces in physics.",
		Scene: `from manim import *

class GravityScene(Scene):
    def construct(self):
        title = Text("Gravity", font_size=48).to_edge(UP)
        ground = Line(LEFT * 5, RIGHT * 5).shift(DOWN * 3)
        ball = Circle(radius=0.3, color=BLUE, fill_opacity=1).shift(UP * 2)
        arrow = Arrow(ball.get_bottom(), ball.get_bottom() + DOWN, buff=0, color=YELLOW)
        label = MathTex(r"F = G \frac{m_1 m_2}{r^2}").to_corner(UR)
        self.play(Write(title), Create(ground))
        self.play(FadeIn(ball), GrowArrow(arrow))
        self.play(Write(label))
        self.play(FadeOut(arrow))
        self.play(ball.animate.move_to(ground.get_center() + UP * 0.3), rate_func=rate_functions.ease_in_quad, run_time=1.5)
        self.wait(1)
`,
	}
}

func blackHoleMaterial(string) Material {
	return Material{
		Title: "Black Holes: Where Gravity Wins",
		Intro: "A black hole is a region of space where gravity is so strong that nothing, not even light, can escape once it crosses the boundary.",
		Points: []Section{
			{Title: "How They Form", Content: "When a massive star runs out of fuel its core collapses. " +
				"If the remaining mass is large enough, no known force can stop the collapse and a black hole forms."},
			{Title: "The Event Horizon", Content: "The event horizon is the point of no return. Its radius, the Schwarzschild radius, " +
				"grows in proportion to the mass of the black hole."},
			{Title: "Spacetime and Time Dilation", Content: "Close to a black hole, time runs slower as seen by a distant observer. " +
				"Light escaping from near the horizon is stretched to longer wavelengths."},
			{Title: "Observing the Invisible", Content: "Black holes are found through their effects: stars orbiting an unseen mass, " +
				"glowing disks of infalling gas and the gravitational waves of merging pairs."},
		},
		Conclusion: "Black holes test our best theories at their limits, which is why they remain a central subject of modern astrophysics.",
		Scene: `from manim import *

class BlackHoleScene(Scene):
    def construct(self):
        title = Text("Black Holes", font_size=48).to_edge(UP)
        hole = Circle(radius=1, color=BLACK, fill_opacity=1).set_stroke(WHITE, 2)
        horizon = DashedVMobject(Circle(radius=1.6, color=ORANGE))
        label = Text("Event horizon", font_size=24).next_to(horizon, DOWN)
        photon = Dot(LEFT * 5 + UP * 1.2, color=YELLOW)
        path = ArcBetweenPoints(LEFT * 5 + UP * 1.2, ORIGIN, angle=-PI / 3)
        self.play(Write(title))
        self.play(FadeIn(hole), Create(horizon), Write(label))
        self.play(MoveAlongPath(photon, path), run_time=2)
        self.play(FadeOut(photon))
        self.wait(1)
`,
	}
}

func photosynthesisMaterial(string) Material {
	return Material{
		Title: "Photosynthesis: Turning Light into Life",
		Intro: "Photosynthesis is how plants, algae and some bacteria capture light energy and store it as sugar, releasing oxygen along the way.",
		Points: []Section{
			{Title: "The Overall Reaction", Content: "Carbon dioxide and water, powered by light, become glucose and oxygen. " +
				"Six molecules of carbon dioxide and six of water yield one glucose and six oxygen."},
			{Title: "Light-Dependent Reactions", Content: "In the thylakoid membranes, chlorophyll absorbs light and splits water. " +
				"This produces oxygen and the energy carriers ATP and NADPH."},
			{Title: "The Calvin Cycle", Content: "In the stroma, the Calvin cycle uses ATP and NADPH to fix carbon dioxide into sugars, " +
				"with the enzyme RuBisCO doing the capture."},
			{Title: "Why It Matters", Content: "Photosynthesis supplies the oxygen we breathe and the energy at the base of almost every food chain."},
		},
		Conclusion: "Every green leaf is a solar-powered factory, and understanding it helps us think about food, climate and energy.",
		Scene: `from manim import *

class PhotosynthesisScene(Scene):
    def construct(self):
        title = Text("Photosynthesis", font_size=48).to_edge(UP)
        equation = MathTex(r"6CO_2 + 6H_2O \xrightarrow{light} C_6H_{12}O_6 + 6O_2")
        sun = Circle(radius=0.5, color=YELLOW, fill_opacity=1).to_corner(UL).shift(DOWN)
        leaf = Ellipse(width=2.5, height=1.2, color=GREEN, fill_opacity=0.6).shift(DOWN * 2)
        ray = Arrow(sun.get_center(), leaf.get_top(), color=YELLOW)
        self.play(Write(title))
        self.play(FadeIn(sun), FadeIn(leaf))
        self.play(GrowArrow(ray))
        self.play(Write(equation))
        self.wait(2)
`,
	}
}

func mathMaterial(topic string) Material {
	title := titleCase(topic)
	return Material{
		Title: title + ": A Visual Introduction",
		Intro: fmt.Sprintf("%s becomes clearer when we can see it. This introduction uses graphs to build intuition before formulas.", title),
		Points: []Section{
			{Title: "Functions as Graphs", Content: "A function assigns one output to each input. Plotting the pairs as points " +
				"turns the rule into a curve we can read at a glance."},
			{Title: "Rates of Change", Content: "The slope of a curve at a point tells how fast the output changes with the input. " +
				"The derivative collects those slopes into a new function."},
			{Title: "Accumulation", Content: "The area under a curve adds up small contributions. The integral measures that accumulated total."},
			{Title: "Putting It Together", Content: "The fundamental theorem of calculus links the two: integrating a rate of change recovers the total change."},
		},
		Conclusion: "Graphs, slopes and areas are the three pictures to keep in mind; most of the subject is built from them.",
		Scene: `from manim import *

class FunctionGraphScene(Scene):
    def construct(self):
        axes = Axes(x_range=[-3, 3, 1], y_range=[-1, 9, 2], x_length=7, y_length=5)
        labels = axes.get_axis_labels(x_label="x", y_label="f(x)")
        curve = axes.plot(lambda x: x ** 2, color=BLUE)
        curve_label = MathTex("f(x) = x^2").next_to(curve, UR)
        area = axes.get_area(curve, x_range=[0, 2], color=GREEN, opacity=0.4)
        self.play(Create(axes), Write(labels))
        self.play(Create(curve), Write(curve_label))
        self.play(FadeIn(area))
        self.wait(2)
`,
	}
}
