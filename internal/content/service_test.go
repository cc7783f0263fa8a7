package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"lessongate/internal/blob"
	"lessongate/internal/cache"
	"lessongate/internal/sandbox"
	"lessongate/internal/tts"
)

const testSession = "11111111-1111-4111-8111-111111111111"

type fakeLLM struct {
	mu    sync.Mutex
	calls map[string]int
	reply func(system, prompt string) (string, error)
}

func (f *fakeLLM) Complete(_ context.Context, system, prompt string) (string, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[system]++
	f.mu.Unlock()
	return f.reply(system, prompt)
}

func (f *fakeLLM) count(system string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[system]
}

type fakeSandbox struct {
	mu       sync.Mutex
	jobs     []sandbox.Job
	fail     bool
	delay    time.Duration
	inflight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeSandbox) Execute(_ context.Context, job sandbox.Job) (*sandbox.Result, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	if n > f.maxSeen.Load() {
		f.maxSeen.Store(n)
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()

	if f.fail {
		return &sandbox.Result{ExitCode: 1, Stderr: "boom"}, fmt.Errorf("%w: exit code 1", sandbox.ErrExecutionFailed)
	}
	return &sandbox.Result{
		Files: []sandbox.File{
			{Name: SceneName(job.Code) + ".mp4", Content: []byte("video")},
			{Name: "render.log", Content: []byte("log")},
		},
	}, nil
}

type fakeSpeaker struct {
	mu       sync.Mutex
	texts    []string
	fail     bool
	maxChars int
}

func (f *fakeSpeaker) Synthesize(_ context.Context, text, voiceID, style string) (*tts.Speech, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	n := len(f.texts)
	f.mu.Unlock()
	if f.fail {
		return nil, errors.New("tts down")
	}
	return &tts.Speech{AudioURL: fmt.Sprintf("https://cdn.example/%d.mp3", n), DurationSeconds: 30}, nil
}

func (f *fakeSpeaker) MaxChars() int {
	if f.maxChars == 0 {
		return tts.DefaultMaxChars
	}
	return f.maxChars
}

type fakeTranslator struct {
	calls atomic.Int32
	fail  bool
}

func (f *fakeTranslator) Translate(_ context.Context, texts []string, target string) (*tts.Translation, error) {
	f.calls.Add(1)
	if f.fail {
		return nil, errors.New("quota exceeded")
	}
	out := &tts.Translation{CreditsUsed: len(texts)}
	for _, s := range texts {
		out.Texts = append(out.Texts, "["+target+"] "+s)
	}
	return out, nil
}

const gravityManim = `{"title":"Gravity","code":"from manim import *\n\nclass GravityScene(Scene):\n    def construct(self):\n        self.play(Create(Circle()))","explanation":"A ball falls."}`

func gravityLesson(parts int) string {
	var ps []string
	for i := 1; i <= parts; i++ {
		ps = append(ps, fmt.Sprintf(`{"part":%d,"title":"Part %d","script":"Narration %d.","code":"class Part%dScene(Scene):\n    def construct(self):\n        self.wait(1)"}`, i, i, i, i))
	}
	return `{"title":"Gravity Series","parts":[` + strings.Join(ps, ",") + `]}`
}

const gravityVoice = `{"title":"Gravity","script":"Gravity pulls. It keeps the Moon in orbit."}`

const gravityArticle = `{"title":"Gravity","introduction":"Mass attracts mass.","sections":[{"title":"Newton","content":"Inverse square law."},{"title":"Einstein","content":"Curved spacetime."}],"conclusion":"Keep looking up."}`

func goodReplies(system, _ string) (string, error) {
	switch system {
	case manimSystem:
		return gravityManim, nil
	case lessonSystem:
		return gravityLesson(3), nil
	case voiceSystem:
		return gravityVoice, nil
	case articleSystem:
		return gravityArticle, nil
	}
	return "", errors.New("unexpected prompt")
}

type harness struct {
	svc     *Service
	llm     *fakeLLM
	sandbox *fakeSandbox
	speaker *fakeSpeaker
	trans   *fakeTranslator
	media   *blob.MemoryStore
	store   *blob.MemoryStore
}

func newHarness(t *testing.T, reply func(system, prompt string) (string, error)) *harness {
	t.Helper()
	h := &harness{
		llm:     &fakeLLM{reply: reply},
		sandbox: &fakeSandbox{},
		speaker: &fakeSpeaker{},
		trans:   &fakeTranslator{},
		media:   blob.NewMemoryStore(),
		store:   blob.NewMemoryStore(),
	}
	logger := zaptest.NewLogger(t)
	h.svc = New(Deps{
		Cache:        cache.New(h.store, cache.Config{}, logger),
		LLM:          h.llm,
		Sandbox:      h.sandbox,
		Speech:       h.speaker,
		Translator:   h.trans,
		Media:        h.media,
		Logger:       logger,
		NewSessionID: func() string { return testSession },
	})
	return h
}

func TestGenerateManimEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, goodReplies)

	res, err := h.svc.GenerateManim(ctx, ManimRequest{Topic: "gravity", Execute: true})
	if err != nil {
		t.Fatalf("GenerateManim: %v", err)
	}
	if !res.Success || res.FallbackUsed || res.Cached {
		t.Fatalf("unexpected flags %#v", res.Meta)
	}
	if res.Title != "Gravity" || !strings.HasPrefix(res.Validated, manimImport) {
		t.Fatalf("unexpected payload %#v", res)
	}
	if res.Execution == nil || !res.Execution.ExecutionSuccess || res.Execution.FallbackMedia {
		t.Fatalf("unexpected execution %#v", res.Execution)
	}
	wantURL := "/media/" + testSession + "/GravityScene.mp4"
	if res.Execution.VideoURL != wantURL || len(res.Execution.Files) != 1 {
		t.Fatalf("unexpected media %#v", res.Execution)
	}
	if data, err := h.media.Get(ctx, MediaKey(testSession, "GravityScene.mp4")); err != nil || string(data) != "video" {
		t.Fatalf("video not stored: %q %v", data, err)
	}
	if !strings.Contains(h.sandbox.jobs[0].Command, "GravityScene") {
		t.Fatalf("render command does not name the scene: %q", h.sandbox.jobs[0].Command)
	}

	again, err := h.svc.GenerateManim(ctx, ManimRequest{Topic: "gravity"})
	if err != nil {
		t.Fatalf("second GenerateManim: %v", err)
	}
	if !again.Cached || again.FallbackUsed || again.Title != "Gravity" {
		t.Fatalf("expected cached payload, got %#v", again)
	}
	if again.Execution != nil {
		t.Fatalf("execution was not requested")
	}
	if n := h.llm.count(manimSystem); n != 1 {
		t.Fatalf("generation called %d times, want 1", n)
	}
}

func TestCachedPayloadExcludesMedia(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, goodReplies)

	if _, err := h.svc.GenerateManim(ctx, ManimRequest{Topic: "gravity", Execute: true}); err != nil {
		t.Fatal(err)
	}
	raw, err := h.store.Get(ctx, "topics/manim/gravity.json")
	if err != nil {
		t.Fatalf("cache entry missing: %v", err)
	}
	if strings.Contains(string(raw), "/media/") || strings.Contains(string(raw), "executionSuccess") {
		t.Fatalf("cache entry must hold only the generated payload: %s", raw)
	}
}

func TestFallbackNeverFails(t *testing.T) {
	replies := map[string]func(string, string) (string, error){
		"non-json": func(string, string) (string, error) { return "I am unable to comply.", nil },
		"missing fields": func(string, string) (string, error) {
			return `{"title":"only a title"}`, nil
		},
		"llm error": func(string, string) (string, error) { return "", errors.New("quota exceeded") },
	}

	for name, reply := range replies {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, reply)

			m, err := h.svc.GenerateManim(ctx, ManimRequest{Topic: "gravity"})
			if err != nil || !m.Success || !m.FallbackUsed {
				t.Fatalf("manim: %v %#v", err, m)
			}
			if m.Title == "" || SceneName(m.Validated) != "GravityScene" {
				t.Fatalf("manim fallback not populated: %#v", m)
			}

			v, err := h.svc.GenerateVoice(ctx, VoiceRequest{Topic: "black holes"})
			if err != nil || !v.Success || !v.FallbackUsed || v.Script == "" || len(v.Segments) == 0 {
				t.Fatalf("voice: %v %#v", err, v)
			}

			l, err := h.svc.GenerateLesson(ctx, LessonRequest{Topic: "photosynthesis", Parts: 2})
			if err != nil || !l.Success || !l.FallbackUsed || len(l.Parts) != 2 {
				t.Fatalf("lesson: %v %#v", err, l)
			}
			for _, p := range l.Parts {
				if p.Script == "" || p.ValidatedCode == "" {
					t.Fatalf("lesson part not populated: %#v", p)
				}
			}

			a, err := h.svc.GenerateArticle(ctx, ArticleRequest{Topic: "calculus", Length: "short"})
			if err != nil || !a.Success || !a.FallbackUsed || len(a.Sections) == 0 || a.HTML == "" {
				t.Fatalf("article: %v %#v", err, a)
			}

			// fallback content is not cached, so the next call tries again
			if h.store.Len() != 0 {
				t.Fatalf("fallback payloads must not be cached, store has %d entries", h.store.Len())
			}
		})
	}
}

func TestInvalidGeneratedCodeUsesFallback(t *testing.T) {
	h := newHarness(t, func(string, string) (string, error) {
		return `{"title":"Gravity","code":"circle = Circle()\nprint(circle)"}`, nil
	})

	res, err := h.svc.GenerateManim(context.Background(), ManimRequest{Topic: "gravity"})
	if err != nil {
		t.Fatalf("GenerateManim: %v", err)
	}
	if !res.FallbackUsed || SceneName(res.Validated) != "GravityScene" {
		t.Fatalf("expected fallback scene, got %#v", res)
	}
}

func TestBestEffortRecoveryIsNotFallback(t *testing.T) {
	h := newHarness(t, func(string, string) (string, error) {
		return "Here is your scene:\n```python\nclass FallScene(Scene):\n\tdef construct(self):\n\t\tself.play(ShowCreation(Square()))\n```", nil
	})

	res, err := h.svc.GenerateManim(context.Background(), ManimRequest{Topic: "falling"})
	if err != nil {
		t.Fatalf("GenerateManim: %v", err)
	}
	if res.FallbackUsed {
		t.Fatalf("recovered output must not be reported as fallback")
	}
	if !strings.Contains(res.Validated, "        self.play(Create(Square()))") {
		t.Fatalf("code not fixed up:\n%s", res.Validated)
	}
}

func TestLessonPartsRunSequentially(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	var events []string
	h := newHarness(t, goodReplies)
	h.sandbox.delay = 20 * time.Millisecond
	h.svc.observer = func(part int, stage string) {
		mu.Lock()
		events = append(events, fmt.Sprintf("%d-%s", part, stage))
		mu.Unlock()
	}

	res, err := h.svc.GenerateLesson(ctx, LessonRequest{Topic: "gravity", Parts: 3, Execute: true, IncludeAudio: true})
	if err != nil {
		t.Fatalf("GenerateLesson: %v", err)
	}

	want := []string{"1-start", "1-end", "2-start", "2-end", "3-start", "3-end"}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected order %v", events)
	}
	if h.sandbox.maxSeen.Load() != 1 {
		t.Fatalf("parts executed concurrently (max %d)", h.sandbox.maxSeen.Load())
	}

	if res.FallbackUsed || res.SessionID != testSession || len(res.Parts) != 3 {
		t.Fatalf("unexpected result %#v", res)
	}
	for i, p := range res.Parts {
		if p.Part != i+1 {
			t.Fatalf("part %d numbered %d", i, p.Part)
		}
		wantURL := fmt.Sprintf("/media/%s/part%d_Part%dScene.mp4", testSession, i+1, i+1)
		if p.Execution == nil || p.Execution.VideoURL != wantURL {
			t.Fatalf("part %d: unexpected execution %#v", p.Part, p.Execution)
		}
		if p.Audio == nil {
			t.Fatalf("part %d: audio missing", p.Part)
		}
	}
}

func TestLessonTrimsExtraParts(t *testing.T) {
	h := newHarness(t, func(system, _ string) (string, error) {
		return gravityLesson(5), nil
	})
	res, err := h.svc.GenerateLesson(context.Background(), LessonRequest{Topic: "gravity", Parts: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(res.Parts))
	}
}

func TestExecutionFailureSelectsFallbackMedia(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, goodReplies)
	h.sandbox.fail = true

	res, err := h.svc.GenerateManim(ctx, ManimRequest{Topic: "calculus", Execute: true, SessionID: testSession})
	if err != nil {
		t.Fatalf("GenerateManim: %v", err)
	}
	if !res.Success || !res.FallbackUsed {
		t.Fatalf("unexpected flags %#v", res.Meta)
	}
	ex := res.Execution
	if ex.ExecutionSuccess || !ex.FallbackMedia || ex.VideoURL != MathFallbackVideo || ex.Error == "" {
		t.Fatalf("unexpected execution %#v", ex)
	}

	// the generated code was fine, so it is still cached
	if _, err := h.store.Get(ctx, "topics/manim/calculus.json"); err != nil {
		t.Fatalf("generated payload should be cached: %v", err)
	}

	other, _ := h.svc.GenerateManim(ctx, ManimRequest{Topic: "gravity", Execute: true})
	if other.Execution.VideoURL != DefaultFallbackVideo {
		t.Fatalf("expected default fallback video, got %s", other.Execution.VideoURL)
	}
}

func TestNoSandboxFallsBack(t *testing.T) {
	h := newHarness(t, goodReplies)
	h.svc.sandbox = nil

	res, err := h.svc.GenerateManim(context.Background(), ManimRequest{Topic: "gravity", Execute: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Execution.ExecutionSuccess || !res.Execution.FallbackMedia {
		t.Fatalf("unexpected execution %#v", res.Execution)
	}
}

func TestAudioFailureOmitsAudio(t *testing.T) {
	h := newHarness(t, goodReplies)
	h.speaker.fail = true

	res, err := h.svc.GenerateVoice(context.Background(), VoiceRequest{Topic: "gravity", Style: "calm"})
	if err != nil {
		t.Fatalf("GenerateVoice: %v", err)
	}
	if !res.Success || res.FallbackUsed || res.Audio != nil {
		t.Fatalf("unexpected result %#v", res)
	}
	if res.Script == "" || len(res.Segments) != 2 {
		t.Fatalf("script should still be returned: %#v", res.VoicePayload)
	}
}

func TestArticleNarrationIsTruncated(t *testing.T) {
	h := newHarness(t, goodReplies)
	h.speaker.maxChars = 80

	res, err := h.svc.GenerateArticle(context.Background(), ArticleRequest{Topic: "gravity", IncludeAudio: true})
	if err != nil {
		t.Fatalf("GenerateArticle: %v", err)
	}
	if res.Audio == nil || !res.Audio.Truncated {
		t.Fatalf("expected truncated audio, got %#v", res.Audio)
	}
	sent := h.speaker.texts[0]
	if len([]rune(sent)) > 80 || !strings.HasSuffix(sent, ClosingPhrase) {
		t.Fatalf("unexpected narration text %q", sent)
	}
	if res.Length != "medium" || res.Style != "academic" || !strings.Contains(res.HTML, "<h2>Newton</h2>") {
		t.Fatalf("unexpected article %#v", res)
	}
}

func TestArticleCacheIsKeyedByOptions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, goodReplies)

	for _, length := range []string{"short", "long", "short"} {
		if _, err := h.svc.GenerateArticle(ctx, ArticleRequest{Topic: "gravity", Length: length}); err != nil {
			t.Fatal(err)
		}
	}
	if n := h.llm.count(articleSystem); n != 2 {
		t.Fatalf("expected one generation per length, got %d", n)
	}
}

func TestConcurrentRequestsAreCoalesced(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(system, prompt string) (string, error) {
		<-release
		return goodReplies(system, prompt)
	})

	const n = 5
	var wg sync.WaitGroup
	results := make([]*VoiceResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = h.svc.GenerateVoice(context.Background(), VoiceRequest{Topic: "gravity"})
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if c := h.llm.count(voiceSystem); c != 1 {
		t.Fatalf("generation ran %d times, want 1", c)
	}
	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("caller %d got a different result", i)
		}
	}
	if h.svc.voice.InFlight() != 0 {
		t.Fatalf("in-flight key left behind")
	}
}

func TestCacheWriteFailureIsIgnored(t *testing.T) {
	logger := zaptest.NewLogger(t)
	llm := &fakeLLM{reply: goodReplies}
	svc := New(Deps{
		Cache:  cache.New(readOnlyStore{blob.NewMemoryStore()}, cache.Config{}, logger),
		LLM:    llm,
		Logger: logger,
	})

	for i := 0; i < 2; i++ {
		res, err := svc.GenerateManim(context.Background(), ManimRequest{Topic: "gravity"})
		if err != nil || !res.Success || res.FallbackUsed || res.Cached {
			t.Fatalf("call %d: %v %#v", i, err, res)
		}
	}
	if llm.count(manimSystem) != 2 {
		t.Fatalf("without a cache every call generates")
	}
}

type readOnlyStore struct {
	blob.Store
}

func (readOnlyStore) Put(context.Context, string, []byte) error {
	return errors.New("read-only file system")
}

func TestTranslate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, goodReplies)

	req := TranslateRequest{Texts: []string{"Hello", "Gravity pulls."}, TargetLanguage: "ES"}
	res, err := h.svc.Translate(ctx, req)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if res.FallbackUsed || res.TargetLanguage != "es" || res.Texts[1] != "[es] Gravity pulls." || res.CreditsUsed != 2 {
		t.Fatalf("unexpected result %#v", res)
	}

	again, _ := h.svc.Translate(ctx, req)
	if !again.Cached || h.trans.calls.Load() != 1 {
		t.Fatalf("second translation should be cached")
	}

	h.trans.fail = true
	failed, err := h.svc.Translate(ctx, TranslateRequest{Texts: []string{"Other"}, TargetLanguage: "fr"})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if !failed.FallbackUsed || failed.Texts[0] != "Other" {
		t.Fatalf("expected untranslated fallback, got %#v", failed)
	}
}

func TestInvalidInput(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, goodReplies)

	checks := map[string]error{}
	_, checks["empty topic"] = h.svc.GenerateManim(ctx, ManimRequest{Topic: "   "})
	_, checks["long topic"] = h.svc.GenerateVoice(ctx, VoiceRequest{Topic: strings.Repeat("a", MaxTopicLength+1)})
	_, checks["bad voice style"] = h.svc.GenerateVoice(ctx, VoiceRequest{Topic: "x", Style: "shouting"})
	_, checks["bad length"] = h.svc.GenerateArticle(ctx, ArticleRequest{Topic: "x", Length: "epic"})
	_, checks["bad style"] = h.svc.GenerateArticle(ctx, ArticleRequest{Topic: "x", Style: "rap"})
	_, checks["too many parts"] = h.svc.GenerateLesson(ctx, LessonRequest{Topic: "x", Parts: MaxParts + 1})
	_, checks["no texts"] = h.svc.Translate(ctx, TranslateRequest{TargetLanguage: "es"})
	_, checks["blank text"] = h.svc.Translate(ctx, TranslateRequest{Texts: []string{" "}, TargetLanguage: "es"})
	_, checks["bad language"] = h.svc.Translate(ctx, TranslateRequest{Texts: []string{"hi"}, TargetLanguage: "klingon"})

	for name, err := range checks {
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
	if len(h.llm.calls) != 0 {
		t.Fatalf("no generation may start for invalid input")
	}
}
