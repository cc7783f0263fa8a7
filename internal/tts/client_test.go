package tts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"go.uber.org/zap/zaptest"
)

func TestSynthesize(t *testing.T) {
	t.Parallel()

	var got speechRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/speech" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"audioUrl":"https://cdn.example/a.mp3","durationSeconds":12.5}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, DefaultVoice: "voice-1"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sp, err := c.Synthesize(context.Background(), "Gravity pulls.", "", "calm")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if sp.AudioURL != "https://cdn.example/a.mp3" || sp.DurationSeconds != 12.5 {
		t.Fatalf("unexpected speech %#v", sp)
	}
	if got.VoiceID != "voice-1" || got.Style != "calm" {
		t.Fatalf("unexpected request %#v", got)
	}
}

func TestSynthesizeRejectsLongText(t *testing.T) {
	t.Parallel()

	c, err := New(Config{BaseURL: "http://127.0.0.1:1", MaxChars: 10}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Synthesize(context.Background(), strings.Repeat("a", 11), "", ""); !errors.Is(err, ErrTextTooLong) {
		t.Fatalf("expected ErrTextTooLong, got %v", err)
	}
}

func TestTranslateBatchesPreserveOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var batchSizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req translateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		batchSizes = append(batchSizes, len(req.Texts))
		mu.Unlock()

		resp := translateResponse{CreditsUsed: len(req.Texts)}
		for _, s := range req.Texts {
			resp.Translations = append(resp.Translations, req.TargetLanguage+":"+s)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, BatchSize: 4}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = "t" + strconv.Itoa(i)
	}

	tr, err := c.Translate(context.Background(), texts, "es")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}

	if len(batchSizes) != 3 || batchSizes[0] != 4 || batchSizes[1] != 4 || batchSizes[2] != 2 {
		t.Fatalf("unexpected batches %v", batchSizes)
	}
	for i, s := range tr.Texts {
		if s != "es:t"+strconv.Itoa(i) {
			t.Fatalf("order not preserved at %d: %q", i, s)
		}
	}
	if tr.CreditsUsed != 10 {
		t.Fatalf("expected 10 credits, got %d", tr.CreditsUsed)
	}
}

func TestTranslateShortResponseIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"translations":["only one"]}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Translate(context.Background(), []string{"a", "b"}, "fr"); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestTranslateRespectsCharacterLimit(t *testing.T) {
	t.Parallel()

	const limit = 3000
	var mu sync.Mutex
	largest := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req translateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		total := 0
		resp := translateResponse{}
		for _, s := range req.Texts {
			total += len([]rune(s))
			resp.Translations = append(resp.Translations, strings.ToUpper(s))
		}
		mu.Lock()
		largest = max(largest, total)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, MaxChars: limit}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sentence := "gravity bends the path of light. "
	long := strings.TrimSpace(strings.Repeat(sentence, 200))
	texts := []string{
		strings.Repeat("a", 2500),
		strings.Repeat("b", 2500),
		long,
		"short",
	}

	tr, err := c.Translate(context.Background(), texts, "de")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if largest > limit {
		t.Fatalf("largest call carried %d chars (limit %d)", largest, limit)
	}
	if len(tr.Texts) != len(texts) {
		t.Fatalf("expected %d texts, got %d", len(texts), len(tr.Texts))
	}
	if tr.Texts[0] != strings.Repeat("A", 2500) || tr.Texts[3] != "SHORT" {
		t.Fatalf("order not preserved")
	}
	if tr.Texts[2] != strings.ToUpper(long) {
		t.Fatalf("long text not rejoined: %d chars", len(tr.Texts[2]))
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{"fits", "One. Two.", 20, []string{"One. Two."}},
		{"sentence break", "First one here. Second one here.", 20, []string{"First one here.", "Second one here."}},
		{"word break", "alpha beta gamma delta", 12, []string{"alpha beta", "gamma delta"}},
		{"hard cut", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"runes", "ééééé", 2, []string{"éé", "éé", "é"}},
		{"empty", "", 5, []string{""}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitText(tc.text, tc.max)
			if strings.Join(got, "|") != strings.Join(tc.want, "|") {
				t.Fatalf("SplitText(%q, %d) = %q, want %q", tc.text, tc.max, got, tc.want)
			}
			for _, p := range got {
				if n := len([]rune(p)); n > tc.max {
					t.Fatalf("piece %q has %d runes", p, n)
				}
			}
		})
	}
}
