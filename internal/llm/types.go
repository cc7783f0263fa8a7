package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var knownRoles = map[string]bool{RoleSystem: true, RoleUser: true, RoleAssistant: true}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest carries only the knobs generation uses. JSONMode asks the
// provider for a single JSON object reply.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float32       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	JSONMode    bool          `json:"json_mode,omitempty"`
}

func (r *ChatRequest) Validate() error {
	switch {
	case r.Model == "":
		return errors.New("model is required")
	case len(r.Messages) == 0:
		return errors.New("at least one message is required")
	case r.Temperature < 0 || r.Temperature > 2:
		return errors.New("temperature must be between 0 and 2")
	case r.MaxTokens < 0:
		return errors.New("max_tokens must not be negative")
	}
	for i, m := range r.Messages {
		if !knownRoles[m.Role] {
			return fmt.Errorf("messages[%d]: unknown role %q", i, m.Role)
		}
		// an empty system prompt is allowed, an empty turn is not
		if m.Content == "" && m.Role != RoleSystem {
			return fmt.Errorf("messages[%d]: content is required", i)
		}
	}
	return nil
}

type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatResponse struct {
	ID      string       `json:"id,omitempty"`
	Created time.Time    `json:"created,omitempty"`
	Model   string       `json:"model,omitempty"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// Text returns the first choice's content.
func (r *ChatResponse) Text() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Truncated reports that the reply hit the token limit, which for JSON
// mode means the object is almost certainly incomplete.
func (r *ChatResponse) Truncated() bool {
	return r != nil && len(r.Choices) > 0 && r.Choices[0].FinishReason == "length"
}

type Client interface {
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// Complete sends a system + user prompt to the default model in JSON
	// mode and returns the raw reply text.
	Complete(ctx context.Context, system, prompt string) (string, error)
}
