package ai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/becmacc/beyflow-chat-sub000/internal/adapters"
)

const (
	DefaultModel        = "gpt-4o"
	defaultSystemPrompt = "You are a helpful automation assistant."
)

// Message represents a chat message
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Usage reports token accounting for a completion
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionRequest represents an OpenAI-compatible chat completion request
type CompletionRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// CompletionResponse represents an OpenAI-compatible chat completion response
type CompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Completion is the flattened result handed to workflow nodes
type Completion struct {
	Response string `json:"response"`
	Model    string `json:"model"`
	Usage    Usage  `json:"usage"`
}

// Completer produces chat completions
type Completer interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int) (Completion, error)
}

// CompletionClient implements Completer against /v1/chat/completions
type CompletionClient struct {
	svc   *adapters.Service
	model string
}

// NewCompletionClient creates a new completion client. Credentials travel in
// opts.Header (Authorization: Bearer ...).
func NewCompletionClient(opts adapters.Options, model string) *CompletionClient {
	if opts.Name == "" {
		opts.Name = "openai"
	}
	if model == "" {
		model = DefaultModel
	}
	return &CompletionClient{svc: adapters.NewService(opts), model: model}
}

// Complete sends a single system+user exchange and returns the first choice
func (c *CompletionClient) Complete(ctx context.Context, system, prompt string, maxTokens int) (Completion, error) {
	if system == "" {
		system = defaultSystemPrompt
	}
	req := CompletionRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		MaxTokens: maxTokens,
	}
	var resp CompletionResponse
	if err := c.svc.Do(ctx, http.MethodPost, "/v1/chat/completions", req, &resp); err != nil {
		return Completion{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("chat completion: empty choices")
	}
	return Completion{Response: resp.Choices[0].Message.Content, Model: resp.Model, Usage: resp.Usage}, nil
}

// Agent is a named persona used by agent workflow nodes
type Agent struct {
	Name         string
	Role         string
	SystemPrompt string
}

// Agents maps agent node types to their personas
var Agents = map[string]Agent{
	"omnigen": {
		Name:         "Omnigen",
		Role:         "Creative Guide & Orchestrator",
		SystemPrompt: "You are Omnigen, the orchestrator of all agents. Analyze requests and route to GPT-Marketer (marketing/content), GPT-Engineer (technical/coding), or DALL-E (visual/images). Coordinate complex tasks across multiple agents.",
	},
	"gptMarketer": {
		Name:         "GPT-Marketer",
		Role:         "Platform Specialist",
		SystemPrompt: "You are GPT-Marketer. You specialize in content strategy, social media optimization, audience analysis, viral marketing tactics, and brand positioning. Create compelling, platform-optimized content.",
	},
	"gptEngineer": {
		Name:         "GPT-Engineer",
		Role:         "Technical Expert",
		SystemPrompt: "You are GPT-Engineer. You specialize in software architecture, backend development, API integrations, database design, and system optimization. Provide technical solutions and write production-quality code.",
	},
	"dalle": {
		Name:         "DALL-E",
		Role:         "Image Creator",
		SystemPrompt: "You are DALL-E assistant. When given a request, create a detailed image generation prompt. Be specific about style, composition, lighting, colors, and mood.",
	},
}

// AgentFor returns the persona for kind, falling back to Omnigen
func AgentFor(kind string) Agent {
	if a, ok := Agents[kind]; ok {
		return a
	}
	return Agents["omnigen"]
}
