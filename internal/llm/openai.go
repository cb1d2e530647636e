package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pbaille/govpulse/internal/config"
)

const openAIAPI = "https://api.openai.com/v1"

// OpenAI calls any chat-completions compatible endpoint
type OpenAI struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	baseURL     string
	client      *http.Client
}

// NewOpenAI creates a chat-completions provider. BaseURL may point at any
// compatible server.
func NewOpenAI(apiKey string, lc config.LayerConfig) (*OpenAI, error) {
	if apiKey == "" && lc.BaseURL == "" {
		return nil, fmt.Errorf("openai api key not set (env %s)", lc.APIKeyEnv)
	}
	o := &OpenAI{
		apiKey:      apiKey,
		model:       lc.Model,
		maxTokens:   lc.MaxTokens,
		temperature: lc.Temperature,
		baseURL:     openAIAPI,
		client:      &http.Client{},
	}
	if o.model == "" {
		o.model = "gpt-4o-mini"
	}
	if o.maxTokens <= 0 {
		o.maxTokens = 1024
	}
	if lc.BaseURL != "" {
		o.baseURL = strings.TrimSuffix(lc.BaseURL, "/")
	}
	return o, nil
}

func (o *OpenAI) Name() string { return "openai/" + o.model }

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	MaxTokens      int            `json:"max_tokens"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (o *OpenAI) Call(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You extract structured facts from social media posts and reply with JSON only."},
			{Role: "user", Content: prompt},
		},
		MaxTokens:      o.maxTokens,
		Temperature:    o.temperature,
		ResponseFormat: map[string]any{"type": "json_object"},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", statusError("openai", resp.StatusCode, body)
	}

	var apiResp chatResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("openai api error: %s", apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("empty response")
	}
	return apiResp.Choices[0].Message.Content, nil
}
