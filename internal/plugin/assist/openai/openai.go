// Package openai implements the assistant on the OpenAI chat completions
// API. Responses are requested as JSON so the result can be decoded without
// scraping prose.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/strandhq/strand/internal/config"
	registryassist "github.com/strandhq/strand/internal/registry/assist"
)

func init() {
	registryassist.Register(registryassist.Plugin{
		Name:   "openai",
		Loader: load,
	})
}

func load(ctx context.Context) (registryassist.Assistant, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("openai assistant: STRAND_OPENAI_API_KEY is required")
	}
	return &OpenAIAssistant{
		apiKey:  cfg.OpenAIAPIKey,
		model:   cfg.AssistModelName,
		baseURL: strings.TrimRight(cfg.OpenAIBaseURL, "/"),
	}, nil
}

type OpenAIAssistant struct {
	apiKey  string
	model   string
	baseURL string
}

const summarizeSystemPrompt = `You summarize notes in a personal knowledge store.
Respond with a JSON object only, no prose:
{"summary": "...", "tags": ["..."], "project": "..."}
The summary is one or two sentences. Suggest at most 8 short lowercase tags.
Set project to a short project name if the note clearly belongs to one,
otherwise an empty string.`

const titleSystemPrompt = `You title notes in a personal knowledge store.
Respond with a JSON object only, no prose: {"title": "..."}
The title is at most 80 characters. If no good title exists, use an empty string.`

func (a *OpenAIAssistant) Summarize(ctx context.Context, req registryassist.SummarizeRequest) (*registryassist.SummarizeResult, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "Source type: %s\n", req.SourceType)
	if req.SourceURL != "" {
		fmt.Fprintf(&user, "Source URL: %s\n", req.SourceURL)
	}
	if req.FileName != "" {
		fmt.Fprintf(&user, "File name: %s\n", req.FileName)
	}
	if len(req.ExistingTags) > 0 {
		fmt.Fprintf(&user, "Tags already used in this workspace: %s\n", strings.Join(req.ExistingTags, ", "))
	}
	fmt.Fprintf(&user, "\nNote content:\n%s", req.Content)

	raw, err := a.complete(ctx, summarizeSystemPrompt, user.String())
	if err != nil {
		return nil, err
	}
	var result struct {
		Summary string   `json:"summary"`
		Tags    []string `json:"tags"`
		Project string   `json:"project"`
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("openai assistant: parse summarize response: %w", err)
	}
	return &registryassist.SummarizeResult{
		Summary: strings.TrimSpace(result.Summary),
		Tags:    result.Tags,
		Project: strings.TrimSpace(result.Project),
	}, nil
}

func (a *OpenAIAssistant) SuggestTitle(ctx context.Context, text string) (string, error) {
	raw, err := a.complete(ctx, titleSystemPrompt, text)
	if err != nil {
		return "", err
	}
	var result struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return "", fmt.Errorf("openai assistant: parse title response: %w", err)
	}
	return strings.TrimSpace(result.Title), nil
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
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
	} `json:"error"`
}

func (a *OpenAIAssistant) complete(ctx context.Context, system, user string) (string, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: &struct {
			Type string `json:"type"`
		}{Type: "json_object"},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai assistant request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("openai assistant: read response: %w", err)
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("openai assistant: parse response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("openai assistant error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai assistant: empty response")
	}
	return result.Choices[0].Message.Content, nil
}

var _ registryassist.Assistant = (*OpenAIAssistant)(nil)
