// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zetherion/zetherion/internal/httpclient"
)

const providerTimeout = 60 * time.Second

// extractionPrompt instructs the model to answer with a JSON object of the
// shape {"items": [{item_type, content, confidence, metadata}]}.
func extractionPrompt(event *ObservationEvent) string {
	var b strings.Builder
	b.WriteString("Extract actionable items from the message below. ")
	b.WriteString(`Respond with JSON only: {"items": [{"item_type": "task|deadline|meeting|contact|reminder", "content": "...", "confidence": 0.0, "metadata": {}}]}. `)
	b.WriteString("Use an empty items array when nothing actionable is present.\n\n")
	if len(event.ConversationHistory) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, line := range event.ConversationHistory {
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Message from %s:\n%s\n", event.Author, event.Content)
	return b.String()
}

// decodeItems parses a model answer into raw mapping items. Models sometimes
// fence the JSON in markdown; the fence is stripped before decoding.
func decodeItems(answer string) ([]map[string]any, error) {
	answer = strings.TrimSpace(answer)
	if strings.HasPrefix(answer, "```") {
		answer = strings.TrimPrefix(answer, "```json")
		answer = strings.TrimPrefix(answer, "```")
		answer = strings.TrimSuffix(answer, "```")
		answer = strings.TrimSpace(answer)
	}

	var parsed struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal([]byte(answer), &parsed); err != nil {
		return nil, fmt.Errorf("parse model answer: %w", err)
	}
	return parsed.Items, nil
}

// ============================================================================
// OLLAMA PROVIDER (TIER 2)
// ============================================================================

// OllamaProvider extracts items through a local Ollama-compatible server.
type OllamaProvider struct {
	client *httpclient.Client
	model  string
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	client := httpclient.New(baseURL)
	client.HTTPClient = &http.Client{Timeout: providerTimeout}
	return &OllamaProvider{client: client, model: model}
}

func (p *OllamaProvider) Name() string { return "ollama/" + p.model }

func (p *OllamaProvider) ExtractItems(ctx context.Context, event *ObservationEvent) ([]map[string]any, error) {
	req := map[string]any{
		"model":  p.model,
		"prompt": extractionPrompt(event),
		"format": "json",
		"stream": false,
	}
	var resp struct {
		Response string `json:"response"`
	}
	if err := p.client.PostJSON(ctx, "/api/generate", req, &resp); err != nil {
		return nil, err
	}
	return decodeItems(resp.Response)
}

// ============================================================================
// OPENAI-COMPATIBLE PROVIDER (TIER 3)
// ============================================================================

// OpenAIProvider extracts items through an OpenAI-compatible chat completions
// endpoint. The base URL should include any version prefix (e.g. ".../v1").
type OpenAIProvider struct {
	client *httpclient.Client
	model  string
}

func NewOpenAIProvider(baseURL, model, apiKey string) *OpenAIProvider {
	client := httpclient.New(baseURL)
	client.HTTPClient = &http.Client{Timeout: providerTimeout}
	if apiKey != "" {
		client.Headers = map[string]string{"Authorization": "Bearer " + apiKey}
	}
	return &OpenAIProvider{client: client, model: model}
}

func (p *OpenAIProvider) Name() string { return "openai/" + p.model }

func (p *OpenAIProvider) ExtractItems(ctx context.Context, event *ObservationEvent) ([]map[string]any, error) {
	req := map[string]any{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "user", "content": extractionPrompt(event)},
		},
		"response_format": map[string]string{"type": "json_object"},
	}
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := p.client.PostJSON(ctx, "/chat/completions", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty completion")
	}
	return decodeItems(resp.Choices[0].Message.Content)
}
