// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package llm adapts an OpenAI-compatible chat completions endpoint for
// repository summarization with a strict JSON schema response contract.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/repodigest/repodigest/pkg/fault"
	"github.com/repodigest/repodigest/pkg/httpclient"
)

const errorBodyClip = 2048

// Gate is the summarization gateway. One gate serves many requests; the
// prompt contract is loaded once at construction.
type Gate struct {
	config     Config
	httpClient httpclient.Client
	contract   *PromptContract
}

// NewGate validates the config, loads the prompt contract from
// cfg.PromptPath and returns a ready gate.
func NewGate(cfg Config, client httpclient.Client) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	contract, err := LoadPromptContract(cfg.PromptPath)
	if err != nil {
		return nil, err
	}
	return NewGateWithContract(cfg, client, contract)
}

// NewGateWithContract wires an already parsed prompt contract
func NewGateWithContract(cfg Config, client httpclient.Client, contract *PromptContract) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Gate{config: cfg, httpClient: client, contract: contract}, nil
}

// Config returns the gate's effective configuration
func (g *Gate) Config() Config {
	return g.config
}

// Summarize parses the digest, renders the prompt pair and calls the chat
// completions endpoint, returning the normalized summary. Transport
// failures retry per the config; malformed model output never does.
func (g *Gate) Summarize(ctx context.Context, markdownText string, opts *Options) (*SummaryResult, error) {
	effective := g.config.ApplyOptions(opts)
	if err := effective.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(effective.APIKey) == "" {
		return nil, fault.New(fault.Config, "NEBIUS_API_KEY is required.")
	}

	digest, err := ParseRepoDigest(markdownText)
	if err != nil {
		return nil, err
	}
	userPrompt, err := g.contract.RenderUserPrompt(digest)
	if err != nil {
		return nil, err
	}

	payload := chatRequest{
		Model:       effective.ModelID,
		Temperature: effective.Temperature,
		TopP:        effective.TopP,
		MaxTokens:   effective.MaxOutputTokens,
		Stream:      false,
		ResponseFormat: responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchemaFormat{
				Name:   "repo_summary",
				Schema: g.contract.Schema,
				Strict: true,
			},
		},
		Messages: []chatMessage{
			{Role: "system", Content: g.contract.SystemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fault.New(fault.Internal, "Unable to encode chat completions payload.").WithContext(err.Error())
	}

	completion, err := g.callWithRetry(ctx, effective, body)
	if err != nil {
		return nil, err
	}
	parsed, err := extractOutputJSON(completion)
	if err != nil {
		return nil, err
	}
	return NormalizeSummary(parsed)
}

func (g *Gate) callWithRetry(ctx context.Context, cfg Config, body []byte) (*chatCompletion, error) {
	endpoint := strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions"
	attempts := cfg.MaxRetries + 1
	var last *fault.Error
	for attempt := 1; attempt <= attempts; attempt++ {
		completion, ferr := g.postOnce(ctx, cfg, endpoint, body)
		if ferr == nil {
			return completion, nil
		}
		if !ferr.Retryable {
			return nil, ferr
		}
		last = ferr
		if attempt < attempts {
			klog.V(6).Infof("retrying chat_completions after attempt %d: %v", attempt, ferr)
			idx := attempt - 1
			if idx >= len(cfg.RetryBackoff) {
				idx = len(cfg.RetryBackoff) - 1
			}
			backoff := cfg.RetryBackoff[idx] + time.Duration(rand.Int63n(int64(150*time.Millisecond)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fault.New(fault.Timeout, "LLM request timed out.").WithContext("chat_completions")
			}
		}
	}
	return nil, last
}

func (g *Gate) postOnce(ctx context.Context, cfg Config, endpoint string, body []byte) (*chatCompletion, *fault.Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fault.New(fault.Internal, "Unable to build chat completions request.").WithContext(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fault.New(fault.Timeout, "LLM request timed out.").
				WithContext("chat_completions").AsRetryable()
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return nil, fault.New(fault.Timeout, "LLM request timed out.").
				WithContext("chat_completions").AsRetryable()
		}
		return nil, fault.New(fault.Upstream, "Network failure while calling LLM.").
			WithContext(fmt.Sprintf("chat_completions: %v", err)).AsRetryable()
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.New(fault.Upstream, "Network failure while calling LLM.").
			WithContext(fmt.Sprintf("chat_completions: %v", err)).AsRetryable()
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fault.New(fault.RateLimited, "LLM rate limit reached.").
			WithStatus(resp.StatusCode).WithContext("chat_completions").AsRetryable()
	case resp.StatusCode == http.StatusBadGateway ||
		resp.StatusCode == http.StatusServiceUnavailable ||
		resp.StatusCode == http.StatusGatewayTimeout:
		return nil, fault.New(fault.Upstream, "Retryable LLM upstream failure.").
			WithStatus(resp.StatusCode).WithContext("chat_completions").AsRetryable()
	case resp.StatusCode >= 400:
		// The provider's error body is preserved so callers can read
		// context-overflow reports out of a 400.
		return nil, fault.New(fault.Upstream, "LLM upstream non-retryable failure.").
			WithStatus(resp.StatusCode).WithContext(clipBody(responseBody))
	}

	var completion chatCompletion
	if err := json.Unmarshal(responseBody, &completion); err != nil {
		return nil, fault.New(fault.OutputValidation, "Malformed completion response shape.").WithContext(err.Error())
	}
	return &completion, nil
}

type chatRequest struct {
	Model          string         `json:"model"`
	Temperature    float64        `json:"temperature"`
	TopP           float64        `json:"top_p"`
	MaxTokens      int            `json:"max_tokens"`
	Stream         bool           `json:"stream"`
	ResponseFormat responseFormat `json:"response_format"`
	Messages       []chatMessage  `json:"messages"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaFormat `json:"json_schema"`
}

type jsonSchemaFormat struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletion struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// extractOutputJSON pulls the model output out of the first choice. The
// content may be a JSON string or a list of text parts; either way the
// merged text must decode to a JSON object.
func extractOutputJSON(completion *chatCompletion) (map[string]json.RawMessage, error) {
	if completion == nil || len(completion.Choices) == 0 || len(completion.Choices[0].Message.Content) == 0 {
		return nil, fault.New(fault.OutputValidation, "Malformed completion response shape.")
	}
	content := completion.Choices[0].Message.Content

	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		var payload map[string]json.RawMessage
		if err := json.Unmarshal([]byte(text), &payload); err != nil {
			return nil, fault.New(fault.OutputValidation, "Model response is not valid JSON.").WithContext(err.Error())
		}
		return payload, nil
	}

	var parts []contentPart
	if err := json.Unmarshal(content, &parts); err == nil {
		var merged strings.Builder
		for _, part := range parts {
			if part.Type == "output_text" || part.Text != "" {
				merged.WriteString(part.Text)
			}
		}
		var payload map[string]json.RawMessage
		if err := json.Unmarshal([]byte(strings.TrimSpace(merged.String())), &payload); err != nil {
			return nil, fault.New(fault.OutputValidation, "Model content blocks are not valid JSON.").WithContext(err.Error())
		}
		return payload, nil
	}

	return nil, fault.New(fault.OutputValidation, "Unsupported model content format.")
}

// NormalizeSummary validates the decoded output object and applies the
// technology list normalization: trim, drop empties, cap entries at 80
// characters, dedupe case-insensitively keeping first occurrence, cap the
// list at 20. Normalization is idempotent.
func NormalizeSummary(payload map[string]json.RawMessage) (*SummaryResult, error) {
	if payload == nil {
		return nil, fault.New(fault.OutputValidation, "Output payload must be a JSON object.")
	}
	if len(payload) != 3 || !hasKeys(payload, "summary", "technologies", "structure") {
		return nil, fault.New(fault.OutputValidation, "Output must contain exactly summary/technologies/structure keys.")
	}

	var summary, structure string
	if err := json.Unmarshal(payload["summary"], &summary); err != nil {
		return nil, fault.New(fault.OutputValidation, "summary and structure must be strings.")
	}
	if err := json.Unmarshal(payload["structure"], &structure); err != nil {
		return nil, fault.New(fault.OutputValidation, "summary and structure must be strings.")
	}
	summary = strings.TrimSpace(summary)
	structure = strings.TrimSpace(structure)
	if summary == "" || structure == "" {
		return nil, fault.New(fault.OutputValidation, "summary and structure must be non-empty strings.")
	}

	var rawTechnologies []json.RawMessage
	if err := json.Unmarshal(payload["technologies"], &rawTechnologies); err != nil {
		return nil, fault.New(fault.OutputValidation, "technologies must be an array.")
	}

	seen := map[string]struct{}{}
	technologies := []string{}
	for _, raw := range rawTechnologies {
		var item string
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fault.New(fault.OutputValidation, "technologies must contain only strings.")
		}
		text := strings.TrimSpace(item)
		if text == "" {
			continue
		}
		if runes := []rune(text); len(runes) > 80 {
			text = strings.TrimRight(string(runes[:80]), " \t")
		}
		key := strings.ToLower(text)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		technologies = append(technologies, text)
	}
	if len(technologies) > 20 {
		technologies = technologies[:20]
	}
	return &SummaryResult{Summary: summary, Technologies: technologies, Structure: structure}, nil
}

func hasKeys(payload map[string]json.RawMessage, keys ...string) bool {
	for _, key := range keys {
		if _, ok := payload[key]; !ok {
			return false
		}
	}
	return true
}

func clipBody(body []byte) string {
	if len(body) <= errorBodyClip {
		return string(body)
	}
	return string(body[:errorBodyClip])
}
