// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repodigest/repodigest/pkg/fault"
)

const digestFixture = "# Repository Metadata\n- Name: widget\n\n# README\nhello readme\n"

func newTestGate(t *testing.T, baseURL, apiKey string, maxRetries int) *Gate {
	t.Helper()
	contract, err := ParsePromptContract([]byte(promptFixture))
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.ModelID = "test-model"
	cfg.ModelContextWindowTokens = 1000
	cfg.MaxOutputTokens = 100
	cfg.AttemptTimeout = 2 * time.Second
	cfg.MaxRetries = maxRetries
	cfg.RetryBackoff = []time.Duration{time.Millisecond, 2 * time.Millisecond}
	cfg.BaseURL = baseURL
	cfg.APIKey = apiKey

	gate, err := NewGateWithContract(cfg, http.DefaultClient, contract)
	require.NoError(t, err)
	return gate
}

func completionBody(t *testing.T, output string) []byte {
	t.Helper()
	content, err := json.Marshal(output)
	require.NoError(t, err)
	return []byte(fmt.Sprintf(`{"choices":[{"message":{"content":%s}}]}`, content))
}

func TestSummarizeSuccess(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write(completionBody(t, `{"summary":"A widget service.","technologies":["Go"],"structure":"cmd and pkg."}`))
	}))
	defer srv.Close()

	gate := newTestGate(t, srv.URL, "secret", 0)
	result, err := gate.Summarize(context.Background(), digestFixture, nil)
	require.NoError(t, err)

	assert.Equal(t, "A widget service.", result.Summary)
	assert.Equal(t, []string{"Go"}, result.Technologies)
	assert.Equal(t, "cmd and pkg.", result.Structure)

	assert.Equal(t, "test-model", captured.Model)
	assert.False(t, captured.Stream)
	assert.Equal(t, "json_schema", captured.ResponseFormat.Type)
	assert.Equal(t, "repo_summary", captured.ResponseFormat.JSONSchema.Name)
	assert.True(t, captured.ResponseFormat.JSONSchema.Strict)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "You are a code analyst.", captured.Messages[0].Content)
	assert.Equal(t, "user", captured.Messages[1].Role)
	assert.Contains(t, captured.Messages[1].Content, "hello readme")
	assert.Contains(t, captured.Messages[1].Content, "- Name: widget")
}

func TestSummarizeRetriesOn503(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(completionBody(t, `{"summary":"s","technologies":[],"structure":"st"}`))
	}))
	defer srv.Close()

	gate := newTestGate(t, srv.URL, "secret", 2)
	result, err := gate.Summarize(context.Background(), digestFixture, nil)
	require.NoError(t, err)
	assert.Equal(t, "s", result.Summary)
	assert.Equal(t, 2, attempts)
}

func TestSummarizeRateLimitExhaustsRetries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	gate := newTestGate(t, srv.URL, "secret", 1)
	_, err := gate.Summarize(context.Background(), digestFixture, nil)
	require.Error(t, err)
	assert.Equal(t, fault.RateLimited, fault.KindOf(err))
	assert.Equal(t, http.StatusTooManyRequests, fault.StatusOf(err))
	assert.Equal(t, 2, attempts)
}

func TestSummarizeBadRequestPreservesBody(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"This model's maximum context length is 1000 tokens."}}`)
	}))
	defer srv.Close()

	gate := newTestGate(t, srv.URL, "secret", 2)
	_, err := gate.Summarize(context.Background(), digestFixture, nil)
	require.Error(t, err)
	assert.Equal(t, fault.Upstream, fault.KindOf(err))
	assert.Equal(t, http.StatusBadRequest, fault.StatusOf(err))
	assert.Contains(t, fault.ContextOf(err), "maximum context length")
	assert.Equal(t, 1, attempts)
}

func TestSummarizeMissingAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server must not be called without an API key")
	}))
	defer srv.Close()

	gate := newTestGate(t, srv.URL, "   ", 0)
	_, err := gate.Summarize(context.Background(), digestFixture, nil)
	require.Error(t, err)
	assert.Equal(t, fault.Config, fault.KindOf(err))
}

func TestSummarizeMalformedOutputDoesNotRetry(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Write(completionBody(t, "this is not json"))
	}))
	defer srv.Close()

	gate := newTestGate(t, srv.URL, "secret", 2)
	_, err := gate.Summarize(context.Background(), digestFixture, nil)
	require.Error(t, err)
	assert.Equal(t, fault.OutputValidation, fault.KindOf(err))
	assert.Equal(t, 1, attempts)
}

func TestSummarizeOptionsOverrideModel(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write(completionBody(t, `{"summary":"s","technologies":[],"structure":"st"}`))
	}))
	defer srv.Close()

	gate := newTestGate(t, srv.URL, "secret", 0)
	temperature := 0.7
	_, err := gate.Summarize(context.Background(), digestFixture, &Options{
		ModelID:         "other-model",
		Temperature:     &temperature,
		MaxOutputTokens: 64,
	})
	require.NoError(t, err)
	assert.Equal(t, "other-model", captured.Model)
	assert.Equal(t, 0.7, captured.Temperature)
	assert.Equal(t, 64, captured.MaxTokens)
}

func TestExtractOutputJSONContentParts(t *testing.T) {
	body := []byte(`{"choices":[{"message":{"content":[{"type":"output_text","text":"{\"summary\":\"s\"}"}]}}]}`)
	var completion chatCompletion
	require.NoError(t, json.Unmarshal(body, &completion))

	payload, err := extractOutputJSON(&completion)
	require.NoError(t, err)
	assert.Contains(t, payload, "summary")
}

func TestExtractOutputJSONEmptyChoices(t *testing.T) {
	_, err := extractOutputJSON(&chatCompletion{})
	require.Error(t, err)
	assert.Equal(t, fault.OutputValidation, fault.KindOf(err))
}

func TestNormalizeSummary(t *testing.T) {
	payload := func(t *testing.T, text string) map[string]json.RawMessage {
		t.Helper()
		var decoded map[string]json.RawMessage
		require.NoError(t, json.Unmarshal([]byte(text), &decoded))
		return decoded
	}

	t.Run("trims and dedupes case-insensitively", func(t *testing.T) {
		result, err := NormalizeSummary(payload(t,
			`{"summary":"  s  ","technologies":["  Go ","go","","Python"],"structure":"st"}`))
		require.NoError(t, err)
		assert.Equal(t, "s", result.Summary)
		assert.Equal(t, []string{"Go", "Python"}, result.Technologies)
	})

	t.Run("caps entries at eighty runes", func(t *testing.T) {
		long := strings.Repeat("a", 79) + " tail"
		result, err := NormalizeSummary(payload(t,
			fmt.Sprintf(`{"summary":"s","technologies":[%q],"structure":"st"}`, long)))
		require.NoError(t, err)
		require.Len(t, result.Technologies, 1)
		assert.Equal(t, strings.Repeat("a", 79), result.Technologies[0])
	})

	t.Run("caps list at twenty", func(t *testing.T) {
		items := make([]string, 25)
		for i := range items {
			items[i] = fmt.Sprintf(`"tech-%02d"`, i)
		}
		result, err := NormalizeSummary(payload(t,
			fmt.Sprintf(`{"summary":"s","technologies":[%s],"structure":"st"}`, strings.Join(items, ","))))
		require.NoError(t, err)
		assert.Len(t, result.Technologies, 20)
		assert.Equal(t, "tech-00", result.Technologies[0])
		assert.Equal(t, "tech-19", result.Technologies[19])
	})

	t.Run("is idempotent", func(t *testing.T) {
		long := strings.Repeat("b", 79) + " trailing"
		first, err := NormalizeSummary(payload(t, fmt.Sprintf(
			`{"summary":" s ","technologies":["  Go ","go",%q,"","Python"],"structure":" st "}`, long)))
		require.NoError(t, err)

		reencoded, err := json.Marshal(first)
		require.NoError(t, err)
		second, err := NormalizeSummary(payload(t, string(reencoded)))
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("rejects bad shapes", func(t *testing.T) {
		cases := []string{
			`{"summary":"s","technologies":[]}`,
			`{"summary":"s","technologies":[],"structure":"st","extra":1}`,
			`{"summary":"","technologies":[],"structure":"st"}`,
			`{"summary":"s","technologies":"Go","structure":"st"}`,
			`{"summary":"s","technologies":[1],"structure":"st"}`,
			`{"summary":1,"technologies":[],"structure":"st"}`,
		}
		for _, c := range cases {
			_, err := NormalizeSummary(payload(t, c))
			require.Error(t, err, c)
			assert.Equal(t, fault.OutputValidation, fault.KindOf(err), c)
		}
	})
}

func TestClipBody(t *testing.T) {
	assert.Equal(t, "short", clipBody([]byte("short")))
	clipped := clipBody([]byte(strings.Repeat("x", errorBodyClip+100)))
	assert.Len(t, clipped, errorBodyClip)
}
