// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repodigest/repodigest/pkg/fault"
	"github.com/repodigest/repodigest/pkg/llm"
)

type stubSummarizer struct {
	result *llm.SummaryResult
	err    error
	gotURL string
}

func (s *stubSummarizer) Summarize(ctx context.Context, githubURL string) (*llm.SummaryResult, error) {
	s.gotURL = githubURL
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func postSummarize(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(body))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeEnvelope(t *testing.T, recorder *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var envelope errorEnvelope
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	return envelope
}

func TestSummarizeEndpointSuccess(t *testing.T) {
	stub := &stubSummarizer{result: &llm.SummaryResult{
		Summary:      "A widget service.",
		Technologies: []string{"Go"},
		Structure:    "cmd and pkg.",
	}}
	recorder := postSummarize(t, New(stub).Handler(), `{"github_url":"https://github.com/acme/widget"}`)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))
	assert.Equal(t, "https://github.com/acme/widget", stub.gotURL)

	var result llm.SummaryResult
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))
	assert.Equal(t, "A widget service.", result.Summary)
	assert.Equal(t, []string{"Go"}, result.Technologies)
}

func TestSummarizeEndpointMethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/summarize", nil)
	recorder := httptest.NewRecorder()
	New(&stubSummarizer{}).Handler().ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
	envelope := decodeEnvelope(t, recorder)
	assert.Equal(t, "error", envelope.Status)
	assert.Equal(t, "Method not allowed.", envelope.Message)
}

func TestSummarizeEndpointInvalidBody(t *testing.T) {
	recorder := postSummarize(t, New(&stubSummarizer{}).Handler(), `{"github_url": `)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "Invalid request body.", decodeEnvelope(t, recorder).Message)
}

func TestSummarizeEndpointErrorMapping(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "invalid url",
			err:         fault.New(fault.InvalidURL, "Invalid GitHub repository URL."),
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Invalid GitHub repository URL.",
		},
		{
			name:        "inaccessible repository",
			err:         fault.New(fault.Inaccessible, "Repository not found or not accessible."),
			wantStatus:  http.StatusNotFound,
			wantMessage: "Repository not found or not accessible.",
		},
		{
			name:        "rate limited",
			err:         fault.New(fault.RateLimited, "GitHub rate limit reached."),
			wantStatus:  http.StatusTooManyRequests,
			wantMessage: "GitHub rate limit reached.",
		},
		{
			name:        "timeout",
			err:         fault.New(fault.Timeout, "LLM request timed out."),
			wantStatus:  http.StatusGatewayTimeout,
			wantMessage: "LLM request timed out.",
		},
		{
			name:        "upstream relays 429",
			err:         fault.New(fault.RateLimited, "LLM rate limit reached.").WithStatus(429),
			wantStatus:  http.StatusTooManyRequests,
			wantMessage: "LLM rate limit reached.",
		},
		{
			name:        "upstream failure",
			err:         fault.New(fault.Upstream, "Retryable LLM upstream failure.").WithStatus(503),
			wantStatus:  http.StatusServiceUnavailable,
			wantMessage: "Retryable LLM upstream failure.",
		},
		{
			name:        "output validation",
			err:         fault.New(fault.OutputValidation, "Model response is not valid JSON."),
			wantStatus:  http.StatusBadGateway,
			wantMessage: "Model response is not valid JSON.",
		},
		{
			name:        "internal errors are masked",
			err:         fault.New(fault.Internal, "nil pointer dereference"),
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "Internal server error.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := postSummarize(t, New(&stubSummarizer{err: tc.err}).Handler(),
				`{"github_url":"https://github.com/acme/widget"}`)

			assert.Equal(t, tc.wantStatus, recorder.Code)
			envelope := decodeEnvelope(t, recorder)
			assert.Equal(t, "error", envelope.Status)
			assert.Equal(t, tc.wantMessage, envelope.Message)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	recorder := httptest.NewRecorder()
	New(&stubSummarizer{}).Handler().ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
}
