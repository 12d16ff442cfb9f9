// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package server is the HTTP edge of the summarization service. It owns
// request decoding and the mapping from tagged pipeline errors to response
// statuses; everything else is the summarizer's business.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"k8s.io/klog/v2"

	"github.com/repodigest/repodigest/pkg/fault"
	"github.com/repodigest/repodigest/pkg/llm"
	"github.com/repodigest/repodigest/pkg/metrics"
)

// Summarizer is the single operation the edge depends on
type Summarizer interface {
	Summarize(ctx context.Context, githubURL string) (*llm.SummaryResult, error)
}

// Server serves POST /summarize
type Server struct {
	service Summarizer
}

// New creates a Server over the given summarizer
func New(service Summarizer) *Server {
	return &Server{service: service}
}

type summarizeRequest struct {
	GithubURL string `json:"github_url"`
}

type errorEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Handler returns the edge's HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/summarize", s.handleSummarize)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// ListenAndServe blocks serving requests until ctx is canceled, then
// drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{Addr: addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	klog.Infof("listening on %s", addr)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed.")
		return
	}
	var payload summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	started := time.Now()
	result, err := s.service.Summarize(r.Context(), payload.GithubURL)
	if err != nil {
		status := fault.HTTPStatus(err)
		metrics.ObserveSummarize(strconv.Itoa(status), time.Since(started).Seconds())
		message := fault.MessageOf(err)
		if status == http.StatusInternalServerError && fault.KindOf(err) == fault.Internal {
			message = "Internal server error."
		}
		writeError(w, status, message)
		return
	}
	metrics.ObserveSummarize(strconv.Itoa(http.StatusOK), time.Since(started).Seconds())
	writeJSON(w, http.StatusOK, result)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorEnvelope{Status: "error", Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		klog.Errorf("failed to encode response: %v", err)
	}
}
