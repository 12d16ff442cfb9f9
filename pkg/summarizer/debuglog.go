// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package summarizer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/repodigest/repodigest/pkg/writers"
)

// RequestLog accumulates the per-request debug trail and flushes it as one
// file named requested-<repo>-<timestamp>-<request id>.log.
type RequestLog struct {
	RequestID string

	writer  writers.Writer
	mu      sync.Mutex
	repo    string
	lines   []string
	started time.Time
}

// NewRequestLog starts a log for one request. The repo name is provisional
// until the URL has been parsed.
func NewRequestLog(githubURL string, writer writers.Writer) *RequestLog {
	return &RequestLog{
		RequestID: newRequestID(),
		writer:    writer,
		repo:      repoNameFromURL(githubURL),
		started:   time.Now(),
	}
}

// SetRepoName replaces the provisional repo name after URL parsing
func (l *RequestLog) SetRepoName(name string) {
	l.mu.Lock()
	l.repo = name
	l.mu.Unlock()
}

// Addf appends a timestamped line
func (l *RequestLog) Addf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	l.mu.Lock()
	l.lines = append(l.lines, fmt.Sprintf("%s %s", time.Now().UTC().Format(time.RFC3339Nano), line))
	l.mu.Unlock()
}

// Elapsed is the wall-clock time since the request started
func (l *RequestLog) Elapsed() time.Duration {
	return time.Since(l.started)
}

// Flush writes the accumulated lines through the configured writer.
// Failures are logged, never propagated; the debug trail must not fail a
// request.
func (l *RequestLog) Flush() {
	if l.writer == nil {
		return
	}
	l.mu.Lock()
	name := fmt.Sprintf("requested-%s-%s-%s.log", l.repo, time.Now().UTC().Format("20060102-150405"), l.RequestID)
	blob := []byte(strings.Join(l.lines, "\n") + "\n")
	l.mu.Unlock()
	if err := l.writer.Write(name, "", blob); err != nil {
		klog.Warningf("failed to write request log %s: %v", name, err)
	}
}

func newRequestID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

func repoNameFromURL(githubURL string) string {
	cleaned := strings.TrimRight(githubURL, "/")
	parts := strings.Split(cleaned, "/")
	if len(parts) >= 2 && parts[len(parts)-1] != "" {
		return parts[len(parts)-1]
	}
	return "unknown"
}
