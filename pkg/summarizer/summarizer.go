// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package summarizer drives one summarization request end to end:
// extraction, budget processing and the model call, with a per-request
// debug trail.
package summarizer

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"time"

	"k8s.io/klog/v2"

	"github.com/repodigest/repodigest/pkg/fault"
	"github.com/repodigest/repodigest/pkg/github"
	"github.com/repodigest/repodigest/pkg/github/selectors"
	"github.com/repodigest/repodigest/pkg/llm"
	"github.com/repodigest/repodigest/pkg/metrics"
	"github.com/repodigest/repodigest/pkg/processor"
	"github.com/repodigest/repodigest/pkg/writers"
)

var contextOverflowPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)maximum context length is\s+(\d+)\s+tokens.*?request has\s+(\d+)\s+input tokens`),
	regexp.MustCompile(`(?is)maximum context length is\s+(\d+).*?your request has\s+(\d+)`),
}

// Config bundles the per-request wiring of a Service
type Config struct {
	GithubOptions github.Options
	GithubToken   string
	Limits        github.Limits
	IgnoreRules   *selectors.IgnoreRules
	Processor     processor.Config
}

// Service answers summarization requests. The LLM gate is shared; GitHub
// clients are built per request so nothing leaks between repositories.
type Service struct {
	cfg       Config
	gate      *llm.Gate
	logWriter writers.Writer
}

// New creates a Service
func New(cfg Config, gate *llm.Gate, logWriter writers.Writer) *Service {
	return &Service{cfg: cfg, gate: gate, logWriter: logWriter}
}

// Summarize runs the full pipeline for one repository URL
func (s *Service) Summarize(ctx context.Context, githubURL string) (result *llm.SummaryResult, err error) {
	rlog := NewRequestLog(githubURL, s.logWriter)
	requestID := rlog.RequestID
	rlog.Addf("section=request_metadata")
	rlog.Addf("request_start request_id=%s repo_url=%s", requestID, githubURL)
	klog.Infof("request_start request_id=%s repo_url=%s", requestID, githubURL)
	defer func() {
		status := fault.HTTPStatus(err)
		latencyMS := rlog.Elapsed().Milliseconds()
		klog.Infof("request_end request_id=%s status=%d latency_ms=%d", requestID, status, latencyMS)
		rlog.Addf("section=final_status")
		rlog.Addf("request_end status=%d latency_ms=%d", status, latencyMS)
		rlog.Flush()
	}()

	repo, err := github.ParseRepoURL(githubURL, s.cfg.GithubOptions.Host)
	if err != nil {
		return nil, err
	}
	rlog.SetRepoName(repo.Repo)

	httpClient := metrics.InstrumentClientRoundTripperDuration(github.NewHTTPClient(ctx, s.cfg.GithubToken), "github")
	client := github.NewClient(httpClient, s.cfg.GithubOptions)
	extractor := github.NewExtractor(client, s.cfg.IgnoreRules, s.cfg.Limits)

	if err = client.VerifyRepoAccess(ctx, repo); err != nil {
		return nil, err
	}

	klog.Infof("github_fetch_start request_id=%s", requestID)
	rlog.Addf("section=github_fetch")
	rlog.Addf("github_fetch_start")
	fetchStarted := time.Now()
	snapshot, stageWarnings, err := s.fetchAll(ctx, client, extractor, repo, requestID, rlog)
	if err != nil {
		return nil, err
	}
	warnings := append(stageWarnings, extractor.Warnings()...)
	fullMarkdown := github.RenderFullMarkdown(snapshot, warnings)
	fetchDurationMS := time.Since(fetchStarted).Milliseconds()
	klog.Infof("github_fetch_done request_id=%s bytes=%d warnings=%d duration_ms=%d",
		requestID, len(fullMarkdown), len(warnings), fetchDurationMS)
	rlog.Addf("github_fetch_done bytes=%d warnings=%d duration_ms=%d",
		len(fullMarkdown), len(warnings), fetchDurationMS)
	for _, warn := range warnings {
		rlog.Addf("github_warning %s", warn)
	}

	llmInput, processed := s.processWithFallback(fullMarkdown, s.cfg.Processor, requestID, rlog, false)

	maxRepoDataBytes := -1
	if processed != nil {
		maxRepoDataBytes = processed.MaxRepoDataSizeForPromptBytes
	}
	inputTokens := estimateTokens(len(llmInput), s.cfg.Processor.BytesPerTokenEstimate)
	contextTokens := s.gate.Config().ModelContextWindowTokens
	contextBytes := int(float64(contextTokens) * s.cfg.Processor.BytesPerTokenEstimate)
	klog.Infof("llm_input request_id=%s bytes=%d estimated_tokens_coarse=%d model_context_tokens=%d model_context_estimated_bytes=%d max_repo_data_bytes=%d",
		requestID, len(llmInput), inputTokens, contextTokens, contextBytes, maxRepoDataBytes)
	rlog.Addf("llm_input bytes=%d estimated_tokens_coarse=%d model_context_tokens=%d model_context_estimated_bytes=%d max_repo_data_bytes=%d",
		len(llmInput), inputTokens, contextTokens, contextBytes, maxRepoDataBytes)

	klog.Infof("llm_start request_id=%s model=%s", requestID, s.gate.Config().ModelID)
	rlog.Addf("section=llm_call")
	rlog.Addf("llm_start model=%s", s.gate.Config().ModelID)

	result, lerr := s.gate.Summarize(ctx, llmInput, nil)
	if lerr != nil {
		result, lerr = s.retryAfterOverflow(ctx, fullMarkdown, lerr, requestID, rlog)
	}
	if lerr != nil {
		logLLMError(requestID, rlog, lerr)
		return nil, lerr
	}
	klog.Infof("llm_done request_id=%s", requestID)
	rlog.Addf("llm_done")
	return result, nil
}

// Extract runs only the GitHub stage and returns the rendered extraction
// markdown. No debug log file is written.
func (s *Service) Extract(ctx context.Context, githubURL string) (string, error) {
	rlog := NewRequestLog(githubURL, nil)
	repo, err := github.ParseRepoURL(githubURL, s.cfg.GithubOptions.Host)
	if err != nil {
		return "", err
	}
	httpClient := metrics.InstrumentClientRoundTripperDuration(github.NewHTTPClient(ctx, s.cfg.GithubToken), "github")
	client := github.NewClient(httpClient, s.cfg.GithubOptions)
	extractor := github.NewExtractor(client, s.cfg.IgnoreRules, s.cfg.Limits)
	if err := client.VerifyRepoAccess(ctx, repo); err != nil {
		return "", err
	}
	snapshot, stageWarnings, err := s.fetchAll(ctx, client, extractor, repo, rlog.RequestID, rlog)
	if err != nil {
		return "", err
	}
	warnings := append(stageWarnings, extractor.Warnings()...)
	return github.RenderFullMarkdown(snapshot, warnings), nil
}

// ProcessMarkdown fits already extracted markdown into the prompt budget
// with the service's processor configuration.
func (s *Service) ProcessMarkdown(markdownText string) (string, error) {
	processed, err := processor.Process(markdownText, s.cfg.Processor)
	if err != nil {
		return "", err
	}
	return processor.RenderProcessedMarkdown(processed), nil
}

// retryAfterOverflow reprocesses with a tighter repo-data ratio and retries
// the model exactly once, and only when the failure is a provider 400
// reporting a context window overflow.
func (s *Service) retryAfterOverflow(ctx context.Context, fullMarkdown string, lerr error, requestID string, rlog *RequestLog) (*llm.SummaryResult, error) {
	maxTokens, requestTokens, ok := parseContextOverflow(lerr)
	if !ok || requestTokens <= 0 {
		return nil, lerr
	}

	currentRatio := s.cfg.Processor.MaxRepoDataRatioInPrompt
	targetRatio := overflowRetryRatio(currentRatio, maxTokens, requestTokens)

	klog.Infof("llm_retry_context_overflow request_id=%s provider_max_tokens=%d provider_input_tokens=%d current_ratio=%.4f retry_ratio=%.4f",
		requestID, maxTokens, requestTokens, currentRatio, targetRatio)
	rlog.Addf("llm_retry_context_overflow provider_max_tokens=%d provider_input_tokens=%d current_ratio=%.4f retry_ratio=%.4f",
		maxTokens, requestTokens, currentRatio, targetRatio)

	retryCfg := s.cfg.Processor
	retryCfg.MaxRepoDataRatioInPrompt = targetRatio
	llmInput, _ := s.processWithFallback(fullMarkdown, retryCfg, requestID, rlog, true)

	retryTokens := estimateTokens(len(llmInput), retryCfg.BytesPerTokenEstimate)
	klog.Infof("llm_input_retry request_id=%s bytes=%d estimated_tokens_coarse=%d", requestID, len(llmInput), retryTokens)
	rlog.Addf("llm_input_retry bytes=%d estimated_tokens_coarse=%d", len(llmInput), retryTokens)

	return s.gate.Summarize(ctx, llmInput, nil)
}

// processWithFallback fits the document into budget. A budget fault with a
// partial result falls back to that oversized document; one without falls
// back to the raw markdown. Other processor failures are not survivable
// but are also not raised here since the model call decides the request's
// fate, so they degrade to the raw markdown too.
func (s *Service) processWithFallback(fullMarkdown string, cfg processor.Config, requestID string, rlog *RequestLog, isRetry bool) (string, *processor.Processed) {
	if !isRetry {
		klog.Infof("repo_process_start request_id=%s", requestID)
		rlog.Addf("section=repo_processor")
		rlog.Addf("repo_process_start")
	}

	processed, err := processor.Process(fullMarkdown, cfg)
	if err == nil {
		rendered := processor.RenderProcessedMarkdown(processed)
		klog.Infof("repo_process_done request_id=%s output_bytes=%d", requestID, processed.OutputTotalUTF8Bytes)
		rlog.Addf("repo_process_done output_bytes=%d max_repo_data_bytes=%d",
			processed.OutputTotalUTF8Bytes, processed.MaxRepoDataSizeForPromptBytes)
		logTruncationNotes(requestID, rlog, processed.TruncationNotes)
		return rendered, processed
	}

	if fault.KindOf(err) == fault.Budget {
		if partial, ok := fault.PartialOf(err).(*processor.Processed); ok && partial != nil {
			rendered := processor.RenderProcessedMarkdown(partial)
			overflow := partial.OutputTotalUTF8Bytes - partial.MaxRepoDataSizeForPromptBytes
			klog.Infof("repo_process_done request_id=%s output_bytes=%d max_repo_data_bytes=%d overflow_bytes=%d fallback=processed_overflow",
				requestID, partial.OutputTotalUTF8Bytes, partial.MaxRepoDataSizeForPromptBytes, overflow)
			rlog.Addf("repo_process_budget_warning fallback_processed_overflow reason=%s output_bytes=%d max_repo_data_bytes=%d overflow_bytes=%d",
				err.Error(), partial.OutputTotalUTF8Bytes, partial.MaxRepoDataSizeForPromptBytes, overflow)
			logTruncationNotes(requestID, rlog, partial.TruncationNotes)
			return rendered, partial
		}
		klog.Infof("repo_process_done request_id=%s output_bytes=%d fallback=full_markdown", requestID, len(fullMarkdown))
		rlog.Addf("repo_process_budget_warning fallback_full_markdown reason=%s", err.Error())
		return fullMarkdown, nil
	}

	klog.Warningf("repo_process_failed request_id=%s fallback=full_markdown err=%v", requestID, err)
	rlog.Addf("repo_process_failed fallback_full_markdown reason=%s", err.Error())
	return fullMarkdown, nil
}

// fetchAll runs the extraction stages. Metadata, tree, languages and
// readme are mandatory; their failures end the request. The optional
// categories run only while the total fetch budget lasts and degrade to
// warnings.
func (s *Service) fetchAll(ctx context.Context, client *github.Client, extractor *github.Extractor, repo github.RepoRef, requestID string, rlog *RequestLog) (*github.RepoSnapshot, []string, error) {
	var warnings []string
	snapshot := &github.RepoSnapshot{}
	fetchStarted := time.Now()
	maxTotalMS := s.cfg.Limits.MaxTotalFetchDuration.Milliseconds()

	stageStart := func(name string) time.Time {
		klog.Infof("github_fetch_stage_start request_id=%s stage=%s", requestID, name)
		rlog.Addf("github_fetch_stage_start stage=%s", name)
		return time.Now()
	}
	stageDone := func(name string, started time.Time, extra string) {
		durationMS := time.Since(started).Milliseconds()
		suffix := ""
		if extra != "" {
			suffix = " " + extra
		}
		klog.Infof("github_fetch_stage_done request_id=%s stage=%s duration_ms=%d%s", requestID, name, durationMS, suffix)
		rlog.Addf("github_fetch_stage_done stage=%s duration_ms=%d%s", name, durationMS, suffix)
	}
	budgetExhausted := func(nextStage string) bool {
		elapsedMS := time.Since(fetchStarted).Milliseconds()
		if elapsedMS < maxTotalMS {
			return false
		}
		warnings = append(warnings, ""+nextStage+": stop_reason=max_total_fetch_duration_reached (elapsed_ms="+
			strconv.FormatInt(elapsedMS, 10)+", max_ms="+strconv.FormatInt(maxTotalMS, 10)+")")
		klog.Infof("github_fetch_stage_skipped request_id=%s stage=%s stop_reason=max_total_fetch_duration_reached elapsed_ms=%d max_ms=%d",
			requestID, nextStage, elapsedMS, maxTotalMS)
		rlog.Addf("github_fetch_stage_skipped stage=%s stop_reason=max_total_fetch_duration_reached elapsed_ms=%d max_ms=%d",
			nextStage, elapsedMS, maxTotalMS)
		return true
	}

	started := stageStart("metadata")
	meta, err := client.Metadata(ctx, repo)
	if err != nil {
		return nil, nil, err
	}
	snapshot.Metadata = *meta
	stageDone("metadata", started, "")

	started = stageStart("tree")
	tree, err := client.Tree(ctx, repo)
	if err != nil {
		return nil, nil, err
	}
	snapshot.Tree = tree
	stageDone("tree", started, "entries="+strconv.Itoa(len(tree)))

	started = stageStart("languages")
	languages, err := client.Languages(ctx, repo)
	if err != nil {
		return nil, nil, err
	}
	snapshot.Languages = languages
	stageDone("languages", started, "count="+strconv.Itoa(len(languages)))

	started = stageStart("readme")
	readme, err := client.Readme(ctx, repo)
	if err != nil {
		return nil, nil, err
	}
	snapshot.Readme = readme
	readmeBytes := 0
	if readme != nil {
		readmeBytes = readme.ByteSize
	}
	stageDone("readme", started, "bytes="+strconv.Itoa(readmeBytes))

	started = stageStart("documentation")
	if !budgetExhausted("documentation") {
		snapshot.Documentation = extractor.Documentation(ctx, meta, tree)
	}
	docsFiles, docsBytes := 0, 0
	if snapshot.Documentation != nil {
		docsFiles = len(snapshot.Documentation.Files)
		docsBytes = snapshot.Documentation.TotalBytes
	}
	stageDone("documentation", started, "files="+strconv.Itoa(docsFiles)+" bytes="+strconv.Itoa(docsBytes))

	started = stageStart("build_package")
	if !budgetExhausted("build_package") {
		snapshot.BuildAndPackage = extractor.BuildAndPackage(ctx, tree)
	}
	stageDone("build_package", started,
		"files="+strconv.Itoa(len(snapshot.BuildAndPackage))+" bytes="+strconv.Itoa(sumByteSizes(snapshot.BuildAndPackage)))

	started = stageStart("tests")
	if !budgetExhausted("tests") {
		snapshot.Tests = extractor.Tests(ctx, tree)
	}
	stageDone("tests", started,
		"files="+strconv.Itoa(len(snapshot.Tests))+" bytes="+strconv.Itoa(sumByteSizes(snapshot.Tests)))

	started = stageStart("code")
	if !budgetExhausted("code") {
		snapshot.Code = extractor.Code(ctx, tree)
	}
	stageDone("code", started,
		"files="+strconv.Itoa(len(snapshot.Code))+" bytes="+strconv.Itoa(sumByteSizes(snapshot.Code)))

	return snapshot, warnings, nil
}

// overflowRetryRatio tightens the repo-data ratio for the single retry
// after a provider overflow report. The ratio keeps a margin below the
// provider limit, drops by at least 10% and never goes below 0.05.
func overflowRetryRatio(currentRatio float64, maxTokens, requestTokens int) float64 {
	shrinkFactor := float64(maxTokens) * 0.90 / float64(requestTokens)
	targetRatio := currentRatio * shrinkFactor
	if ceiling := currentRatio * 0.90; targetRatio > ceiling {
		targetRatio = ceiling
	}
	if targetRatio < 0.05 {
		targetRatio = 0.05
	}
	return targetRatio
}

// parseContextOverflow recognizes provider 400 bodies that report a
// context window overflow and returns (max tokens, request tokens).
func parseContextOverflow(err error) (int, int, bool) {
	if fault.KindOf(err) != fault.Upstream || fault.StatusOf(err) != 400 {
		return 0, 0, false
	}
	body := fault.ContextOf(err)
	if body == "" {
		return 0, 0, false
	}
	for _, pattern := range contextOverflowPatterns {
		match := pattern.FindStringSubmatch(body)
		if match == nil {
			continue
		}
		maxTokens, err1 := strconv.Atoi(match[1])
		requestTokens, err2 := strconv.Atoi(match[2])
		if err1 != nil || err2 != nil {
			continue
		}
		return maxTokens, requestTokens, true
	}
	return 0, 0, false
}

func logTruncationNotes(requestID string, rlog *RequestLog, notes []string) {
	for _, note := range notes {
		klog.Infof("repo_process_truncation request_id=%s %s", requestID, note)
		rlog.Addf("repo_process_truncation %s", note)
	}
}

func logLLMError(requestID string, rlog *RequestLog, err error) {
	providerExtra := ""
	if maxTokens, requestTokens, ok := parseContextOverflow(err); ok {
		providerExtra = " provider_max_tokens=" + strconv.Itoa(maxTokens) +
			" provider_input_tokens=" + strconv.Itoa(requestTokens)
	}
	klog.Errorf("llm_error request_id=%s code=%s upstream_status=%d message=%v%s",
		requestID, fault.KindOf(err), fault.StatusOf(err), err, providerExtra)
	rlog.Addf("llm_error code=%s upstream_status=%d message=%s%s",
		fault.KindOf(err), fault.StatusOf(err), err.Error(), providerExtra)
}

func estimateTokens(byteCount int, bytesPerToken float64) int {
	if byteCount <= 0 {
		return 0
	}
	if bytesPerToken <= 0 {
		return byteCount
	}
	return int(math.Ceil(float64(byteCount) / bytesPerToken))
}

func sumByteSizes(files []github.FileContent) int {
	total := 0
	for _, file := range files {
		total += file.ByteSize
	}
	return total
}
