// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"k8s.io/klog/v2"

	"github.com/repodigest/repodigest/pkg/github/selectors"
)

// buildHighSignalNames get priority ordering within the build category
var buildHighSignalNames = map[string]struct{}{
	"pyproject.toml":     {},
	"requirements.txt":   {},
	"setup.py":           {},
	"setup.cfg":          {},
	"package.json":       {},
	"go.mod":             {},
	"cargo.toml":         {},
	"pom.xml":            {},
	"build.gradle":       {},
	"build.gradle.kts":   {},
	"dockerfile":         {},
	"docker-compose.yml": {},
	"docker-compose.yaml": {},
	".gitlab-ci.yml":     {},
}

// Extractor selects and downloads category files from a repository tree
// under the configured limits. Per-file failures never fail a category;
// they become warnings. Warnings accumulate across all categories for the
// lifetime of the extractor, which is one request.
type Extractor struct {
	client *Client
	rules  *selectors.IgnoreRules
	limits Limits

	warnMu   sync.Mutex
	warnings []string
}

// NewExtractor creates an extractor over the given adapter and ignore rules
func NewExtractor(client *Client, rules *selectors.IgnoreRules, limits Limits) *Extractor {
	return &Extractor{client: client, rules: rules, limits: limits}
}

// Warnings returns the warnings accumulated so far, in emission order
func (e *Extractor) Warnings() []string {
	e.warnMu.Lock()
	defer e.warnMu.Unlock()
	out := make([]string, len(e.warnings))
	copy(out, e.warnings)
	return out
}

func (e *Extractor) warnf(format string, args ...interface{}) {
	e.warnMu.Lock()
	e.warnings = append(e.warnings, fmt.Sprintf(format, args...))
	e.warnMu.Unlock()
}

// Documentation gathers doc-like files in BFS order, preceded by the
// project homepage page when the repository metadata names one. Returns nil
// when nothing was collected.
func (e *Extractor) Documentation(ctx context.Context, meta *RepoMetadata, tree []TreeEntry) *DocumentationData {
	var files []FileContent
	used := 0

	homepage := strings.TrimSpace(meta.Homepage)
	if homepage != "" {
		if page := e.homepagePage(ctx, homepage, used); page != nil {
			files = append(files, *page)
			used += page.ByteSize
		}
	}

	var candidates []TreeEntry
	for _, entry := range tree {
		if entry.Type == "blob" &&
			selectors.LooksLikeDocPath(entry.Path) &&
			!e.rules.ShouldIgnore(entry.Path) &&
			selectors.IsLikelyTextPath(entry.Path) {
			candidates = append(candidates, entry)
		}
	}
	remaining := e.limits.MaxDocsTotalBytes - used
	if remaining < 0 {
		remaining = 0
	}
	files = append(files, e.collectFiles(ctx, "documentation", sortedBFS(candidates), collectOpts{
		totalLimit:  remaining,
		singleLimit: e.limits.MaxSingleFileBytes,
		maxFiles:    e.limits.MaxDocsFiles,
		maxDuration: e.limits.MaxDocsDuration,
	})...)

	if len(files) == 0 {
		return nil
	}
	total := 0
	for _, f := range files {
		total += f.ByteSize
	}
	return &DocumentationData{SourceURL: files[0].SourceURL, Files: files, TotalBytes: total}
}

// Tests gathers test-like files in BFS order
func (e *Extractor) Tests(ctx context.Context, tree []TreeEntry) []FileContent {
	var candidates []TreeEntry
	for _, entry := range tree {
		if entry.Type == "blob" &&
			selectors.LooksLikeTestPath(entry.Path) &&
			!e.rules.ShouldIgnore(entry.Path) &&
			selectors.IsLikelyTextPath(entry.Path) {
			candidates = append(candidates, entry)
		}
	}
	return e.collectFiles(ctx, "tests", sortedBFS(candidates), collectOpts{
		totalLimit:  e.limits.MaxTestsTotalBytes,
		singleLimit: e.limits.MaxSingleFileBytes,
		maxFiles:    e.limits.MaxTestsFiles,
		maxDuration: e.limits.MaxTestsDuration,
	})
}

// Code gathers source files in BFS order with likely entrypoints pulled to
// the front. Test-like and doc-like paths belong to their own categories
// and are excluded here.
func (e *Extractor) Code(ctx context.Context, tree []TreeEntry) []FileContent {
	var candidates []TreeEntry
	for _, entry := range tree {
		if entry.Type == "blob" &&
			!selectors.LooksLikeTestPath(entry.Path) &&
			!selectors.LooksLikeDocPath(entry.Path) &&
			!e.rules.ShouldIgnore(entry.Path) &&
			selectors.IsLikelyTextPath(entry.Path) &&
			selectors.PathDepth(entry.Path) <= e.limits.MaxCodeDepth {
			candidates = append(candidates, entry)
		}
	}
	bfs := sortedBFS(candidates)
	seedPaths := map[string]struct{}{}
	var ordered []TreeEntry
	for _, entry := range bfs {
		if selectors.LooksLikeEntrypoint(entry.Path) {
			ordered = append(ordered, entry)
			seedPaths[entry.Path] = struct{}{}
		}
	}
	for _, entry := range bfs {
		if _, seeded := seedPaths[entry.Path]; !seeded {
			ordered = append(ordered, entry)
		}
	}
	return e.collectFiles(ctx, "code", ordered, collectOpts{
		totalLimit:  e.limits.MaxCodeTotalBytes,
		singleLimit: e.limits.MaxSingleFileBytes,
		maxFiles:    e.limits.MaxCodeFiles,
		maxDuration: e.limits.MaxCodeDuration,
	})
}

// BuildAndPackage gathers manifest and build files ordered by depth, then
// high-signal name, then path. Makefiles deeper than one level are dropped
// to avoid monorepo fan-out.
func (e *Extractor) BuildAndPackage(ctx context.Context, tree []TreeEntry) []FileContent {
	var candidates []TreeEntry
	for _, entry := range tree {
		if entry.Type == "blob" &&
			selectors.LooksLikeBuildPackagePath(entry.Path) &&
			!e.rules.ShouldIgnore(entry.Path) &&
			selectors.IsLikelyTextPath(entry.Path) &&
			e.keepBuildPath(entry.Path) {
			candidates = append(candidates, entry)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		di, dj := selectors.PathDepth(candidates[i].Path), selectors.PathDepth(candidates[j].Path)
		if di != dj {
			return di < dj
		}
		si, sj := buildSignalRank(candidates[i].Path), buildSignalRank(candidates[j].Path)
		if si != sj {
			return si < sj
		}
		return strings.ToLower(candidates[i].Path) < strings.ToLower(candidates[j].Path)
	})
	return e.collectFiles(ctx, "build_package", candidates, collectOpts{
		totalLimit:  e.limits.MaxBuildPackageTotalBytes,
		singleLimit: e.limits.MaxSingleFileBytes,
		maxFiles:    e.limits.MaxBuildPackageFiles,
		maxDuration: e.limits.MaxBuildPackageDuration,
	})
}

// sortedBFS orders entries breadth-first: by depth first, then by
// lowercased path. The sort is stable.
func sortedBFS(entries []TreeEntry) []TreeEntry {
	out := make([]TreeEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := selectors.PathDepth(out[i].Path), selectors.PathDepth(out[j].Path)
		if di != dj {
			return di < dj
		}
		return strings.ToLower(out[i].Path) < strings.ToLower(out[j].Path)
	})
	return out
}

func (e *Extractor) keepBuildPath(p string) bool {
	depth := selectors.PathDepth(p)
	if depth > e.limits.MaxBuildPackageDepth {
		return false
	}
	segments := strings.Split(p, "/")
	filename := strings.ToLower(segments[len(segments)-1])
	if filename == "makefile" && depth > 1 {
		return false
	}
	return true
}

func buildSignalRank(p string) int {
	segments := strings.Split(p, "/")
	filename := strings.ToLower(segments[len(segments)-1])
	if _, ok := buildHighSignalNames[filename]; ok {
		return 0
	}
	return 1
}

type collectOpts struct {
	totalLimit  int
	singleLimit int
	maxFiles    int
	maxDuration time.Duration
}

// collectFiles walks the ordered candidates and downloads files until a
// budget stops it. Guard order matters: total-byte exhaustion stops
// silently, file-count and duration stops warn, per-file problems warn and
// skip.
func (e *Extractor) collectFiles(ctx context.Context, category string, ordered []TreeEntry, opts collectOpts) []FileContent {
	var selected []FileContent
	used := 0
	started := time.Now()
	for _, entry := range ordered {
		if used >= opts.totalLimit {
			break
		}
		if opts.maxFiles > 0 && len(selected) >= opts.maxFiles {
			e.warnf("%s: stop_reason=max_files_reached (%d)", category, opts.maxFiles)
			break
		}
		if opts.maxDuration > 0 && time.Since(started) >= opts.maxDuration {
			e.warnf("%s: stop_reason=max_duration_reached (%gs)", category, opts.maxDuration.Seconds())
			break
		}
		if entry.DownloadURL == "" {
			continue
		}
		if entry.Size > 0 && entry.Size > opts.singleLimit {
			e.warnf("Skipped %s: exceeds max_single_file_bytes.", entry.Path)
			continue
		}
		if entry.Size > 0 && used+entry.Size > opts.totalLimit {
			continue
		}

		item, err := e.client.DownloadTextFile(ctx, entry.Path, entry.DownloadURL)
		if err != nil {
			e.warnf("Failed to fetch %s: %v", entry.Path, err)
			continue
		}

		if item.ByteSize > opts.singleLimit {
			e.warnf("Skipped %s: downloaded content exceeds max_single_file_bytes.", entry.Path)
			continue
		}
		if used+item.ByteSize > opts.totalLimit {
			continue
		}
		selected = append(selected, *item)
		used += item.ByteSize
	}
	klog.V(4).Infof("%s: collected %d files, %d bytes", category, len(selected), used)
	return selected
}

// homepagePage downloads the homepage as an external documentation page and
// trims it to whatever documentation budget is left. Returns nil when the
// page is skipped for any reason.
func (e *Extractor) homepagePage(ctx context.Context, homepage string, usedBytes int) *FileContent {
	page, err := e.downloadExternalPage(ctx, homepage)
	if err != nil {
		e.warnf("Failed to fetch homepage documentation page (%s): %v", homepage, err)
		return nil
	}
	budget := e.limits.MaxDocsTotalBytes - usedBytes
	if budget < 0 {
		budget = 0
	}
	allowed := e.limits.MaxSingleFileBytes
	if budget < allowed {
		allowed = budget
	}
	if allowed <= 0 {
		e.warnf("Skipped homepage documentation page: no remaining docs byte budget (%s).", homepage)
		return nil
	}
	trimmed, wasTruncated := truncateFileToMaxBytes(*page, allowed)
	if trimmed.ByteSize <= 0 {
		e.warnf("Skipped homepage documentation page: empty after truncation (%s).", homepage)
		return nil
	}
	if wasTruncated {
		e.warnf("Trimmed homepage documentation page from end to fit limits (%s, kept=%d bytes).",
			homepage, trimmed.ByteSize)
	}
	return &trimmed
}

func (e *Extractor) downloadExternalPage(ctx context.Context, homepage string) (*FileContent, error) {
	parsed, err := url.Parse(homepage)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("homepage URL must be http(s): %s", homepage)
	}
	body, err := e.client.GetBytes(ctx, homepage, fmt.Sprintf("download_homepage:%s", homepage))
	if err != nil {
		return nil, err
	}
	if containsNUL(body) {
		return nil, fmt.Errorf("homepage appears to be binary: %s", homepage)
	}
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("unable to decode homepage as UTF-8: %s", homepage)
	}
	text := string(body)
	return &FileContent{Path: "about-homepage", SourceURL: homepage, Content: text, ByteSize: len(text)}, nil
}

func truncateFileToMaxBytes(item FileContent, maxBytes int) (FileContent, bool) {
	if maxBytes <= 0 {
		return FileContent{Path: item.Path, SourceURL: item.SourceURL}, true
	}
	if item.ByteSize <= maxBytes {
		return item, false
	}
	text := TruncateUTF8Prefix(item.Content, maxBytes)
	return FileContent{Path: item.Path, SourceURL: item.SourceURL, Content: text, ByteSize: len(text)}, true
}

// TruncateUTF8Prefix cuts s to at most maxBytes without splitting a rune
func TruncateUTF8Prefix(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(s) <= maxBytes {
		return s
	}
	cut := s[:maxBytes]
	for len(cut) > 0 {
		r, size := utf8.DecodeLastRuneInString(cut)
		if r != utf8.RuneError || size != 1 {
			break
		}
		cut = cut[:len(cut)-1]
	}
	return cut
}
