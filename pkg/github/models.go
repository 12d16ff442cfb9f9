// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"fmt"
	"time"
)

// RepoRef identifies a repository by owner and name
type RepoRef struct {
	Owner string
	Repo  string
}

func (r RepoRef) String() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Repo)
}

// RepoMetadata holds the subset of repository metadata used by the digest
type RepoMetadata struct {
	Owner         string
	Repo          string
	DefaultBranch string
	Description   string
	Topics        []string
	Homepage      string
}

// TreeEntry is one row of the recursive git tree. DownloadURL is populated
// only for blob entries and is constructed from (owner, repo, branch, path).
type TreeEntry struct {
	Path        string
	Type        string
	Size        int
	APIURL      string
	DownloadURL string
}

// FileContent is a downloaded text file. ByteSize always equals the UTF-8
// length of Content.
type FileContent struct {
	Path      string
	SourceURL string
	Content   string
	ByteSize  int
}

// EstimatedTokens is the coarse byte-based token estimate for the file.
func (f FileContent) EstimatedTokens() int {
	return EstimatedTokens(f.ByteSize)
}

// ReadmeData is the decoded repository README
type ReadmeData struct {
	SourceURL string
	Content   string
	ByteSize  int
}

// DocumentationData owns the ordered documentation files and their cached
// byte total.
type DocumentationData struct {
	SourceURL  string
	Files      []FileContent
	TotalBytes int
}

// RepoSnapshot is the in-memory result of one extraction run
type RepoSnapshot struct {
	Metadata        RepoMetadata
	Languages       map[string]int
	Tree            []TreeEntry
	Readme          *ReadmeData
	Documentation   *DocumentationData
	BuildAndPackage []FileContent
	Tests           []FileContent
	Code            []FileContent
}

// Limits bounds every axis of the extraction: per-category byte totals,
// per-file bytes, per-category file counts and path depths, per-stage and
// total wall-clock durations.
type Limits struct {
	MaxDocsTotalBytes         int
	MaxTestsTotalBytes        int
	MaxCodeTotalBytes         int
	MaxBuildPackageTotalBytes int
	MaxSingleFileBytes        int

	MaxDocsFiles         int
	MaxTestsFiles        int
	MaxCodeFiles         int
	MaxBuildPackageFiles int

	MaxCodeDepth         int
	MaxBuildPackageDepth int

	MaxDocsDuration         time.Duration
	MaxTestsDuration        time.Duration
	MaxCodeDuration         time.Duration
	MaxBuildPackageDuration time.Duration
	MaxTotalFetchDuration   time.Duration
}

// DefaultLimits mirrors the defaults of config/runtime.json
func DefaultLimits() Limits {
	return Limits{
		MaxDocsTotalBytes:         250_000,
		MaxTestsTotalBytes:        250_000,
		MaxCodeTotalBytes:         400_000,
		MaxBuildPackageTotalBytes: 150_000,
		MaxSingleFileBytes:        100_000,
		MaxDocsFiles:              40,
		MaxTestsFiles:             40,
		MaxCodeFiles:              60,
		MaxBuildPackageFiles:      25,
		MaxCodeDepth:              4,
		MaxBuildPackageDepth:      3,
		MaxDocsDuration:           20 * time.Second,
		MaxTestsDuration:          20 * time.Second,
		MaxCodeDuration:           30 * time.Second,
		MaxBuildPackageDuration:   15 * time.Second,
		MaxTotalFetchDuration:     90 * time.Second,
	}
}

// EstimatedTokens converts a UTF-8 byte count to a coarse token estimate
// at four bytes per token, rounding up.
func EstimatedTokens(byteCount int) int {
	if byteCount <= 0 {
		return 0
	}
	return (byteCount + 3) / 4
}
