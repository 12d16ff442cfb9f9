// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"net/url"
	"strings"

	"github.com/repodigest/repodigest/pkg/fault"
)

// DefaultHost is the code-host hostname accepted when none is configured
const DefaultHost = "github.com"

// ParseRepoURL accepts exactly https://<host>/<owner>/<repo> and returns the
// repository reference. Any other scheme, host, or path shape is rejected
// with an invalid_github_url fault.
func ParseRepoURL(githubURL, host string) (RepoRef, error) {
	if host == "" {
		host = DefaultHost
	}
	raw := strings.TrimSpace(githubURL)
	if raw == "" {
		return RepoRef{}, fault.New(fault.InvalidURL, "GitHub URL is required.")
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme != "https" || !strings.EqualFold(parsed.Host, host) {
		return RepoRef{}, fault.Newf(fault.InvalidURL,
			"Only https://%s/{owner}/{repo} URLs are supported.", host).WithContext(raw)
	}

	var parts []string
	for _, part := range strings.Split(parsed.Path, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) < 2 {
		return RepoRef{}, fault.New(fault.InvalidURL, "URL must include owner and repository.").WithContext(raw)
	}
	if len(parts) > 2 {
		return RepoRef{}, fault.New(fault.InvalidURL, "Only repository root URLs are supported.").WithContext(raw)
	}

	owner := strings.TrimSpace(parts[0])
	repo := strings.TrimSpace(parts[1])
	if owner == "" || repo == "" {
		return RepoRef{}, fault.New(fault.InvalidURL, "URL must include non-empty owner and repository.").WithContext(raw)
	}
	return RepoRef{Owner: owner, Repo: repo}, nil
}
