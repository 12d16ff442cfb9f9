// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/repodigest/repodigest/pkg/fault"
)

func TestParseRepoURL(t *testing.T) {
	cases := []struct {
		name    string
		url     string
		want    RepoRef
		wantErr bool
	}{
		{
			name: "repository root",
			url:  "https://github.com/gardener/gardener",
			want: RepoRef{Owner: "gardener", Repo: "gardener"},
		},
		{
			name: "trailing slash",
			url:  "https://github.com/gardener/gardener/",
			want: RepoRef{Owner: "gardener", Repo: "gardener"},
		},
		{
			name: "surrounding whitespace",
			url:  "  https://github.com/gardener/gardener  ",
			want: RepoRef{Owner: "gardener", Repo: "gardener"},
		},
		{
			name: "host case insensitive",
			url:  "https://GitHub.com/gardener/gardener",
			want: RepoRef{Owner: "gardener", Repo: "gardener"},
		},
		{
			name:    "empty",
			url:     "",
			wantErr: true,
		},
		{
			name:    "http scheme",
			url:     "http://github.com/gardener/gardener",
			wantErr: true,
		},
		{
			name:    "wrong host",
			url:     "https://gitlab.com/gardener/gardener",
			wantErr: true,
		},
		{
			name:    "missing repository",
			url:     "https://github.com/gardener",
			wantErr: true,
		},
		{
			name:    "subpath",
			url:     "https://github.com/gardener/gardener/tree/master",
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseRepoURL(tc.url, "")
			if tc.wantErr {
				assert.Error(t, err)
				assert.Equal(t, fault.InvalidURL, fault.KindOf(err))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseRepoURLCustomHost(t *testing.T) {
	got, err := ParseRepoURL("https://github.tools.example.org/org/repo", "github.tools.example.org")
	assert.NoError(t, err)
	assert.Equal(t, RepoRef{Owner: "org", Repo: "repo"}, got)

	_, err = ParseRepoURL("https://github.com/org/repo", "github.tools.example.org")
	assert.Error(t, err)
}
