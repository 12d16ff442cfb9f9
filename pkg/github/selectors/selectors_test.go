// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package selectors_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/repodigest/repodigest/pkg/github/selectors"
)

var _ = Describe("Path classification", func() {
	DescribeTable("IsLikelyTextPath",
		func(path string, expected bool) {
			Expect(selectors.IsLikelyTextPath(path)).To(Equal(expected))
		},
		Entry("markdown", "docs/setup.md", true),
		Entry("go source", "pkg/server/server.go", true),
		Entry("dockerfile without extension", "Dockerfile", true),
		Entry("extensionless script", "scripts/bootstrap", true),
		Entry("png image", "assets/logo.png", false),
		Entry("archive", "release/bundle.tar.gz", false),
	)

	DescribeTable("LooksLikeDocPath",
		func(path string, expected bool) {
			Expect(selectors.LooksLikeDocPath(path)).To(Equal(expected))
		},
		Entry("docs directory", "docs/guide.md", true),
		Entry("documentation directory", "documentation/getting-started.md", true),
		Entry("readme anywhere", "examples/README.md", true),
		Entry("contributing", "CONTRIBUTING.md", true),
		Entry("source file", "pkg/api/api.go", false),
	)

	DescribeTable("LooksLikeTestPath",
		func(path string, expected bool) {
			Expect(selectors.LooksLikeTestPath(path)).To(Equal(expected))
		},
		Entry("tests directory", "tests/smoke/conftest.py", true),
		Entry("test directory", "test/e2e/run.sh", true),
		Entry("go test suffix", "pkg/api/api_test.go", true),
		Entry("python test prefix", "app/test_client.py", true),
		Entry("production source", "pkg/api/api.go", false),
	)

	DescribeTable("LooksLikeBuildPackagePath",
		func(path string, expected bool) {
			Expect(selectors.LooksLikeBuildPackagePath(path)).To(Equal(expected))
		},
		Entry("go module", "go.mod", true),
		Entry("python project", "pyproject.toml", true),
		Entry("pinned requirements glob", "requirements-dev.txt", true),
		Entry("nested dockerfile", "build/Dockerfile", true),
		Entry("makefile case insensitive", "Makefile", true),
		Entry("random toml", "config/settings.toml", false),
	)

	DescribeTable("LooksLikeEntrypoint",
		func(path string, expected bool) {
			Expect(selectors.LooksLikeEntrypoint(path)).To(Equal(expected))
		},
		Entry("main.go", "cmd/main.go", true),
		Entry("python module runner", "app/__main__.py", true),
		Entry("cli", "tools/cli.py", true),
		Entry("helper", "pkg/util/helper.go", false),
	)

	DescribeTable("PathDepth",
		func(path string, expected int) {
			Expect(selectors.PathDepth(path)).To(Equal(expected))
		},
		Entry("root file", "go.mod", 0),
		Entry("one level", "cmd/main.go", 1),
		Entry("three levels", "a/b/c/d.go", 3),
	)
})

var _ = Describe("IgnoreRules", func() {
	var rules *selectors.IgnoreRules

	BeforeEach(func() {
		rules = selectors.NewIgnoreRules(
			[]string{"node_modules", ".git"},
			[]string{".png", ".lock"},
			[]string{"package-lock.json"},
			[]string{"*.min.*"},
			[]string{"generated/"},
		)
	})

	DescribeTable("ShouldIgnore",
		func(path string, expected bool) {
			Expect(rules.ShouldIgnore(path)).To(Equal(expected))
		},
		Entry("ignored directory segment", "web/node_modules/react/index.js", true),
		Entry("ignored extension", "assets/logo.png", true),
		Entry("ignored filename", "package-lock.json", true),
		Entry("ignored glob", "dist/app.min.js", true),
		Entry("ignored path fragment", "api/generated/client.go", true),
		Entry("backslash separators", "web\\node_modules\\react\\index.js", true),
		Entry("kept source file", "pkg/server/server.go", false),
	)
})
