// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"text/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"

	"github.com/repodigest/repodigest/pkg/fault"
)

const (
	systemPromptHeading = "System Prompt"
	jsonSchemaHeading   = "JSON Schema"
	userPromptHeading   = "User Prompt Template"
)

// PromptContract is the parsed prompt template file: the system prompt,
// the strict output schema and the user prompt template.
type PromptContract struct {
	SystemPrompt string
	Schema       json.RawMessage
	userTemplate *template.Template
}

type userPromptData struct {
	RepoMetadata      string
	LanguageStats     string
	TreeSummary       string
	ReadmeText        string
	DocumentationText string
	BuildPackageText  string
	CodeSnippets      string
	TestSnippets      string
}

// LoadPromptContract reads and parses the prompt template file. Each of
// the three second-level headings must be followed by a fenced code block.
func LoadPromptContract(path string) (*PromptContract, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.New(fault.Config, "Prompt template file not found.").WithContext(path)
	}
	return ParsePromptContract(source)
}

// ParsePromptContract parses prompt template markdown already in memory
func ParsePromptContract(source []byte) (*PromptContract, error) {
	blocks, err := fencedBlocksByHeading(source)
	if err != nil {
		return nil, err
	}

	systemPrompt, ok := blocks[systemPromptHeading]
	if !ok {
		return nil, missingHeading(systemPromptHeading)
	}
	schemaRaw, ok := blocks[jsonSchemaHeading]
	if !ok {
		return nil, missingHeading(jsonSchemaHeading)
	}
	userTemplateRaw, ok := blocks[userPromptHeading]
	if !ok {
		return nil, missingHeading(userPromptHeading)
	}

	var schema json.RawMessage
	if err := json.Unmarshal([]byte(schemaRaw), &schema); err != nil {
		return nil, fault.New(fault.Config, "Invalid JSON schema in prompt template.").WithContext(err.Error())
	}

	tmpl, err := template.New("user-prompt").Option("missingkey=error").Parse(userTemplateRaw)
	if err != nil {
		return nil, fault.New(fault.Config, "Invalid user prompt template.").WithContext(err.Error())
	}

	return &PromptContract{SystemPrompt: systemPrompt, Schema: schema, userTemplate: tmpl}, nil
}

// RenderUserPrompt fills the user prompt template with the digest sections
func (c *PromptContract) RenderUserPrompt(digest *RepoDigest) (string, error) {
	var buf bytes.Buffer
	err := c.userTemplate.Execute(&buf, userPromptData{
		RepoMetadata:      digest.RepositoryMetadata,
		LanguageStats:     digest.LanguageStats,
		TreeSummary:       digest.TreeSummary,
		ReadmeText:        digest.ReadmeText,
		DocumentationText: digest.DocumentationText,
		BuildPackageText:  digest.BuildPackageText,
		CodeSnippets:      digest.CodeSnippets,
		TestSnippets:      digest.TestSnippets,
	})
	if err != nil {
		return "", fault.New(fault.Config, "Unable to render user prompt template.").WithContext(err.Error())
	}
	return buf.String(), nil
}

// fencedBlocksByHeading walks the markdown AST and pairs each second-level
// heading with the first fenced code block that follows it.
func fencedBlocksByHeading(source []byte) (map[string]string, error) {
	doc := goldmark.New().Parser().Parse(gmtext.NewReader(source))
	blocks := map[string]string{}
	currentHeading := ""
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		switch typed := node.(type) {
		case *ast.Heading:
			if typed.Level == 2 {
				currentHeading = strings.TrimSpace(string(typed.Text(source)))
			} else {
				currentHeading = ""
			}
		case *ast.FencedCodeBlock:
			if currentHeading == "" {
				continue
			}
			if _, taken := blocks[currentHeading]; taken {
				continue
			}
			blocks[currentHeading] = codeBlockText(typed, source)
		}
	}
	return blocks, nil
}

func codeBlockText(block *ast.FencedCodeBlock, source []byte) string {
	var buf bytes.Buffer
	lines := block.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		buf.Write(source[segment.Start:segment.Stop])
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func missingHeading(heading string) error {
	return fault.New(fault.Config, "Prompt template is missing required heading.").WithContext("## " + heading)
}
