// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repodigest/repodigest/pkg/fault"
)

const promptFixture = "# Summarization Prompt\n\n" +
	"## System Prompt\n\n" +
	"```text\nYou are a code analyst.\n```\n\n" +
	"## JSON Schema\n\n" +
	"```json\n{\"type\": \"object\"}\n```\n\n" +
	"## User Prompt Template\n\n" +
	"```text\nMetadata:\n{{.RepoMetadata}}\n\nReadme:\n{{.ReadmeText}}\n```\n"

func TestParsePromptContract(t *testing.T) {
	contract, err := ParsePromptContract([]byte(promptFixture))
	require.NoError(t, err)

	assert.Equal(t, "You are a code analyst.", contract.SystemPrompt)
	assert.JSONEq(t, `{"type": "object"}`, string(contract.Schema))

	prompt, err := contract.RenderUserPrompt(&RepoDigest{
		RepositoryMetadata: "- Name: widget",
		ReadmeText:         "hello readme",
	})
	require.NoError(t, err)
	assert.Equal(t, "Metadata:\n- Name: widget\n\nReadme:\nhello readme", prompt)
}

func TestParsePromptContractMissingHeading(t *testing.T) {
	source := "## System Prompt\n\n```text\nsys\n```\n\n" +
		"## User Prompt Template\n\n```text\nbody\n```\n"

	_, err := ParsePromptContract([]byte(source))
	require.Error(t, err)
	assert.Equal(t, fault.Config, fault.KindOf(err))
	assert.Equal(t, "## JSON Schema", fault.ContextOf(err))
}

func TestParsePromptContractInvalidSchema(t *testing.T) {
	source := "## System Prompt\n\n```text\nsys\n```\n\n" +
		"## JSON Schema\n\n```json\n{not json\n```\n\n" +
		"## User Prompt Template\n\n```text\nbody\n```\n"

	_, err := ParsePromptContract([]byte(source))
	require.Error(t, err)
	assert.Equal(t, fault.Config, fault.KindOf(err))
}

func TestParsePromptContractFirstBlockWins(t *testing.T) {
	source := "## System Prompt\n\n```text\nfirst\n```\n\n```text\nsecond\n```\n\n" +
		"## JSON Schema\n\n```json\n{}\n```\n\n" +
		"## User Prompt Template\n\n```text\nbody\n```\n"

	contract, err := ParsePromptContract([]byte(source))
	require.NoError(t, err)
	assert.Equal(t, "first", contract.SystemPrompt)
}

func TestLoadPromptContractMissingFile(t *testing.T) {
	_, err := LoadPromptContract("no/such/prompt.md")
	require.Error(t, err)
	assert.Equal(t, fault.Config, fault.KindOf(err))
}

func TestLoadPromptContractShippedTemplate(t *testing.T) {
	contract, err := LoadPromptContract("../../prompts/repo-summary.md")
	require.NoError(t, err)

	assert.NotEmpty(t, contract.SystemPrompt)
	prompt, err := contract.RenderUserPrompt(&RepoDigest{ReadmeText: "shipped readme"})
	require.NoError(t, err)
	assert.Contains(t, prompt, "shipped readme")
}
