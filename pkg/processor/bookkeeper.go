// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package processor

import "math"

// Bookkeeper converts between token and byte budgets for one model context
// window. Conversions round against the caller: bytes round down, tokens
// round up.
type Bookkeeper struct {
	ModelContextWindowTokens int
	BytesPerTokenEstimate    float64
}

// TokensToBytes converts a token count to its byte estimate
func (b Bookkeeper) TokensToBytes(tokens int) int {
	if tokens < 0 {
		tokens = 0
	}
	return int(math.Floor(float64(tokens) * b.BytesPerTokenEstimate))
}

// BytesToTokens converts a byte count to its token estimate
func (b Bookkeeper) BytesToTokens(numBytes int) int {
	if numBytes < 0 {
		numBytes = 0
	}
	return int(math.Ceil(float64(numBytes) / b.BytesPerTokenEstimate))
}

// MaxRepoDataBytes is the byte budget available to repository data given
// the share of the prompt it may occupy.
func (b Bookkeeper) MaxRepoDataBytes(maxRepoDataRatioInPrompt float64) int {
	return int(math.Floor(float64(b.ModelContextWindowTokens) * maxRepoDataRatioInPrompt * b.BytesPerTokenEstimate))
}

// RemainingBytes is the unspent part of the repo-data budget
func (b Bookkeeper) RemainingBytes(currentRepoDataBytes int, maxRepoDataRatioInPrompt float64) int {
	remaining := b.MaxRepoDataBytes(maxRepoDataRatioInPrompt) - currentRepoDataBytes
	if remaining < 0 {
		return 0
	}
	return remaining
}
