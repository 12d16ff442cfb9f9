// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocateCapsAtCategorySize(t *testing.T) {
	sizes := map[string]int{"documentation": 10, "code": 20}
	weights := map[string]float64{"documentation": 0.5, "code": 0.5}

	alloc := allocateOptionalBytes(1000, sizes, weights)

	assert.Equal(t, 10, alloc["documentation"])
	assert.Equal(t, 20, alloc["code"])
}

func TestAllocateProportionalSplit(t *testing.T) {
	sizes := map[string]int{"documentation": 1000, "code": 1000}
	weights := map[string]float64{"documentation": 0.5, "code": 0.5}

	alloc := allocateOptionalBytes(100, sizes, weights)

	assert.Equal(t, 50, alloc["documentation"])
	assert.Equal(t, 50, alloc["code"])
}

func TestAllocateLeftoverGoesToLargestRemainder(t *testing.T) {
	sizes := map[string]int{"a": 1000, "b": 1000, "c": 1000}
	weights := map[string]float64{"a": 1, "b": 1, "c": 1}

	alloc := allocateOptionalBytes(100, sizes, weights)

	// 100/3 leaves one byte over; equal remainders break ties by name.
	assert.Equal(t, 34, alloc["a"])
	assert.Equal(t, 33, alloc["b"])
	assert.Equal(t, 33, alloc["c"])
}

func TestAllocateRedistributesFreedBudget(t *testing.T) {
	sizes := map[string]int{"documentation": 10, "code": 1000}
	weights := map[string]float64{"documentation": 0.5, "code": 0.5}

	alloc := allocateOptionalBytes(100, sizes, weights)

	assert.Equal(t, 10, alloc["documentation"])
	assert.Equal(t, 90, alloc["code"])
}

func TestAllocateZeroWeightGetsNothing(t *testing.T) {
	sizes := map[string]int{"documentation": 100, "code": 100}
	weights := map[string]float64{"documentation": 1.0, "code": 0}

	alloc := allocateOptionalBytes(50, sizes, weights)

	assert.Equal(t, 50, alloc["documentation"])
	assert.Equal(t, 0, alloc["code"])
}

func TestAllocateZeroBudget(t *testing.T) {
	sizes := map[string]int{"documentation": 100}
	weights := map[string]float64{"documentation": 1.0}

	alloc := allocateOptionalBytes(0, sizes, weights)
	assert.Equal(t, 0, alloc["documentation"])

	alloc = allocateOptionalBytes(-5, sizes, weights)
	assert.Equal(t, 0, alloc["documentation"])
}
