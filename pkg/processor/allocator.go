// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"math"
	"sort"
)

// allocateOptionalBytes distributes availableBytes over the optional
// categories proportionally to their weights, capped at each category's
// actual size. Floor shares go first; the leftover bytes go one at a time
// to the largest fractional remainders, ties broken by name. Rounds repeat
// until the budget or the demand is exhausted.
func allocateOptionalBytes(availableBytes int, categorySizes map[string]int, weights map[string]float64) map[string]int {
	allocation := make(map[string]int, len(categorySizes))
	for name := range categorySizes {
		allocation[name] = 0
	}

	var unsatisfied []string
	for name, size := range categorySizes {
		if size > 0 && weights[name] > 0 {
			unsatisfied = append(unsatisfied, name)
		}
	}
	sort.Strings(unsatisfied)

	remaining := availableBytes
	if remaining < 0 {
		remaining = 0
	}

	for remaining > 0 && len(unsatisfied) > 0 {
		totalWeight := 0.0
		for _, name := range unsatisfied {
			totalWeight += weights[name]
		}
		if totalWeight <= 0 {
			break
		}

		increments := make(map[string]int, len(unsatisfied))
		type remainder struct {
			frac float64
			name string
		}
		var fractions []remainder
		used := 0
		for _, name := range unsatisfied {
			want := categorySizes[name] - allocation[name]
			shareFloat := float64(remaining) * weights[name] / totalWeight
			shareInt := int(math.Floor(shareFloat))
			if shareInt > want {
				shareInt = want
			}
			if shareInt > 0 {
				increments[name] += shareInt
				used += shareInt
			}
			fractions = append(fractions, remainder{frac: shareFloat - math.Floor(shareFloat), name: name})
		}

		leftover := remaining - used
		sort.Slice(fractions, func(i, j int) bool {
			if fractions[i].frac != fractions[j].frac {
				return fractions[i].frac > fractions[j].frac
			}
			return fractions[i].name < fractions[j].name
		})
		for _, item := range fractions {
			if leftover <= 0 {
				break
			}
			want := categorySizes[item.name] - allocation[item.name] - increments[item.name]
			if want <= 0 {
				continue
			}
			increments[item.name]++
			leftover--
		}

		progress := 0
		for name, inc := range increments {
			if inc <= 0 {
				continue
			}
			allocation[name] += inc
			progress += inc
		}
		if progress == 0 {
			break
		}
		remaining -= progress

		var still []string
		for _, name := range unsatisfied {
			if allocation[name] < categorySizes[name] {
				still = append(still, name)
			}
		}
		unsatisfied = still
	}

	return allocation
}
