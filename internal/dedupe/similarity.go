// internal/dedupe/similarity.go
package dedupe

// Ratio is the Ratcliff/Obershelp similarity 2*M/T over token sequences,
// where M counts tokens in matching blocks. Two empty sequences are identical.
func Ratio(a, b []string) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1.0
	}
	return 2.0 * float64(matches(a, b)) / float64(total)
}

// realQuickRatio bounds Ratio using lengths alone
func realQuickRatio(a, b []string) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1.0
	}
	return 2.0 * float64(min(len(a), len(b))) / float64(total)
}

// quickRatio bounds Ratio using the multiset intersection
func quickRatio(a, b []string) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1.0
	}
	avail := make(map[string]int, len(b))
	for _, t := range b {
		avail[t]++
	}
	common := 0
	for _, t := range a {
		if avail[t] > 0 {
			avail[t]--
			common++
		}
	}
	return 2.0 * float64(common) / float64(total)
}

// matches sums the sizes of the matching blocks: the longest common run,
// then recursively the runs to its left and right
func matches(a, b []string) int {
	index := make(map[string][]int, len(b))
	for j, t := range b {
		index[t] = append(index[t], j)
	}

	type span struct{ alo, ahi, blo, bhi int }
	stack := []span{{0, len(a), 0, len(b)}}
	total := 0
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		i, j, k := longestMatch(a, index, s.alo, s.ahi, s.blo, s.bhi)
		if k == 0 {
			continue
		}
		total += k
		if s.alo < i && s.blo < j {
			stack = append(stack, span{s.alo, i, s.blo, j})
		}
		if i+k < s.ahi && j+k < s.bhi {
			stack = append(stack, span{i + k, s.ahi, j + k, s.bhi})
		}
	}
	return total
}

// longestMatch finds the longest run a[i:i+k] == b[j:j+k] inside the given bounds,
// preferring the earliest i and then the earliest j
func longestMatch(a []string, index map[string][]int, alo, ahi, blo, bhi int) (int, int, int) {
	bestI, bestJ, bestK := alo, blo, 0
	j2len := map[int]int{}
	for i := alo; i < ahi; i++ {
		next := map[int]int{}
		for _, j := range index[a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := j2len[j-1] + 1
			next[j] = k
			if k > bestK {
				bestI, bestJ, bestK = i-k+1, j-k+1, k
			}
		}
		j2len = next
	}
	return bestI, bestJ, bestK
}
