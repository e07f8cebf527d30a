package main

import "strings"

// Word-level opcode tags, mirroring the classic diff vocabulary.
const (
	opEqual   = "equal"
	opReplace = "replace"
	opDelete  = "delete"
	opInsert  = "insert"
)

type opcode struct {
	Tag string
	// Half-open ranges into the old and new token slices.
	I1, I2 int
	J1, J2 int
}

// wordOpcodes computes word-level edit opcodes between two token slices via
// a longest-common-subsequence alignment. Adjacent non-equal regions are
// emitted as replace/delete/insert blocks in document order.
func wordOpcodes(a, b []string) []opcode {
	n, m := len(a), len(b)
	// lcs[i][j]: LCS length of a[i:], b[j:].
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var ops []opcode
	i, j := 0, 0
	for i < n || j < m {
		if i < n && j < m && a[i] == b[j] {
			start1, start2 := i, j
			for i < n && j < m && a[i] == b[j] {
				i++
				j++
			}
			ops = append(ops, opcode{opEqual, start1, i, start2, j})
			continue
		}
		start1, start2 := i, j
		for i < n || j < m {
			if i < n && j < m && a[i] == b[j] {
				break
			}
			if i < n && (j == m || lcs[i+1][j] >= lcs[i][j+1]) {
				i++
			} else {
				j++
			}
		}
		switch {
		case start1 == i:
			ops = append(ops, opcode{opInsert, start1, i, start2, j})
		case start2 == j:
			ops = append(ops, opcode{opDelete, start1, i, start2, j})
		default:
			ops = append(ops, opcode{opReplace, start1, i, start2, j})
		}
	}
	return ops
}

// levenshtein computes the edit distance between two strings by rune.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// wordSimilarity is 1 - levenshtein(old,new)/max(len), case-insensitive.
// 1.0 means identical, 0.0 means nothing in common.
func wordSimilarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 && lb == 0 {
		return 1.0
	}
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	return 1.0 - float64(levenshtein(a, b))/float64(maxLen)
}

// isAdjacentSwap reports whether exactly one swap of two neighboring
// characters turns a into b (classic letter reversal, teh -> the).
func isAdjacentSwap(a, b string) bool {
	ra, rb := []rune(strings.ToLower(a)), []rune(strings.ToLower(b))
	if len(ra) != len(rb) || len(ra) < 2 {
		return false
	}
	i := 0
	for i < len(ra) && ra[i] == rb[i] {
		i++
	}
	if i >= len(ra)-1 {
		return false
	}
	if ra[i] != rb[i+1] || ra[i+1] != rb[i] {
		return false
	}
	for j := i + 2; j < len(ra); j++ {
		if ra[j] != rb[j] {
			return false
		}
	}
	return true
}

// isSingleOmission reports whether one string is the other with exactly one
// character inserted or removed.
func isSingleOmission(a, b string) bool {
	ra, rb := []rune(strings.ToLower(a)), []rune(strings.ToLower(b))
	if len(ra) == len(rb) {
		return false
	}
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	if len(rb)-len(ra) != 1 {
		return false
	}
	// ra is the shorter string; allow one skip in rb.
	i, j, skipped := 0, 0, false
	for i < len(ra) && j < len(rb) {
		if ra[i] == rb[j] {
			i++
			j++
			continue
		}
		if skipped {
			return false
		}
		skipped = true
		j++
	}
	return true
}

// consonantSkeleton strips vowels and collapses doubled letters, a coarse
// stand-in for phonetic encoding.
func consonantSkeleton(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	var last rune
	for _, r := range s {
		switch r {
		case 'a', 'e', 'i', 'o', 'u':
			continue
		}
		if r == last {
			continue
		}
		b.WriteRune(r)
		last = r
	}
	return b.String()
}

// skeletonSimilarity compares the consonant skeletons of two words.
func skeletonSimilarity(a, b string) float64 {
	return wordSimilarity(consonantSkeleton(a), consonantSkeleton(b))
}
