package reference

import (
	"strconv"
	"strings"
)

// Consensus reconciles the per-view readings into one trusted number by
// voting digit by digit, least significant first. Zero readings are
// ignored. Zero digits are skipped until a digit has been accepted, so
// padding never contributes. Ties go to the smaller digit.
func Consensus(readings [3]int) int {
	var valid []string
	width := 0
	for _, r := range readings {
		if r <= 0 {
			continue
		}
		s := strconv.Itoa(r)
		valid = append(valid, s)
		width = max(width, len(s))
	}
	if len(valid) == 0 {
		return 0
	}

	for i, s := range valid {
		valid[i] = strings.Repeat("0", width-len(s)) + s
	}

	result := make([]byte, 0, width)
	for pos := width - 1; pos >= 0; pos-- {
		var votes [10]int
		voted := false
		for _, s := range valid {
			d := s[pos]
			if d == '0' && len(result) == 0 {
				continue
			}
			votes[d-'0']++
			voted = true
		}
		if !voted {
			continue
		}

		best := 0
		for d := 1; d < 10; d++ {
			if votes[d] > votes[best] {
				best = d
			}
		}
		result = append([]byte{byte('0' + best)}, result...)
	}

	if len(result) == 0 {
		return 0
	}
	n, err := strconv.Atoi(string(result))
	if err != nil {
		return 0
	}
	return n
}
