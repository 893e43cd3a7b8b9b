package textutil

import "strings"

// Windows cuts text into rune windows of size, each starting size-overlap
// runes after the previous one. Blank windows are dropped.
func Windows(text string, size, overlap int) []string {
	if size <= 0 {
		size = 900
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	step := size - overlap

	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		if w := strings.TrimSpace(string(runes[start:end])); w != "" {
			out = append(out, w)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}
