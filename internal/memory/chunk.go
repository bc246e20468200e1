package memory

import (
	"math"
	"regexp"
	"strings"
)

var (
	spaceRuns   = regexp.MustCompile(`[ \t]+`)
	newlineRuns = regexp.MustCompile(`\n{3,}`)
)

// normalizeText collapses line endings and whitespace runs so the same
// document always hashes and chunks identically.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = spaceRuns.ReplaceAllString(text, " ")
	text = newlineRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// dynamicChunkSize scales the base chunk size with the square root of
// the document length relative to a 60k-character reference, clamped to
// [0.6x, 2.5x] of base. Short documents get the size halved once more so
// they don't end up as a single chunk plus a tiny tail.
func dynamicChunkSize(base, textLen int) int {
	if base < 200 {
		base = 200
	}
	scaled := float64(base) * math.Sqrt(float64(textLen)/60000.0)
	lo := 0.6 * float64(base)
	hi := 2.5 * float64(base)
	size := math.Min(math.Max(scaled, lo), hi)
	if float64(textLen) < 1.5*size {
		size /= 2
	}
	result := int(size)
	if result < 100 {
		result = 100
	}
	return result
}

// chunkText splits normalized text into overlapping windows. Overlap is
// capped at a third of the chunk size; maxChunks bounds the total (zero
// means unbounded) and remaining text past the cap is dropped.
func chunkText(text string, baseSize, overlap, maxChunks int) []string {
	text = normalizeText(text)
	if text == "" {
		return nil
	}

	size := dynamicChunkSize(baseSize, len(text))
	if overlap < 0 {
		overlap = 0
	}
	if overlap > size/3 {
		overlap = size / 3
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
		start = end - overlap
		if maxChunks > 0 && len(chunks) >= maxChunks {
			break
		}
	}
	return chunks
}
