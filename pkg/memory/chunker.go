package memory

import "strings"

// chunkText splits text into chunks of roughly size bytes without
// breaking lines. Consecutive chunks share the trailing lines of the
// previous one up to overlap bytes, so material spanning a boundary
// stays recallable.
func chunkText(text string, size, overlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if size <= 0 || len(text) <= size {
		return []string{text}
	}
	if overlap >= size {
		overlap = size / 5
	}

	lines := strings.Split(text, "\n")

	var chunks []string
	var current []string
	currentLen := 0

	flush := func() {
		chunk := strings.Join(current, "\n")
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}

		// Seed the next chunk with trailing lines of this one.
		var carry []string
		carryLen := 0
		for i := len(current) - 1; i >= 0 && carryLen < overlap; i-- {
			carry = append([]string{current[i]}, carry...)
			carryLen += len(current[i]) + 1
		}
		// A single oversized line would never make progress as carry.
		if carryLen >= currentLen {
			carry = nil
			carryLen = 0
		}
		current = carry
		currentLen = carryLen
	}

	fresh := 0
	for _, line := range lines {
		current = append(current, line)
		currentLen += len(line) + 1
		fresh++
		if currentLen >= size {
			flush()
			fresh = 0
		}
	}
	// Only lines not already emitted warrant a final chunk; the carry
	// alone is a repeat of the previous one.
	if fresh > 0 {
		flush()
	}

	return chunks
}
