// Package segment splits reply text into the display chunks revealed one at a
// time by the playback scheduler.
package segment

import "strings"

// isTerminal reports whether b ends a sentence.
func isTerminal(b byte) bool {
	switch b {
	case '.', '!', '?':
		return true
	}
	return false
}

// Split breaks reply into sentence chunks. A chunk ends after a run of '.',
// '!' or '?' characters, so "Wait... what?!" yields ["Wait...", "what?!"].
// Each chunk is trimmed and empty chunks are dropped.
//
// Split never returns an empty slice: text without any non-blank sentence
// (including "" and whitespace-only input) yields a single chunk holding the
// trimmed input.
//
// Joining the result with single spaces reproduces the trimmed reply with
// inter-sentence whitespace collapsed to one space.
func Split(reply string) []string {
	var chunks []string

	start := 0
	for i := 0; i < len(reply); i++ {
		if !isTerminal(reply[i]) {
			continue
		}
		end := i + 1
		for end < len(reply) && isTerminal(reply[end]) {
			end++
		}
		chunks = appendChunk(chunks, reply[start:end])
		start = end
		i = end - 1
	}
	chunks = appendChunk(chunks, reply[start:])

	if len(chunks) == 0 {
		return []string{strings.TrimSpace(reply)}
	}
	return chunks
}

func appendChunk(chunks []string, s string) []string {
	if s = strings.TrimSpace(s); s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}
