package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ParseFacts extracts facts from an extracted-memory block. Only lines that
// start with "-" are facts; the dash and surrounding whitespace are removed.
// Lines that fail ValidateFact are dropped.
func ParseFacts(text string) []string {
	var facts []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, "-") {
			continue
		}
		fact, err := ValidateFact(line[1:])
		if err != nil {
			continue
		}
		facts = append(facts, fact)
	}
	return facts
}

// FormatMemories renders nodes as a bullet list for prompt injection:
//
//	- Kevin likes coffee (created 3 days ago)
func FormatMemories(nodes []ActiveNode, now time.Time) string {
	var b strings.Builder
	for i, n := range nodes {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s (created %s)", n.Node.Memory, humanize.RelTime(n.Node.CreatedAt, now, "ago", "from now"))
	}
	return b.String()
}
