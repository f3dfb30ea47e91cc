package governance

import (
	"strings"
)

// rawChunk is a single top-level-heading slice of a markdown document before
// it is persisted.
type rawChunk struct {
	Heading string
	Body    string
}

// chunkMarkdown splits markdown content by top-level ("# ") heading lines,
// Content before the first heading becomes chunk 0 with an
// empty heading. Heading detection is line-based and case-preserving; "##"
// and deeper headings stay inside their enclosing "#" chunk's body.
func chunkMarkdown(content string) []rawChunk {
	lines := strings.Split(content, "\n")
	var chunks []rawChunk
	var cur *rawChunk
	var body strings.Builder

	flush := func() {
		if cur != nil {
			cur.Body = strings.TrimSpace(body.String())
			chunks = append(chunks, *cur)
		}
		body.Reset()
	}

	for _, line := range lines {
		if isTopLevelHeading(line) {
			flush()
			cur = &rawChunk{Heading: strings.TrimSpace(strings.TrimPrefix(line, "#"))}
			continue
		}
		if cur == nil {
			cur = &rawChunk{Heading: ""}
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()

	// Drop entirely-empty leading chunk (no heading, no body) that results
	// from a file starting directly with a top-level heading.
	out := chunks[:0]
	for _, c := range chunks {
		if c.Heading == "" && c.Body == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func isTopLevelHeading(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "# ") && trimmed != "#" {
		return false
	}
	// "## " is a second-level heading, not top-level.
	return !strings.HasPrefix(trimmed, "##")
}
