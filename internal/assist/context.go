package assist

import (
	"fmt"
	"strings"

	"github.com/codelake/codelake/internal/knowledge"
	"github.com/codelake/codelake/internal/session"
)

// buildDocContext assembles retrieved chunks into the documentation
// block fed to the planner and generator. Chunks are labeled by origin
// and deduplicated by content; order is preserved, so local chunks
// stay ahead of web chunks.
func buildDocContext(results []knowledge.Result) (string, []string) {
	var sb strings.Builder
	var sources []string
	seen := make(map[string]bool, len(results))

	for _, r := range results {
		content := strings.TrimSpace(r.Chunk.Content)
		if content == "" || seen[content] {
			continue
		}
		seen[content] = true

		label := sourceLabel(r.Chunk)
		sources = append(sources, label)

		fmt.Fprintf(&sb, "--- From %s ---\n%s\n\n", label, content)
	}

	return strings.TrimSpace(sb.String()), sources
}

// sourceLabel names a chunk's origin for context headers and the
// response's source list.
func sourceLabel(chunk knowledge.Chunk) string {
	if chunk.Metadata[knowledge.MetaSource] == knowledge.SourceWeb {
		if url := chunk.Metadata[knowledge.MetaPath]; url != "" {
			return url
		}
		return "web search"
	}
	if path := chunk.Metadata[knowledge.MetaPath]; path != "" {
		return path
	}
	if chunk.ID != "" {
		return chunk.ID
	}
	return "local documentation"
}

// buildHistoryContext renders recent turns so follow-up requests can
// reference earlier answers. Empty when the session has no history.
func buildHistoryContext(turns []session.Turn) string {
	if len(turns) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Earlier in this session:\n")
	for _, t := range turns {
		fmt.Fprintf(&sb, "User asked: %s\n", t.Request)
		if t.Code != "" {
			fmt.Fprintf(&sb, "Generated code:\n%s\n", t.Code)
		}
	}
	return sb.String()
}
