package assist

import "strings"

// codeIndicators are phrases that mark a message as a code request.
// Matched case-insensitively as substrings.
var codeIndicators = []string{
	"generate",
	"write",
	"create",
	"implement",
	"build",
	"code",
	"function",
	"script",
	"example",
	"snippet",
	"how do i",
	"how to",
	"show me",
	"api",
	"sdk",
	"client",
	"call",
	"request",
	"upload",
	"download",
	"list",
	"delete",
	"fetch",
}

// IsCodeRequest reports whether the message is asking for code rather
// than conversation. The check is intentionally permissive; borderline
// messages go through the pipeline, which handles them fine.
func IsCodeRequest(message string) bool {
	lower := strings.ToLower(message)
	for _, indicator := range codeIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
