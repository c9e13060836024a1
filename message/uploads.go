package message

import (
	"strings"
	"unicode"
)

// UploadPrefix starts every path that refers to a file uploaded to the chat
// platform.
const UploadPrefix = "/user_uploads/"

// ExtractUploadRefs returns every upload path in text, in order of
// appearance. A reference ends at whitespace, ')', '"', '>' or the end of the
// line, which covers Markdown images and links, HTML img tags and bare paths.
func ExtractUploadRefs(text string) []string {
	var refs []string
	for _, line := range strings.Split(text, "\n") {
		rest := line
		for {
			start := strings.Index(rest, UploadPrefix)
			if start < 0 {
				break
			}
			rest = rest[start:]
			end := strings.IndexFunc(rest, isRefTerminator)
			if end < 0 {
				end = len(rest)
			}
			refs = append(refs, rest[:end])
			rest = rest[end:]
		}
	}
	return refs
}

func isRefTerminator(r rune) bool {
	return unicode.IsSpace(r) || r == ')' || r == '"' || r == '>'
}
