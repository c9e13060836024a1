package message

import (
	"strings"
	"time"
)

// DateLayout is the format of the fallback title for untitled posts.
const DateLayout = "2006-01-02"

// Post is the parsed form of a post message.
type Post struct {
	Title          string
	Body           string
	Date           time.Time
	AttachmentRefs []string
}

// ParsePost strips the bot mention from text and extracts a title. The title
// comes from the first line starting with "# " or "TITLE: " that has a
// non-empty remainder; that line is removed and the rest trimmed to form the
// body. Without such a line the title is the message date in loc.
func ParsePost(text string, timestamp int64, loc *time.Location, mention string) Post {
	if loc == nil {
		loc = time.UTC
	}
	if mention != "" {
		text = strings.ReplaceAll(text, mention, "")
	}
	date := time.Unix(timestamp, 0).In(loc)

	title, idx := findTitle(text)
	body := strings.TrimSpace(text)
	if idx >= 0 {
		ls := lines(text)
		kept := make([]string, 0, len(ls)-1)
		kept = append(kept, ls[:idx]...)
		kept = append(kept, ls[idx+1:]...)
		body = strings.TrimSpace(strings.Join(kept, "\n"))
	} else {
		title = date.Format(DateLayout)
	}

	return Post{
		Title:          title,
		Body:           body,
		Date:           date,
		AttachmentRefs: ExtractUploadRefs(body),
	}
}

func findTitle(text string) (string, int) {
	for i, line := range lines(text) {
		if t, ok := strings.CutPrefix(line, "# "); ok && t != "" {
			return t, i
		}
		if t, ok := strings.CutPrefix(line, "TITLE: "); ok && t != "" {
			return t, i
		}
	}
	return "", -1
}
