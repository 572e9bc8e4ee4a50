package alert

import (
	"strings"
)

// MarkdownToMrkdwn converts the Markdown a model tends to write into Slack
// mrkdwn: headings and **bold** become *bold*, *italic* becomes _italic_,
// ~~strike~~ becomes ~strike~, [text](url) becomes <url|text> and "- " list
// items become bullets. Fenced and inline code is left untouched.
func MarkdownToMrkdwn(md string) string {
	lines := strings.Split(md, "\n")
	inFence := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		lines[i] = convertLine(line)
	}
	return strings.Join(lines, "\n")
}

func convertLine(line string) string {
	indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
	body := line[len(indent):]

	if h := strings.TrimLeft(body, "#"); h != body && strings.HasPrefix(h, " ") {
		return indent + "*" + convertInline(strings.TrimSpace(h), true) + "*"
	}
	if rest, ok := strings.CutPrefix(body, "- "); ok {
		return indent + "• " + convertInline(rest, false)
	}
	if rest, ok := strings.CutPrefix(body, "* "); ok {
		return indent + "• " + convertInline(rest, false)
	}
	return indent + convertInline(body, false)
}

// convertInline rewrites emphasis and links outside inline code spans. When
// plain is set, emphasis markers are dropped because the caller already wraps
// the text in bold.
func convertInline(s string, plain bool) string {
	var b strings.Builder
	inCode := false
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '`':
			inCode = !inCode
			b.WriteByte(c)
			i++
		case inCode:
			b.WriteByte(c)
			i++
		case strings.HasPrefix(s[i:], "**"), strings.HasPrefix(s[i:], "__"):
			if !plain {
				b.WriteByte('*')
			}
			i += 2
		case strings.HasPrefix(s[i:], "~~"):
			b.WriteByte('~')
			i += 2
		case c == '*':
			if !plain {
				b.WriteByte('_')
			}
			i++
		case c == '[':
			if text, url, n, ok := link(s[i:]); ok {
				b.WriteString("<" + url + "|" + text + ">")
				i += n
				continue
			}
			b.WriteByte(c)
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// link parses a [text](url) at the start of s and returns its length.
func link(s string) (text, url string, n int, ok bool) {
	mid := strings.Index(s, "](")
	if mid < 0 || strings.ContainsAny(s[1:mid], "[\n") {
		return "", "", 0, false
	}
	end := strings.IndexByte(s[mid:], ')')
	if end < 0 {
		return "", "", 0, false
	}
	end += mid
	return s[1:mid], s[mid+2 : end], end + 1, true
}
