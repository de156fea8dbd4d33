package speech

import (
	"strings"
	"unicode/utf8"
)

// SplitText breaks text into pieces of at most limit runes, preferring
// paragraph breaks, then sentence ends, then spaces. limit <= 0 disables
// splitting.
func SplitText(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var out []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	appendPiece := func(piece, sep string) {
		if cur.Len() > 0 && utf8.RuneCountInString(cur.String())+utf8.RuneCountInString(sep)+utf8.RuneCountInString(piece) > limit {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(sep)
		}
		cur.WriteString(piece)
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= limit {
			appendPiece(para, "\n\n")
			continue
		}
		for _, sent := range splitSentences(para) {
			if utf8.RuneCountInString(sent) <= limit {
				appendPiece(sent, " ")
				continue
			}
			for _, w := range hardWrap(sent, limit) {
				appendPiece(w, " ")
			}
		}
	}
	flush()
	return out
}

func splitSentences(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		next := i + utf8.RuneLen(r)
		if next < len(s) && s[next] != ' ' && s[next] != '\n' {
			continue
		}
		if piece := strings.TrimSpace(s[start:next]); piece != "" {
			out = append(out, piece)
		}
		start = next
	}
	if piece := strings.TrimSpace(s[start:]); piece != "" {
		out = append(out, piece)
	}
	return out
}

// hardWrap splits at spaces, cutting words longer than limit.
func hardWrap(s string, limit int) []string {
	var out []string
	var cur []rune
	for _, w := range strings.Fields(s) {
		rw := []rune(w)
		for len(rw) > limit {
			if len(cur) > 0 {
				out = append(out, string(cur))
				cur = nil
			}
			out = append(out, string(rw[:limit]))
			rw = rw[limit:]
		}
		if len(cur) > 0 && len(cur)+1+len(rw) > limit {
			out = append(out, string(cur))
			cur = nil
		}
		if len(cur) > 0 {
			cur = append(cur, ' ')
		}
		cur = append(cur, rw...)
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}
