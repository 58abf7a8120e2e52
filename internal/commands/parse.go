package commands

import (
	"strings"
	"unicode"
)

// word is one whitespace-separated token of a command line with its byte
// offset. Message arguments are taken as raw remaining text from an offset
// so apostrophes and quotes survive untouched.
type word struct {
	text string
	pos  int
}

func splitWords(s string) []word {
	var out []word
	start := -1
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, word{text: s[start:i], pos: start})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, word{text: s[start:], pos: start})
	}
	return out
}

func texts(ws []word) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.text
	}
	return out
}

// rest returns the raw text starting at word i, or "" past the end.
func rest(s string, ws []word, i int) string {
	if i >= len(ws) {
		return ""
	}
	return strings.TrimSpace(s[ws[i].pos:])
}

// parseCommand splits "/name@bot args" into the lowercase name, the bot
// suffix and the raw argument text. ok is false for non-command text.
func parseCommand(text string) (name, bot, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", "", false
	}
	head := text[1:]
	if i := strings.IndexFunc(head, unicode.IsSpace); i >= 0 {
		args = strings.TrimSpace(head[i:])
		head = head[:i]
	}
	if at := strings.IndexByte(head, '@'); at >= 0 {
		bot = head[at+1:]
		head = head[:at]
	}
	if head == "" {
		return "", "", "", false
	}
	return strings.ToLower(head), bot, args, true
}

// parseFlags extracts "--key value..." pairs where a value runs until the
// next known flag. Text before the first flag is returned as pos.
func parseFlags(s string, known ...string) (pos string, flags map[string]string) {
	flags = map[string]string{}
	ws := splitWords(s)
	type mark struct {
		key        string
		start, end int
	}
	var marks []mark
	for _, w := range ws {
		t := strings.ToLower(w.text)
		if !strings.HasPrefix(t, "--") {
			continue
		}
		key := strings.TrimPrefix(t, "--")
		val := ""
		if eq := strings.IndexByte(key, '='); eq >= 0 {
			key = key[:eq]
			val = "="
		}
		for _, k := range known {
			if key == k {
				end := w.pos + len(w.text)
				if val != "" {
					end = w.pos + strings.IndexByte(w.text, '=') + 1
				}
				marks = append(marks, mark{key: k, start: w.pos, end: end})
				break
			}
		}
	}
	if len(marks) == 0 {
		return strings.TrimSpace(s), flags
	}
	pos = strings.TrimSpace(s[:marks[0].start])
	for i, m := range marks {
		stop := len(s)
		if i+1 < len(marks) {
			stop = marks[i+1].start
		}
		flags[m.key] = strings.TrimSpace(s[m.end:stop])
	}
	return pos, flags
}
