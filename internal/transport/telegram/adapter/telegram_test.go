package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTelegramTextShort(t *testing.T) {
	t.Parallel()
	got := splitTelegramText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTelegramTextRespectsLimit(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("alarm line number ")
		b.WriteString(strings.Repeat("x", i%7))
		b.WriteString("\n")
	}
	chunks := splitTelegramText(b.String(), 100, "")
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 100 {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
		if strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d ends with newline", i)
		}
	}
}

func TestSplitTelegramTextAvoidsCuttingTags(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 18) + "<b>bold</b>" + strings.Repeat("c", 20)
	chunks := splitTelegramText(s, 20, "HTML")
	if !strings.HasPrefix(chunks[1], "<b>") {
		t.Fatalf("tag split across chunks: %q", chunks)
	}
	if strings.Join(chunks, "") != s {
		t.Fatalf("content lost: %q", chunks)
	}
}
