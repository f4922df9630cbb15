package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/loqalabs/loqa-avatar/internal/config"
)

func newTestSplitter() *Splitter {
	return New(config.Default().Chunker)
}

func TestShortTextBuffersIntoOneFragment(t *testing.T) {
	s := newTestSplitter()
	got := s.Split("Hi there. How are you?")
	if len(got) != 1 {
		t.Fatalf("expected one buffered fragment, got %d: %v", len(got), got)
	}
	if got[0] != "Hi there. How are you?" {
		t.Fatalf("unexpected fragment: %q", got[0])
	}
}

func TestAbbreviationsSurviveAndSemicolonSplits(t *testing.T) {
	s := newTestSplitter()
	input := "Mr. Smith went to D.C.; he liked it."

	sentences := splitSentences(s.maskAbbreviations(normalize(input)))
	if len(sentences) != 2 {
		t.Fatalf("expected 2 sentences, got %d: %v", len(sentences), sentences)
	}
	first := strings.ReplaceAll(sentences[0], mask, ".")
	second := strings.ReplaceAll(sentences[1], mask, ".")
	if first != "Mr. Smith went to D.C.;" {
		t.Fatalf("unexpected first sentence: %q", first)
	}
	if second != "he liked it." {
		t.Fatalf("unexpected second sentence: %q", second)
	}

	// Both sentences fit the first-chunk budget, so the public result is one
	// fragment with the abbreviations intact.
	got := s.Split(input)
	if len(got) != 1 || got[0] != input {
		t.Fatalf("unexpected split result: %v", got)
	}
}

func TestTrailingAbbreviationIsNotABoundary(t *testing.T) {
	s := newTestSplitter()
	sentences := splitSentences(s.maskAbbreviations(normalize("He moved to D.C. Next week he returns.")))
	if len(sentences) != 1 {
		t.Fatalf("expected the D.C. period to be protected, got %v", sentences)
	}

	got := s.Split("He moved to D.C.")
	if len(got) != 1 || got[0] != "He moved to D.C." {
		t.Fatalf("unexpected fragments: %v", got)
	}
}

func TestLongParagraphRespectsLimits(t *testing.T) {
	s := newTestSplitter()
	unit := "The river market opens early; vendors trade bread and plums."
	input := strings.TrimSpace(strings.Repeat(unit+" ", 7))

	got := s.Split(input)
	if len(got) < 4 {
		t.Fatalf("expected at least 4 fragments, got %d", len(got))
	}
	if n := utf8.RuneCountInString(got[0]); n > 125 {
		t.Fatalf("fragment 0 exceeds hard limit: %d", n)
	}
	for i, f := range got[1:] {
		if n := utf8.RuneCountInString(f); n > 120 {
			t.Fatalf("fragment %d exceeds max chars: %d (%q)", i+1, n, f)
		}
		if strings.Contains(f, "; ") {
			t.Fatalf("fragment %d spans a semicolon boundary: %q", i+1, f)
		}
	}
	if joined := strings.Join(got, " "); joined != normalize(input) {
		t.Fatalf("joining fragments does not reproduce input:\n%q\n%q", joined, normalize(input))
	}

	// The greedy first-chunk merge packs four sentences (121 chars) and must
	// stop before the fifth would cross the 125 hard limit.
	if n := utf8.RuneCountInString(got[0]); n != 121 {
		t.Fatalf("expected fragment 0 to buffer to 121 chars, got %d", n)
	}
}

func TestOversizedSentenceSplitsAtWordBoundaries(t *testing.T) {
	s := newTestSplitter()
	input := strings.Repeat("alpha beta gamma delta ", 12) + "omega."

	got := s.Split(input)
	if len(got) < 2 {
		t.Fatalf("expected subdivision, got %v", got)
	}
	for i, f := range got {
		limit := 120
		if i == 0 {
			limit = 125
		}
		if n := utf8.RuneCountInString(f); n > limit {
			t.Fatalf("fragment %d over limit: %d", i, n)
		}
		for _, w := range strings.Split(f, " ") {
			switch w {
			case "alpha", "beta", "gamma", "delta", "omega.":
			default:
				t.Fatalf("word was split: %q in fragment %q", w, f)
			}
		}
	}
	if joined := strings.Join(got, " "); joined != normalize(input) {
		t.Fatalf("joining fragments does not reproduce input")
	}
}

func TestRunOfTerminalPunctuation(t *testing.T) {
	s := newTestSplitter()
	sentences := splitSentences(s.maskAbbreviations(normalize("Wow!!! That was loud. Right?")))
	if len(sentences) != 3 {
		t.Fatalf("expected 3 sentences, got %v", sentences)
	}
	if sentences[0] != "Wow!!!" {
		t.Fatalf("expected punctuation run to stay attached, got %q", sentences[0])
	}
}

func TestLimitsCountRunesNotBytes(t *testing.T) {
	s := New(config.ChunkerConfig{MaxChars: 9, FirstChunkHardLimit: 9})
	got := s.Split("café noir déjà vu encore")
	want := []string{"café noir", "déjà vu", "encore"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fragment %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestEmptyInput(t *testing.T) {
	s := newTestSplitter()
	if got := s.Split(""); len(got) != 0 {
		t.Fatalf("expected no fragments, got %v", got)
	}
	if got := s.Split(" \t\n "); len(got) != 0 {
		t.Fatalf("expected no fragments for whitespace, got %v", got)
	}
}

func TestSplitIsIdempotentOnItsOwnOutput(t *testing.T) {
	s := newTestSplitter()
	input := strings.TrimSpace(strings.Repeat("The river market opens early; vendors trade bread and plums. ", 7))

	first := s.Split(input)
	second := s.Split(strings.Join(first, " "))
	if len(first) != len(second) {
		t.Fatalf("fragment count changed: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("fragment %d changed: %q vs %q", i, first[i], second[i])
		}
	}
}
