// Package chunker splits assistant text into ordered utterance fragments.
// Fragment sizing is tuned for fast time-to-first-frame: the first fragment
// is buffered up to a hard limit so the opening clip carries a natural
// amount of speech, while later fragments stay under a uniform cap that
// keeps per-chunk synthesis time predictable.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/loqalabs/loqa-avatar/internal/config"
)

// mask temporarily replaces the trailing period of a protected abbreviation
// so it is not treated as a sentence boundary. It is restored before output
// and occupies one rune, leaving length accounting unchanged.
const mask = "\x01"

type Splitter struct {
	maxChars   int
	firstLimit int
	abbrevs    []string
}

func New(cfg config.ChunkerConfig) *Splitter {
	return &Splitter{
		maxChars:   cfg.MaxChars,
		firstLimit: cfg.FirstChunkHardLimit,
		abbrevs:    cfg.Abbreviations,
	}
}

// Split normalizes whitespace, cuts the text at sentence boundaries, breaks
// oversized sentences at word boundaries, and greedily merges leading
// fragments into fragment 0 while it stays within the first-chunk hard
// limit. Fragments keep their boundary punctuation and joining them with
// single spaces reproduces the normalized input.
func (s *Splitter) Split(text string) []string {
	normalized := normalize(text)
	if normalized == "" {
		return nil
	}

	masked := s.maskAbbreviations(normalized)

	var fragments []string
	for _, sentence := range splitSentences(masked) {
		fragments = append(fragments, s.subdivide(sentence)...)
	}
	fragments = s.bufferFirst(fragments)

	for i, f := range fragments {
		fragments[i] = strings.ReplaceAll(f, mask, ".")
	}
	return fragments
}

func normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func (s *Splitter) maskAbbreviations(text string) string {
	for _, abbr := range s.abbrevs {
		if !strings.HasSuffix(abbr, ".") {
			continue
		}
		text = strings.ReplaceAll(text, abbr, abbr[:len(abbr)-1]+mask)
	}
	return text
}

// splitSentences cuts at every '.', '!', '?' or ';' that is followed by a
// space or ends the text. Punctuation stays attached to its sentence. The
// input is already whitespace-normalized, so exactly one space separates
// sentences.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(text); i++ {
		if !isBoundary(text[i]) {
			continue
		}
		if i+1 < len(text) && text[i+1] != ' ' {
			continue
		}
		sentences = append(sentences, text[start:i+1])
		if i+1 == len(text) {
			start = len(text)
			break
		}
		start = i + 2
		i++
	}
	if start < len(text) {
		sentences = append(sentences, text[start:])
	}
	return sentences
}

func isBoundary(b byte) bool {
	return b == '.' || b == '!' || b == '?' || b == ';'
}

// subdivide packs the words of an oversized sentence into fragments no
// longer than maxChars, never splitting inside a word. A single word longer
// than the cap is emitted whole.
func (s *Splitter) subdivide(sentence string) []string {
	if utf8.RuneCountInString(sentence) <= s.maxChars {
		return []string{sentence}
	}
	var parts []string
	current := ""
	for _, word := range strings.Split(sentence, " ") {
		switch {
		case current == "":
			current = word
		case utf8.RuneCountInString(current)+1+utf8.RuneCountInString(word) <= s.maxChars:
			current += " " + word
		default:
			parts = append(parts, current)
			current = word
		}
	}
	if current != "" {
		parts = append(parts, current)
	}
	return parts
}

// bufferFirst merges consecutive leading fragments into fragment 0 while the
// combined length stays within the hard limit, stopping at the first
// fragment that would overflow it.
func (s *Splitter) bufferFirst(fragments []string) []string {
	if len(fragments) < 2 {
		return fragments
	}
	first := fragments[0]
	next := 1
	for next < len(fragments) &&
		utf8.RuneCountInString(first)+1+utf8.RuneCountInString(fragments[next]) <= s.firstLimit {
		first += " " + fragments[next]
		next++
	}
	merged := make([]string, 0, 1+len(fragments)-next)
	merged = append(merged, first)
	return append(merged, fragments[next:]...)
}
