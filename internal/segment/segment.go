// Package segment carves a streamed LLM response into speakable sentences.
//
// The segmenter is pure: all state lives in the [State] value that the caller
// threads through successive [Segmenter.Feed] calls. A unit is emitted as soon
// as a terminal punctuation mark is followed by whitespace, so synthesis of the
// first sentence can begin while the model is still producing the rest of the
// reply.
//
// Boundary detection is a left-to-right character scan built from small named
// predicates (see predicates.go). Each predicate is exported so it can be
// tested in isolation.
//
// The concatenation of every emitted unit and the residual [State.Buffer]
// reproduces the bytes fed so far, except for whitespace trimmed at unit
// edges. Deltas are opaque: they may split a UTF-8 character.
package segment

import (
	"slices"
	"strings"
	"unicode"
)

// DefaultAbbreviations lists the tokens (lower-cased, trailing period included)
// after which a period never ends a sentence.
var DefaultAbbreviations = []string{
	"dr.", "dra.", "mr.", "mrs.", "ms.", "sr.", "sra.", "vs.", "etc.", "e.g.", "i.e.",
}

// State is the accumulated-but-unsegmented text of one response stream.
// The zero value is an empty buffer ready for the first delta.
type State struct {
	Buffer string
}

// Segmenter holds the immutable boundary rules. A Segmenter is safe for
// concurrent use; each stream keeps its own [State].
type Segmenter struct {
	abbreviations map[string]struct{}
}

// New returns a Segmenter using [DefaultAbbreviations] plus any extra
// abbreviations. Extra entries are matched case-insensitively and should
// include their trailing period (e.g. "prof.").
func New(extra ...string) *Segmenter {
	abbr := make(map[string]struct{}, len(DefaultAbbreviations)+len(extra))
	for _, a := range DefaultAbbreviations {
		abbr[a] = struct{}{}
	}
	for _, a := range extra {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		abbr[a] = struct{}{}
	}
	return &Segmenter{abbreviations: abbr}
}

var defaultSegmenter = New()

// Feed appends delta to the state buffer using the default abbreviation set.
// See [Segmenter.Feed].
func Feed(st State, delta string) ([]string, State) {
	return defaultSegmenter.Feed(st, delta)
}

// Flush emits the residual buffer using the default segmenter.
// See [Segmenter.Flush].
func Flush(st State) ([]string, State) {
	return defaultSegmenter.Flush(st)
}

// Feed appends delta to st.Buffer and returns every complete sentence found,
// in order, together with the updated state. Sentences are trimmed of
// surrounding whitespace; blank sentences are dropped. The returned state
// holds the unconsumed remainder with leading whitespace removed.
func (s *Segmenter) Feed(st State, delta string) ([]string, State) {
	text := st.Buffer + delta

	var units []string
	cursor := 0
	for i := 0; i < len(text); i++ {
		if !s.IsBoundary(text, i) {
			continue
		}
		if unit := strings.TrimSpace(text[cursor : i+1]); unit != "" {
			units = append(units, unit)
		}
		cursor = i + 1
	}

	// A delta may end inside a multi-byte character; its leading bytes stay
	// in the buffer untouched until the rest arrives.
	rest := strings.TrimLeftFunc(text[cursor:], unicode.IsSpace)
	return units, State{Buffer: rest}
}

// Flush signals end-of-stream. Any non-blank remainder is returned as a final
// unit regardless of trailing punctuation, and the state is reset.
func (s *Segmenter) Flush(st State) ([]string, State) {
	rest := strings.TrimSpace(st.Buffer)
	if rest == "" {
		return nil, State{}
	}
	return []string{rest}, State{}
}

// Abbreviations returns the configured abbreviation set, sorted.
func (s *Segmenter) Abbreviations() []string {
	out := make([]string, 0, len(s.abbreviations))
	for a := range s.abbreviations {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}
