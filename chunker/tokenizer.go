package chunker

import "unicode"

// span marks one whitespace-delimited word as a half-open byte range into
// the normalized text. Chunk boundaries are always span boundaries, so a
// chunk's text is an exact substring of the section text and the split is
// reproducible byte for byte on any run.
type span struct {
	start int
	end   int
}

// tokenize returns the word spans of text. Words are maximal runs of
// non-space bytes; any unicode space separates them.
func tokenize(text string) []span {
	var spans []span
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, span{start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, span{start: start, end: len(text)})
	}
	return spans
}
