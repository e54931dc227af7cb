package etl

import "golang.org/x/text/cases"

// Matcher derives the key used to resolve a played (title, artist) pair
// against the song catalog. Both the catalog index and the event lookup go
// through the same Matcher, so swapping it changes the join semantics for the
// whole run.
type Matcher func(title, artist string) string

// ExactMatch keys on the byte-identical title and artist name. No trimming,
// no case normalization. This is the default.
func ExactMatch(title, artist string) string {
	return title + "\x1f" + artist
}

// FoldedMatch keys on the Unicode case-folded title and artist name, so
// "Hey Jude" resolves the same as "hey jude". Whitespace still matters.
func FoldedMatch(title, artist string) string {
	c := cases.Fold()
	return c.String(title) + "\x1f" + c.String(artist)
}
