// Package queryspace enumerates the search keys crawled against the directory service.
package queryspace

import (
	"errors"
	"fmt"
	"iter"
	"unicode"
)

// DefaultAlphabet is lowercase ASCII, digits, and the German umlauts plus ß.
const DefaultAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789äöüß"

// DefaultLength is the key length used by a full crawl.
const DefaultLength = 2

// Space is the finite, ordered set of keys over an alphabet at a fixed length.
// Keys whose first rune is a digit are not part of the space.
type Space struct {
	alphabet []rune
	length   int
}

// New validates the alphabet and length and returns the key space.
func New(alphabet string, length int) (Space, error) {
	if length < 1 {
		return Space{}, fmt.Errorf("key length must be >= 1, got %d", length)
	}
	runes := []rune(alphabet)
	if len(runes) == 0 {
		return Space{}, errors.New("alphabet is empty")
	}
	seen := make(map[rune]struct{}, len(runes))
	for _, r := range runes {
		if _, dup := seen[r]; dup {
			return Space{}, fmt.Errorf("alphabet contains duplicate rune %q", r)
		}
		seen[r] = struct{}{}
	}
	return Space{alphabet: runes, length: length}, nil
}

// All yields every key in lexicographic product order of the alphabet.
// The sequence is lazy and can be ranged over any number of times.
func (s Space) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		if len(s.alphabet) == 0 || s.length < 1 {
			return
		}
		idx := make([]int, s.length)
		buf := make([]rune, s.length)
		for {
			if !isDigit(s.alphabet[idx[0]]) {
				for i, j := range idx {
					buf[i] = s.alphabet[j]
				}
				if !yield(string(buf)) {
					return
				}
			}
			// odometer increment, rightmost position fastest
			pos := s.length - 1
			for pos >= 0 {
				idx[pos]++
				if idx[pos] < len(s.alphabet) {
					break
				}
				idx[pos] = 0
				pos--
			}
			if pos < 0 {
				return
			}
		}
	}
}

// Keys materializes the sequence.
func (s Space) Keys() []string {
	keys := make([]string, 0, s.Len())
	for key := range s.All() {
		keys = append(keys, key)
	}
	return keys
}

// Len returns the number of keys without enumerating them.
func (s Space) Len() int {
	if len(s.alphabet) == 0 || s.length < 1 {
		return 0
	}
	leading := 0
	for _, r := range s.alphabet {
		if !isDigit(r) {
			leading++
		}
	}
	n := leading
	for i := 1; i < s.length; i++ {
		n *= len(s.alphabet)
	}
	return n
}

func isDigit(r rune) bool {
	return r <= unicode.MaxASCII && unicode.IsDigit(r)
}
