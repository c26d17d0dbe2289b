package queryspace

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllSkipsDigitPrefixedKeys(t *testing.T) {
	t.Parallel()

	space, err := New("abc1", 2)
	require.NoError(t, err)

	want := []string{"aa", "ab", "ac", "a1", "ba", "bb", "bc", "b1", "ca", "cb", "cc", "c1"}
	require.Equal(t, want, space.Keys())
	require.Equal(t, len(want), space.Len())
}

func TestAllIsRestartable(t *testing.T) {
	t.Parallel()

	space, err := New("xy", 3)
	require.NoError(t, err)

	first := space.Keys()
	second := space.Keys()
	require.Equal(t, first, second)
	require.Equal(t, []string{"xxx", "xxy", "xyx", "xyy", "yxx", "yxy", "yyx", "yyy"}, first)
}

func TestAllStopsEarly(t *testing.T) {
	t.Parallel()

	space, err := New(DefaultAlphabet, DefaultLength)
	require.NoError(t, err)

	var got []string
	for key := range space.All() {
		got = append(got, key)
		if len(got) == 3 {
			break
		}
	}
	require.Equal(t, []string{"aa", "ab", "ac"}, got)
}

func TestDefaultSpaceHandlesMultiByteRunes(t *testing.T) {
	t.Parallel()

	space, err := New(DefaultAlphabet, DefaultLength)
	require.NoError(t, err)

	keys := space.Keys()
	// 30 letters lead, 40 runes follow
	require.Len(t, keys, 30*40)
	require.Equal(t, space.Len(), len(keys))
	require.Equal(t, "ßß", keys[len(keys)-1])
	require.Contains(t, keys, "äa")
	for _, key := range keys {
		require.Len(t, []rune(key), 2)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		alphabet string
		length   int
	}{
		{"empty alphabet", "", 2},
		{"zero length", "abc", 0},
		{"duplicate rune", "aba", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.alphabet, tt.length)
			require.Error(t, err)
		})
	}
}
