package amount

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFormatRoundTrip(t *testing.T) {
	cases := []string{"0.0000", "1.2500", "3.0000", "1234567.0001"}
	for _, c := range cases {
		scaled, err := Parse(c)
		require.NoError(t, err)
		require.Equal(t, c, Format(scaled))
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"", "abc", "-1.5", "1.23456", "1."} {
		require.False(t, Valid(bad), bad)
		_, err := Parse(bad)
		require.Error(t, err)
	}
}

func TestSplitConservation(t *testing.T) {
	parent, err := Parse("3.0000")
	require.NoError(t, err)
	child, err := Parse("1.2500")
	require.NoError(t, err)
	remaining := parent - child
	require.Equal(t, parent, remaining+child)
	require.Equal(t, "1.7500", Format(remaining))
}
