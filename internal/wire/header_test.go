package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{GroupID: 0, CollID: 0, StepIndex: 0, RemoteOffset: 0},
		{GroupID: 0xFFFF, CollID: 0xFF, StepIndex: 0xFF, RemoteOffset: 0xFFFFFFFF},
		{GroupID: 42, CollID: 7, StepIndex: 3, RemoteOffset: 65536},
	}
	for _, h := range cases {
		got := Decode(Encode(h))
		require.Equal(t, h, got)
	}
}

func TestExtensionRoundTrip(t *testing.T) {
	e := Extension{SourceRank: 123456}
	got := DecodeExtension(EncodeExtension(e))
	require.Equal(t, e, got)
}
