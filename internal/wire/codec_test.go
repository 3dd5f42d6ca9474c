package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Scenario F (spec.md §8): the first frame is ERROR (type=0, bad
// checksum byte), the second is COMPLETE with type=10, version=1,
// payload=[99].
func TestDecoder_ScenarioF_CodecResilience(t *testing.T) {
	stream := []byte{
		0x00, 0x00, 0xFF, 0x00, 0x07, 0x00, 0x99, 0x99, 0x56,
		0xFF, 0x00, 0x07, 0x0A, 0x0F, 0x01, 0x99, 0x56,
	}

	d := NewDecoder()
	events := d.Feed(stream)
	require.Len(t, events, 2)

	require.Error(t, events[0].Err)
	require.Nil(t, events[0].Frame)

	require.NoError(t, events[1].Err)
	require.NotNil(t, events[1].Frame)
	require.Equal(t, byte(10), events[1].Frame.Type)
	require.Equal(t, byte(1), events[1].Frame.Version)
	require.Equal(t, []byte{0x99}, events[1].Frame.Payload)
}

func TestDecoder_PartialFeedIsRestartable(t *testing.T) {
	full, err := Encode(10, 1, []byte{1, 2, 3})
	require.NoError(t, err)

	d := NewDecoder()
	var events []Event
	for _, b := range full {
		events = append(events, d.Feed([]byte{b})...)
	}
	require.Len(t, events, 1)
	require.NoError(t, events[0].Err)
	require.Equal(t, []byte{1, 2, 3}, events[0].Frame.Payload)
}

// Property 6 (spec.md §8): Encode(decode(frame)) == frame for all
// valid frames; any single-bit flip in type+5 causes decode to ERROR.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		{0x01},
		make([]byte, 200),
	}
	for _, p := range payloads {
		encoded, err := Encode(42, 3, p)
		require.NoError(t, err)

		d := NewDecoder()
		events := d.Feed(encoded)
		require.Len(t, events, 1)
		require.NoError(t, events[0].Err)
		require.Equal(t, byte(42), events[0].Frame.Type)
		require.Equal(t, byte(3), events[0].Frame.Version)
		require.Equal(t, p, events[0].Frame.Payload)

		reEncoded, err := Encode(events[0].Frame.Type, events[0].Frame.Version, events[0].Frame.Payload)
		require.NoError(t, err)
		require.Equal(t, encoded, reEncoded)
	}
}

func TestDecoder_BitFlipInTypeChecksumIsError(t *testing.T) {
	encoded, err := Encode(10, 1, []byte{7})
	require.NoError(t, err)
	// flip a bit in the type+5 checksum byte (index 4)
	encoded[4] ^= 0x01

	d := NewDecoder()
	events := d.Feed(encoded)
	require.Len(t, events, 1)
	require.Error(t, events[0].Err)
}

func TestDecoder_SizeOutOfRangeIsError(t *testing.T) {
	d := NewDecoder()
	events := d.Feed([]byte{0xFF, 0x00, 0x01})
	require.Len(t, events, 1)
	require.Error(t, events[0].Err)
}

func TestDecoder_VersionZeroIsError(t *testing.T) {
	encoded, err := Encode(10, 1, nil)
	require.NoError(t, err)
	encoded[5] = 0 // version byte

	d := NewDecoder()
	events := d.Feed(encoded)
	require.Len(t, events, 1)
	require.Error(t, events[0].Err)
}

func TestEncode_RejectsOversizedPayload(t *testing.T) {
	_, err := Encode(10, 1, make([]byte, 5000))
	require.Error(t, err)
}
