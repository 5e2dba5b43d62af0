package discord

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// oggPage builds one page from a segment table and its body.
func oggPage(serial uint32, segments []byte, body []byte) []byte {
	header := make([]byte, oggHeaderSize)
	copy(header, oggCapturePattern)
	binary.LittleEndian.PutUint32(header[oggSerialPos:], serial)
	header[oggSegmentCountPos] = byte(len(segments))

	page := append(header, segments...)

	return append(page, body...)
}

// lacing returns the segment table entries for one complete packet.
func lacing(size int) []byte {
	var table []byte

	for size >= oggMaxSegmentSize {
		table = append(table, oggMaxSegmentSize)
		size -= oggMaxSegmentSize
	}

	return append(table, byte(size))
}

func packetPage(serial uint32, packets ...[]byte) []byte {
	var (
		segments []byte
		body     []byte
	)

	for _, packet := range packets {
		segments = append(segments, lacing(len(packet))...)
		body = append(body, packet...)
	}

	return oggPage(serial, segments, body)
}

func headerPages(serial uint32) []byte {
	head := packetPage(serial, []byte("OpusHead\x01\x02\x38\x01\x80\xbb\x00\x00\x00\x00\x00"))
	tags := packetPage(serial, []byte("OpusTags\x00\x00\x00\x00\x00\x00\x00\x00"))

	return append(head, tags...)
}

func TestOpusPackets_SkipsHeaders(t *testing.T) {
	t.Parallel()

	stream := headerPages(7)
	stream = append(stream, packetPage(7, []byte{1, 2, 3}, []byte{4, 5})...)
	stream = append(stream, packetPage(7, []byte{6})...)

	packets, err := OpusPackets(stream)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{1, 2, 3}, {4, 5}, {6}}, packets)
}

func TestOpusPackets_PacketSpanningPages(t *testing.T) {
	t.Parallel()

	packet := bytes.Repeat([]byte{0xAB}, 600)

	stream := headerPages(1)
	stream = append(stream, oggPage(1, []byte{255, 255}, packet[:510])...)
	stream = append(stream, oggPage(1, []byte{90}, packet[510:])...)

	packets, err := OpusPackets(stream)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, packet, packets[0])
}

func TestOpusPackets_ExactMultipleOfSegmentSize(t *testing.T) {
	t.Parallel()

	packet := bytes.Repeat([]byte{0x01}, 255)

	stream := headerPages(1)
	stream = append(stream, packetPage(1, packet, []byte{9})...)

	packets, err := OpusPackets(stream)
	require.NoError(t, err)
	require.Len(t, packets, 2)
	assert.Equal(t, packet, packets[0])
	assert.Equal(t, []byte{9}, packets[1])
}

func TestOpusPackets_IgnoresOtherStreams(t *testing.T) {
	t.Parallel()

	stream := headerPages(1)
	stream = append(stream, packetPage(2, []byte{0xEE})...)
	stream = append(stream, packetPage(1, []byte{0x11})...)

	packets, err := OpusPackets(stream)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x11}}, packets)
}

func TestOpusPackets_Errors(t *testing.T) {
	t.Parallel()

	_, err := OpusPackets([]byte("ID3 not ogg"))
	require.ErrorIs(t, err, ErrNotOgg)

	_, err = OpusPackets(headerPages(1))
	require.ErrorIs(t, err, ErrNoOpusPackets)

	full := append(headerPages(1), packetPage(1, []byte{1, 2, 3, 4})...)

	_, err = OpusPackets(full[:len(full)-2])
	require.ErrorIs(t, err, ErrTruncatedOgg)

	_, err = OpusPackets(full[:len(headerPages(1))+10])
	require.ErrorIs(t, err, ErrTruncatedOgg)

	garbage := append(headerPages(1), []byte("junk")...)

	_, err = OpusPackets(garbage)
	require.ErrorIs(t, err, ErrNotOgg)
}

func TestIsOgg(t *testing.T) {
	t.Parallel()

	assert.True(t, IsOgg(headerPages(1)))
	assert.False(t, IsOgg([]byte{0xFF, 0xFB}))
	assert.False(t, IsOgg(nil))
}
