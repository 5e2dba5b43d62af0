package discord

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Ogg page layout.
const (
	oggCapturePattern  = "OggS"
	oggHeaderSize      = 27
	oggSegmentCountPos = 26
	oggSerialPos       = 14
	oggMaxSegmentSize  = 255
	opusHeadMagic      = "OpusHead"
	opusTagsMagic      = "OpusTags"
)

var (
	// ErrNotOgg is returned for data that does not start with an Ogg page.
	ErrNotOgg = errors.New("audio is not an ogg stream")
	// ErrTruncatedOgg is returned when a page header or body runs past the data.
	ErrTruncatedOgg = errors.New("ogg stream is truncated")
	// ErrNoOpusPackets is returned when the stream carries no audio packets.
	ErrNoOpusPackets = errors.New("ogg stream contains no opus packets")
)

// IsOgg reports whether data starts with an Ogg page.
func IsOgg(data []byte) bool {
	return bytes.HasPrefix(data, []byte(oggCapturePattern))
}

// OpusPackets splits an Ogg Opus stream into raw Opus packets, dropping the
// OpusHead and OpusTags headers. Only the first logical stream is read.
func OpusPackets(data []byte) ([][]byte, error) {
	if !IsOgg(data) {
		return nil, ErrNotOgg
	}

	var (
		packets [][]byte
		partial []byte
		serial  uint32
		first   = true
	)

	for offset := 0; offset < len(data); {
		if !bytes.HasPrefix(data[offset:], []byte(oggCapturePattern)) {
			return nil, fmt.Errorf("%w: missing capture pattern at byte %d", ErrNotOgg, offset)
		}

		if offset+oggHeaderSize > len(data) {
			return nil, ErrTruncatedOgg
		}

		header := data[offset : offset+oggHeaderSize]
		segmentCount := int(header[oggSegmentCountPos])
		pageSerial := binary.LittleEndian.Uint32(header[oggSerialPos:])

		tableStart := offset + oggHeaderSize
		bodyStart := tableStart + segmentCount

		if bodyStart > len(data) {
			return nil, ErrTruncatedOgg
		}

		segments := data[tableStart:bodyStart]

		bodySize := 0
		for _, size := range segments {
			bodySize += int(size)
		}

		if bodyStart+bodySize > len(data) {
			return nil, ErrTruncatedOgg
		}

		if first {
			serial = pageSerial
			first = false
		}

		body := data[bodyStart : bodyStart+bodySize]
		offset = bodyStart + bodySize

		if pageSerial != serial {
			continue
		}

		for _, size := range segments {
			partial = append(partial, body[:size]...)
			body = body[size:]

			if size == oggMaxSegmentSize {
				continue
			}

			packets = appendAudioPacket(packets, partial)
			partial = nil
		}
	}

	if len(packets) == 0 {
		return nil, ErrNoOpusPackets
	}

	return packets, nil
}

func appendAudioPacket(packets [][]byte, packet []byte) [][]byte {
	if len(packet) == 0 || bytes.HasPrefix(packet, []byte(opusHeadMagic)) || bytes.HasPrefix(packet, []byte(opusTagsMagic)) {
		return packets
	}

	return append(packets, packet)
}
