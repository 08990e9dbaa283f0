package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
)

var ErrNotWAV = errors.New("payload is not a RIFF/WAVE file")

const headerLen = 12

// IsWAV reports whether b starts with a RIFF/WAVE header.
func IsWAV(b []byte) bool {
	return len(b) >= headerLen && bytes.Equal(b[0:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE"))
}

// fixSizes rewrites the RIFF and data chunk lengths. ffmpeg cannot seek back
// on a pipe, so it leaves them as placeholders.
func fixSizes(b []byte) []byte {
	if !IsWAV(b) {
		return b
	}
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(b)-8))
	off := headerLen
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		if id == "data" {
			binary.LittleEndian.PutUint32(b[off+4:off+8], uint32(len(b)-off-8))
			break
		}
		off += 8 + size + size%2
	}
	return b
}
