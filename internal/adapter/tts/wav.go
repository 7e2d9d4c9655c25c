package tts

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
)

// secondsPerWord estimates playback time when the audio header is unusable.
const secondsPerWord = 0.4

var errNotWAV = errors.New("not a RIFF/WAVE file")

// wavDuration returns the playback length of a RIFF/WAVE payload from its
// fmt byte rate and data chunk size.
func wavDuration(data []byte) (float64, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return 0, errNotWAV
	}

	var byteRate uint32
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if body+12 > len(data) {
				return 0, errors.New("truncated fmt chunk")
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			if byteRate == 0 {
				return 0, errors.New("data chunk before fmt chunk")
			}
			// Streaming encoders leave the size at 0 or 0xFFFFFFFF.
			if size == 0 || body+size > len(data) {
				size = len(data) - body
			}
			return float64(size) / float64(byteRate), nil
		}
		// Chunks are padded to an even length.
		pos = body + size + size%2
	}
	return 0, errors.New("no data chunk")
}

// estimateDuration is the word-count fallback.
func estimateDuration(text string) float64 {
	words := len(strings.Fields(text))
	if words == 0 {
		return secondsPerWord
	}
	return float64(words) * secondsPerWord
}
