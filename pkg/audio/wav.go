package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MIMEWAV is the content type of audio produced by [EncodeWAV].
const MIMEWAV = "audio/wav"

const wavHeaderSize = 44

// ErrNotWAV is returned by [DecodeWAV] for data without a RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a PCM WAV stream")

// EncodeWAV wraps int16 PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	out := make([]byte, wavHeaderSize+len(pcm))
	le := binary.LittleEndian

	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], 16)
	le.PutUint16(out[20:22], 1) // PCM
	le.PutUint16(out[22:24], uint16(f.Channels))
	le.PutUint32(out[24:28], uint32(f.SampleRate))
	le.PutUint32(out[28:32], uint32(f.BytesPerSecond()))
	le.PutUint16(out[32:34], uint16(f.Channels*2))
	le.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	le.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[wavHeaderSize:], pcm)
	return out
}

// DecodeWAV parses a canonical WAV produced by [EncodeWAV] and returns its PCM
// payload and format. Files with extra chunks before "data" are walked.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}
	le := binary.LittleEndian
	var f Format
	haveFmt := false
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(le.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 || le.Uint16(data[body:body+2]) != 1 || le.Uint16(data[body+14:body+16]) != 16 {
				return nil, Format{}, fmt.Errorf("%w: unsupported fmt chunk", ErrNotWAV)
			}
			f.Channels = int(le.Uint16(data[body+2 : body+4]))
			f.SampleRate = int(le.Uint32(data[body+4 : body+8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, fmt.Errorf("%w: data before fmt", ErrNotWAV)
			}
			return data[body : body+size], f, nil
		}
		off = body + size + size%2
	}
	return nil, Format{}, fmt.Errorf("%w: missing data chunk", ErrNotWAV)
}
