// Package wav implements the canonical waveform container: 16-bit PCM
// RIFF/WAVE encode and decode.
package wav

import (
	"encoding/binary"
	"fmt"

	"parley/internal/domain"
)

// Codec encodes and decodes mono 16-bit PCM WAV containers.
type Codec struct {
	Channels int
}

// NewCodec returns a codec for the given channel count (defaults to mono).
func NewCodec(channels int) *Codec {
	if channels <= 0 {
		channels = 1
	}
	return &Codec{Channels: channels}
}

// Encode wraps PCM samples in a RIFF/WAVE container.
func (c *Codec) Encode(samples []int16, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid sample rate %d", domain.ErrEncodeDecode, sampleRate)
	}

	dataLen := len(samples) * 2
	buf := make([]byte, 44+dataLen)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(c.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	byteRate := sampleRate * c.Channels * 2
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(c.Channels*2))
	binary.LittleEndian.PutUint16(buf[34:36], 16)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(s))
	}

	return buf, nil
}

// Decode extracts PCM samples and the sample rate from a RIFF/WAVE
// container. Chunks other than fmt and data are skipped.
func (c *Codec) Decode(data []byte) ([]int16, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("%w: not a RIFF/WAVE container", domain.ErrEncodeDecode)
	}

	var (
		sampleRate int
		pcm        []byte
		haveFmt    bool
	)

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkLen := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkLen > len(data) {
			return nil, 0, fmt.Errorf("%w: truncated %s chunk", domain.ErrEncodeDecode, chunkID)
		}

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, 0, fmt.Errorf("%w: short fmt chunk", domain.ErrEncodeDecode)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, 0, fmt.Errorf("%w: unsupported audio format %d", domain.ErrEncodeDecode, format)
			}
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if bits != 16 {
				return nil, 0, fmt.Errorf("%w: unsupported bit depth %d", domain.ErrEncodeDecode, bits)
			}
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			haveFmt = true
		case "data":
			pcm = data[body : body+chunkLen]
		}

		// Chunks are word aligned.
		offset = body + chunkLen
		if chunkLen%2 == 1 {
			offset++
		}
	}

	if !haveFmt || pcm == nil {
		return nil, 0, fmt.Errorf("%w: missing fmt or data chunk", domain.ErrEncodeDecode)
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples, sampleRate, nil
}
