package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

const bitsPerSample = 16

// ErrNotWAV is returned when a buffer is not a 16-bit PCM RIFF/WAVE container.
var ErrNotWAV = errors.New("audio: not a 16-bit PCM WAV file")

// WAVInfo holds the format metadata extracted from a RIFF/WAVE header.
type WAVInfo struct {
	// DataOffset is the byte offset of the first PCM sample.
	DataOffset int
	// DataSize is the length of the data chunk in bytes, clipped to the buffer.
	DataSize int
	// SampleRate is samples per second (e.g., 16000, 22050, 44100).
	SampleRate int
	// Channels is 1 for mono, 2 for stereo.
	Channels int
	// BitsPerSample is the sample width. Only 16 is decoded.
	BitsPerSample int
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// 44-byte-header RIFF/WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// ParseWAV walks the RIFF chunks in wav and returns the format and location
// of the PCM data. The fmt chunk may be any size, so the data offset is not
// assumed to be 44.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, ErrNotWAV
	}

	var info WAVInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || offset+8+16 > len(wav) {
				return WAVInfo{}, fmt.Errorf("%w: truncated fmt chunk", ErrNotWAV)
			}
			fmtData := wav[offset+8:]
			if format := binary.LittleEndian.Uint16(fmtData[0:2]); format != 1 {
				return WAVInfo{}, fmt.Errorf("%w: audio format %d", ErrNotWAV, format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(fmtData[14:16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return WAVInfo{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrNotWAV)
			}
			if info.BitsPerSample != bitsPerSample {
				return WAVInfo{}, fmt.Errorf("%w: %d bits per sample", ErrNotWAV, info.BitsPerSample)
			}
			info.DataOffset = offset + 8
			info.DataSize = min(chunkSize, len(wav)-info.DataOffset)
			return info, nil
		}

		// Chunks are word-aligned: pad by 1 if odd size.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, fmt.Errorf("%w: missing data chunk", ErrNotWAV)
}

// DecodeWAV parses wav and returns its samples as an Utterance.
func DecodeWAV(wav []byte) (*Utterance, error) {
	info, err := ParseWAV(wav)
	if err != nil {
		return nil, err
	}
	samples := PCMToSamples(wav[info.DataOffset : info.DataOffset+info.DataSize])
	return &Utterance{
		Samples:    samples,
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
		Duration:   samplesDuration(len(samples), info.SampleRate, info.Channels),
	}, nil
}

// ReadWAVFile reads and decodes a WAV file from disk. A missing file is
// reported with an error wrapping [os.ErrNotExist].
func ReadWAVFile(path string) (*Utterance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("audio: read %q: %w", path, err)
	}
	u, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("audio: decode %q: %w", path, err)
	}
	return u, nil
}
