// Package wav writes and reads canonical 16-bit stereo PCM WAV files.
package wav

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/satindergrewal/tinnitone/internal/audio"
	"github.com/satindergrewal/tinnitone/internal/therapy"
)

const (
	HeaderSize    = 44
	Channels      = 2
	BitsPerSample = 16
	BlockAlign    = Channels * BitsPerSample / 8

	// maxDataSize keeps the RIFF chunk size (36 + data) inside a uint32.
	maxDataSize = math.MaxUint32 - 36
)

// Header returns the 44-byte canonical header for dataSize bytes of
// interleaved stereo s16le at sampleRate.
func Header(sampleRate int, dataSize uint32) [HeaderSize]byte {
	var hdr [HeaderSize]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 36+dataSize)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], Channels)
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(sampleRate*BlockAlign))
	binary.LittleEndian.PutUint16(hdr[32:34], BlockAlign)
	binary.LittleEndian.PutUint16(hdr[34:36], BitsPerSample)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], dataSize)
	return hdr
}

func dataSize(left, right []float32, sampleRate int) (uint32, error) {
	if len(left) != len(right) {
		return 0, fmt.Errorf("%w: channel lengths differ (%d vs %d)", therapy.ErrEncodingFailure, len(left), len(right))
	}
	if sampleRate <= 0 || int64(sampleRate)*BlockAlign > math.MaxUint32 {
		return 0, fmt.Errorf("%w: invalid sample rate %d", therapy.ErrEncodingFailure, sampleRate)
	}
	size := int64(len(left)) * BlockAlign
	if size > maxDataSize {
		return 0, fmt.Errorf("%w: %d bytes of PCM exceeds the RIFF size limit", therapy.ErrEncodingFailure, size)
	}
	return uint32(size), nil
}

// Encode returns the complete file contents.
func Encode(left, right []float32, sampleRate int) ([]byte, error) {
	size, err := dataSize(left, right, sampleRate)
	if err != nil {
		return nil, err
	}
	out := make([]byte, HeaderSize+int(size))
	hdr := Header(sampleRate, size)
	copy(out, hdr[:])
	putSamples(out[HeaderSize:], left, right)
	return out, nil
}

func putSamples(dst []byte, left, right []float32) {
	for i := range left {
		binary.LittleEndian.PutUint16(dst[i*4:], uint16(audio.FloatToInt16(float64(left[i]))))
		binary.LittleEndian.PutUint16(dst[i*4+2:], uint16(audio.FloatToInt16(float64(right[i]))))
	}
}

// Write streams the encoded file to w without holding it all in memory.
func Write(w io.Writer, left, right []float32, sampleRate int) error {
	size, err := dataSize(left, right, sampleRate)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(w, 64*1024)
	hdr := Header(sampleRate, size)
	if _, err := bw.Write(hdr[:]); err != nil {
		return fmt.Errorf("%w: write header: %v", therapy.ErrEncodingFailure, err)
	}

	const frames = 4096
	block := make([]byte, frames*BlockAlign)
	for off := 0; off < len(left); off += frames {
		end := min(off+frames, len(left))
		n := (end - off) * BlockAlign
		putSamples(block[:n], left[off:end], right[off:end])
		if _, err := bw.Write(block[:n]); err != nil {
			return fmt.Errorf("%w: write samples: %v", therapy.ErrEncodingFailure, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: flush: %v", therapy.ErrEncodingFailure, err)
	}
	return nil
}

// WriteFile writes the file at path via a temporary file in the same
// directory, so path either holds a complete file or is untouched.
func WriteFile(path string, left, right []float32, sampleRate int) error {
	if _, err := dataSize(left, right, sampleRate); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", therapy.ErrEncodingFailure, err)
	}
	tmp := f.Name()

	if err := Write(f, left, right, sampleRate); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: close: %v", therapy.ErrEncodingFailure, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: rename: %v", therapy.ErrEncodingFailure, err)
	}
	return nil
}

// Decode parses a canonical file produced by Encode.
func Decode(data []byte) (left, right []float32, sampleRate int, err error) {
	if len(data) < HeaderSize {
		return nil, nil, 0, fmt.Errorf("wav: short header (%d bytes)", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" || string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		return nil, nil, 0, fmt.Errorf("wav: not a canonical PCM file")
	}
	if format := binary.LittleEndian.Uint16(data[20:22]); format != 1 {
		return nil, nil, 0, fmt.Errorf("wav: unsupported format tag %d", format)
	}
	if ch := binary.LittleEndian.Uint16(data[22:24]); ch != Channels {
		return nil, nil, 0, fmt.Errorf("wav: %d channels, want %d", ch, Channels)
	}
	if bits := binary.LittleEndian.Uint16(data[34:36]); bits != BitsPerSample {
		return nil, nil, 0, fmt.Errorf("wav: %d bits per sample, want %d", bits, BitsPerSample)
	}
	sampleRate = int(binary.LittleEndian.Uint32(data[24:28]))
	size := int64(binary.LittleEndian.Uint32(data[40:44]))
	if size > int64(len(data)-HeaderSize) || size%BlockAlign != 0 {
		return nil, nil, 0, fmt.Errorf("wav: data size %d does not fit %d payload bytes", size, len(data)-HeaderSize)
	}

	n := int(size / BlockAlign)
	left = make([]float32, n)
	right = make([]float32, n)
	pcm := data[HeaderSize:]
	for i := range n {
		left[i] = float32(audio.Int16ToFloat(int16(binary.LittleEndian.Uint16(pcm[i*4:]))))
		right[i] = float32(audio.Int16ToFloat(int16(binary.LittleEndian.Uint16(pcm[i*4+2:]))))
	}
	return left, right, sampleRate, nil
}
