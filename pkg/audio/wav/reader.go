package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"
)

// Header represents a WAV file header
type Header struct {
	ChunkSize     uint32
	SampleRate    uint32
	NumChannels   uint16
	BitsPerSample uint16
	DataSize      uint32
}

// ByteRate returns the number of audio bytes per second of playback.
func (h Header) ByteRate() uint32 {
	return h.SampleRate * uint32(h.NumChannels) * uint32(h.BitsPerSample) / 8
}

// Reader reads WAV file headers and computes durations. It tolerates
// files that are still being written: capture processes backpatch the
// RIFF and data sizes only on clean shutdown, so a live file carries a
// zero or bogus DataSize while PCM bytes keep arriving after the header.
type Reader struct {
	file      *os.File
	header    Header
	dataStart int64
}

// NewReader opens a WAV file and parses its header
func NewReader(filename string) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}

	reader := &Reader{file: file}
	if err := reader.readHeader(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	return reader, nil
}

// Header returns the WAV file header information
func (r *Reader) Header() Header {
	return r.header
}

// Duration returns the audio length based on the bytes actually present
// in the file. The header's DataSize is trusted only when it is
// consistent with the file size; otherwise everything after the data
// chunk header counts, which is the correct reading for a live capture
// file.
func (r *Reader) Duration() (time.Duration, error) {
	info, err := r.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat WAV file: %w", err)
	}

	available := info.Size() - r.dataStart
	if available < 0 {
		available = 0
	}

	dataBytes := int64(r.header.DataSize)
	if dataBytes == 0 || dataBytes == int64(^uint32(0)) || dataBytes > available {
		dataBytes = available
	}

	byteRate := int64(r.header.ByteRate())
	if byteRate == 0 {
		return 0, fmt.Errorf("WAV header has zero byte rate")
	}

	return time.Duration(dataBytes * int64(time.Second) / byteRate), nil
}

// Close closes the WAV file
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Duration opens a WAV file, computes its duration from header math and
// file size, and closes it. This is the fallback path when ffprobe is
// unavailable or fails to parse a file.
func Duration(filename string) (time.Duration, error) {
	r, err := NewReader(filename)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return r.Duration()
}

// readHeader reads and validates the WAV file header
func (r *Reader) readHeader() error {
	var riffHeader [12]byte
	if _, err := io.ReadFull(r.file, riffHeader[:]); err != nil {
		return fmt.Errorf("failed to read RIFF header: %w", err)
	}

	if string(riffHeader[0:4]) != "RIFF" {
		return fmt.Errorf("not a valid RIFF file")
	}
	if string(riffHeader[8:12]) != "WAVE" {
		return fmt.Errorf("not a valid WAVE file")
	}

	r.header.ChunkSize = binary.LittleEndian.Uint32(riffHeader[4:8])

	if err := r.readFmtChunk(); err != nil {
		return err
	}
	if err := r.readDataChunk(); err != nil {
		return err
	}

	if r.header.BitsPerSample != 16 {
		return fmt.Errorf("only 16-bit samples are supported, got %d-bit", r.header.BitsPerSample)
	}
	if r.header.NumChannels != 1 && r.header.NumChannels != 2 {
		return fmt.Errorf("only mono and stereo are supported, got %d channels", r.header.NumChannels)
	}
	if r.header.SampleRate != 16000 && r.header.SampleRate != 48000 {
		return fmt.Errorf("only 16kHz and 48kHz sample rates are supported, got %dHz", r.header.SampleRate)
	}

	return nil
}

// readFmtChunk scans chunks until it finds and parses "fmt "
func (r *Reader) readFmtChunk() error {
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r.file, chunkHeader[:]); err != nil {
			return fmt.Errorf("failed to read chunk header: %w", err)
		}

		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		if chunkID == "fmt " {
			if chunkSize < 16 {
				return fmt.Errorf("fmt chunk too small: %d bytes", chunkSize)
			}

			var fmtData [16]byte
			if _, err := io.ReadFull(r.file, fmtData[:]); err != nil {
				return fmt.Errorf("failed to read fmt data: %w", err)
			}

			audioFormat := binary.LittleEndian.Uint16(fmtData[0:2])
			if audioFormat != 1 {
				return fmt.Errorf("only PCM format is supported, got format %d", audioFormat)
			}

			r.header.NumChannels = binary.LittleEndian.Uint16(fmtData[2:4])
			r.header.SampleRate = binary.LittleEndian.Uint32(fmtData[4:8])
			r.header.BitsPerSample = binary.LittleEndian.Uint16(fmtData[14:16])

			if chunkSize > 16 {
				if _, err := r.file.Seek(int64(chunkSize-16), io.SeekCurrent); err != nil {
					return fmt.Errorf("failed to skip fmt data: %w", err)
				}
			}

			return nil
		}

		if _, err := r.file.Seek(int64(chunkSize), io.SeekCurrent); err != nil {
			return fmt.Errorf("failed to skip chunk: %w", err)
		}
	}
}

// readDataChunk finds the data chunk and records where audio data starts
func (r *Reader) readDataChunk() error {
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r.file, chunkHeader[:]); err != nil {
			return fmt.Errorf("failed to read chunk header: %w", err)
		}

		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		if chunkID == "data" {
			r.header.DataSize = chunkSize
			pos, err := r.file.Seek(0, io.SeekCurrent)
			if err != nil {
				return fmt.Errorf("failed to locate data start: %w", err)
			}
			r.dataStart = pos
			return nil
		}

		if _, err := r.file.Seek(int64(chunkSize), io.SeekCurrent); err != nil {
			return fmt.Errorf("failed to skip chunk: %w", err)
		}
	}
}
