package wav

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"
)

func writeSine(t *testing.T, rate uint32, channels uint16, durationMs int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	w, err := NewWriter(path, rate, channels, 16)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteSineWave(440, durationMs); err != nil {
		t.Fatalf("WriteSineWave: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestWriteReadRoundTrip(t *testing.T) {
	is := is.New(t)

	path := writeSine(t, 16000, 1, 250)

	r, err := NewReader(path)
	is.NoErr(err)
	defer r.Close()

	h := r.Header()
	is.Equal(h.SampleRate, uint32(16000))
	is.Equal(h.NumChannels, uint16(1))
	is.Equal(h.BitsPerSample, uint16(16))
	is.Equal(h.DataSize, uint32(8000)) // 4000 samples x 2 bytes
	is.Equal(h.ByteRate(), uint32(32000))

	d, err := r.Duration()
	is.NoErr(err)
	is.Equal(d, 250*time.Millisecond)
}

func TestDurationStereo48k(t *testing.T) {
	is := is.New(t)

	path := writeSine(t, 48000, 2, 100)

	d, err := Duration(path)
	is.NoErr(err)
	is.Equal(d, 100*time.Millisecond)
}

// Capture processes backpatch RIFF sizes only on shutdown. Duration must
// still track a file whose header says zero bytes but which keeps
// growing.
func TestDurationLiveFile(t *testing.T) {
	is := is.New(t)

	path := writeSine(t, 16000, 1, 250)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	is.NoErr(err)
	zero := []byte{0, 0, 0, 0}
	_, err = f.WriteAt(zero, 4) // RIFF chunk size
	is.NoErr(err)
	_, err = f.WriteAt(zero, 40) // data size
	is.NoErr(err)

	d, err := Duration(path)
	is.NoErr(err)
	is.Equal(d, 250*time.Millisecond) // falls back to file size

	// More PCM arrives after the stale header.
	extra := make([]byte, 4000)
	_, err = f.Seek(0, io.SeekEnd)
	is.NoErr(err)
	_, err = f.Write(extra)
	is.NoErr(err)
	is.NoErr(f.Close())

	d, err = Duration(path)
	is.NoErr(err)
	is.Equal(d, 375*time.Millisecond)
}

func TestNewReaderRejectsGarbage(t *testing.T) {
	is := is.New(t)

	path := filepath.Join(t.TempDir(), "noise.bin")
	is.NoErr(os.WriteFile(path, []byte("definitely not a riff container"), 0o644))

	_, err := NewReader(path)
	is.True(err != nil)
}
