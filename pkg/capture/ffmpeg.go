package capture

import (
	"fmt"
	"strconv"
)

// Argument builders for the external tools. These are pure functions
// asserted bit-exact in tests: the capture, probe and extraction
// contracts are what keeps us compatible with stock ffmpeg builds.

// DefaultCaptureAPI returns the ffmpeg input format for a platform's
// native audio capture.
func DefaultCaptureAPI(goos string) string {
	switch goos {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "pulse"
	}
}

// CaptureArgs builds the single-input capture command: mono 16 kHz
// signed 16-bit PCM appended to outputFile until the process stops.
func CaptureArgs(api, device, outputFile string) []string {
	return []string{
		"-y",
		"-f", api,
		"-i", device,
		"-ac", "1",
		"-ar", "16000",
		"-acodec", "pcm_s16le",
		outputFile,
	}
}

// DualCaptureArgs builds the two-input capture command used for the
// BOTH source: system loopback and microphone mixed into one mono
// 16 kHz stream.
func DualCaptureArgs(api, systemDevice, micDevice, outputFile string) []string {
	return []string{
		"-y",
		"-f", api,
		"-i", systemDevice,
		"-f", api,
		"-i", micDevice,
		"-filter_complex", "[0:a][1:a]amix=inputs=2:duration=longest:dropout_transition=0[a]",
		"-map", "[a]",
		"-ac", "1",
		"-ar", "16000",
		"-acodec", "pcm_s16le",
		outputFile,
	}
}

// ProbeArgs builds the duration probe. Stdout is a single
// floating-point seconds value.
func ProbeArgs(file string) []string {
	return []string{
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		file,
	}
}

// ExtractArgs builds the stream-copy window extraction: no re-encode,
// just container math.
func ExtractArgs(input string, startSec, durationSec float64, output string) []string {
	return []string{
		"-y",
		"-i", input,
		"-ss", formatSeconds(startSec),
		"-t", formatSeconds(durationSec),
		"-acodec", "copy",
		output,
	}
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// captureArgsFor maps a session source onto a concrete command line
// using the configured device identifiers.
func captureArgsFor(source Source, api, systemDevice, micDevice, outputFile string) ([]string, error) {
	switch source {
	case SourceInterviewee:
		return CaptureArgs(api, micDevice, outputFile), nil
	case SourceInterviewer, SourceSystem:
		return CaptureArgs(api, systemDevice, outputFile), nil
	case SourceBoth:
		return DualCaptureArgs(api, systemDevice, micDevice, outputFile), nil
	}
	return nil, fmt.Errorf("unknown capture source %q", source)
}
