package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// Device is one enumerable audio input.
type Device struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Loopback bool   `json:"loopback"`
}

// DeviceLister enumerates capture devices. The recovery controller
// re-enumerates after a device-missing failure; the control plane and
// CLI expose the same listing to operators.
type DeviceLister interface {
	List(ctx context.Context) ([]Device, error)
}

// NewDeviceLister enumerates through the given capture binary and
// input API, for callers that do not hold a full Manager.
func NewDeviceLister(bin, api string, logger *slog.Logger) DeviceLister {
	if logger == nil {
		logger = slog.Default()
	}
	return &ffmpegDeviceLister{bin: bin, api: api, logger: logger}
}

type ffmpegDeviceLister struct {
	bin    string
	api    string
	logger *slog.Logger
}

func (l *ffmpegDeviceLister) List(ctx context.Context) ([]Device, error) {
	var args []string
	switch l.api {
	case "avfoundation":
		args = []string{"-f", "avfoundation", "-list_devices", "true", "-i", ""}
	case "dshow":
		args = []string{"-f", "dshow", "-list_devices", "true", "-i", "dummy"}
	default:
		args = []string{"-sources", l.api}
	}

	// ffmpeg exits non-zero after listing because no real input was
	// given; the listing itself still lands on the diagnostic stream.
	out, err := exec.CommandContext(ctx, l.bin, args...).CombinedOutput()
	if len(out) == 0 && err != nil {
		return nil, fmt.Errorf("device enumeration failed: %w", err)
	}

	devices := ParseDevices(string(out), l.api)
	l.logger.Debug("devices enumerated", "api", l.api, "count", len(devices))
	return devices, nil
}

var (
	avfEntryRe  = regexp.MustCompile(`\[(\d+)\]\s+(.+)$`)
	dshowNameRe = regexp.MustCompile(`"([^"]+)"`)
)

// ParseDevices extracts audio inputs from the capture tool's listing
// output. Each platform API prints a different shape; all of them are
// line-oriented.
func ParseDevices(output, api string) []Device {
	switch api {
	case "avfoundation":
		return parseAVFoundation(output)
	case "dshow":
		return parseDShow(output)
	default:
		return parseSources(output)
	}
}

// parseAVFoundation reads the "[index] Name" entries under the audio
// devices section.
func parseAVFoundation(output string) []Device {
	var devices []Device
	inAudio := false
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "video devices") {
			inAudio = false
			continue
		}
		if strings.Contains(lower, "audio devices") {
			inAudio = true
			continue
		}
		if !inAudio {
			continue
		}
		if match := avfEntryRe.FindStringSubmatch(line); match != nil {
			idx, err := strconv.Atoi(match[1])
			if err != nil {
				continue
			}
			name := strings.TrimSpace(match[2])
			devices = append(devices, Device{Index: idx, Name: name, Loopback: isLoopbackName(name)})
		}
	}
	return devices
}

// parseDShow reads quoted device names under the audio devices
// section, skipping the "Alternative name" aliases.
func parseDShow(output string) []Device {
	var devices []Device
	inAudio := false
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "video devices") {
			inAudio = false
			continue
		}
		if strings.Contains(lower, "audio devices") {
			inAudio = true
			continue
		}
		if !inAudio || strings.Contains(lower, "alternative name") {
			continue
		}
		if match := dshowNameRe.FindStringSubmatch(line); match != nil {
			name := match[1]
			devices = append(devices, Device{Index: len(devices), Name: name, Loopback: isLoopbackName(name)})
		}
	}
	return devices
}

// parseSources reads `-sources` output: one device per line, name
// first, human description bracketed.
func parseSources(output string) []Device {
	var devices []Device
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Auto-detected") {
			continue
		}
		name := line
		if i := strings.IndexByte(line, ' '); i > 0 {
			name = line[:i]
		}
		name = strings.TrimPrefix(name, "*") // default-source marker
		devices = append(devices, Device{Index: len(devices), Name: name, Loopback: isLoopbackName(line)})
	}
	return devices
}

// isLoopbackName guesses whether a device captures system output
// rather than a microphone.
func isLoopbackName(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range []string{"monitor", "loopback", "blackhole", "stereo mix", "soundflower", "virtual"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
