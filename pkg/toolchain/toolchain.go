// Package toolchain locates the external binaries and model files the
// capture pipeline shells out to: ffmpeg for capture and extraction,
// ffprobe for duration probing, and the whisper CLI plus its acoustic
// model for transcription.
//
// Resolution happens once at startup. Binaries degrade gracefully to a
// bare command name (resolved through PATH at spawn time); the model is
// a hard requirement and Resolve fails when it cannot be found.
package toolchain

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Well-known env overrides, checked before any directory search.
const (
	EnvFFmpeg  = "ICP_FFMPEG"
	EnvFFprobe = "ICP_FFPROBE"
	EnvWhisper = "ICP_WHISPER"
	EnvModel   = "ICP_WHISPER_MODEL"
)

// DefaultModelName is the file Resolve looks for when ICP_WHISPER_MODEL
// is not set.
const DefaultModelName = "ggml-base.en.bin"

// Toolchain holds resolved paths. Binary fields may be bare command
// names when no absolute candidate was found.
type Toolchain struct {
	FFmpeg  string
	FFprobe string
	Whisper string
	Model   string
}

// Resolver resolves a Toolchain. The zero value uses the real
// environment and filesystem; tests override the func fields to inject
// deterministic behavior.
type Resolver struct {
	// Lookup reads an environment variable. Nil means os.LookupEnv.
	Lookup func(string) (string, bool)
	// Stat checks a candidate path. Nil means os.Stat.
	Stat func(string) (os.FileInfo, error)
	// Executable returns the running binary's path, used to find the
	// bundled resource directory. Nil means os.Executable.
	Executable func() (string, error)
	// GOOS overrides the platform for directory conventions. Empty
	// means runtime.GOOS.
	GOOS string
}

// Resolve locates all four tools. Binaries fall back to bare names; a
// missing model is fatal.
func (r Resolver) Resolve() (Toolchain, error) {
	r = r.withDefaults()
	tc := r.resolveBinaries()

	model, err := r.model()
	if err != nil {
		return Toolchain{}, err
	}
	tc.Model = model
	return tc, nil
}

// ResolveBinaries locates only the executables, for commands that
// never transcribe. It cannot fail; binaries degrade to bare names.
func (r Resolver) ResolveBinaries() Toolchain {
	return r.withDefaults().resolveBinaries()
}

func (r Resolver) withDefaults() Resolver {
	if r.Lookup == nil {
		r.Lookup = os.LookupEnv
	}
	if r.Stat == nil {
		r.Stat = os.Stat
	}
	if r.Executable == nil {
		r.Executable = os.Executable
	}
	if r.GOOS == "" {
		r.GOOS = runtime.GOOS
	}
	return r
}

func (r Resolver) resolveBinaries() Toolchain {
	return Toolchain{
		FFmpeg:  r.binary(EnvFFmpeg, "ffmpeg"),
		FFprobe: r.binary(EnvFFprobe, "ffprobe"),
		Whisper: r.binary(EnvWhisper, "whisper-cli"),
	}
}

// binary resolves one executable: env override verbatim, then platform
// directories, then the bundled resource directory, then the bare name.
func (r Resolver) binary(envKey, name string) string {
	if v, ok := r.Lookup(envKey); ok && v != "" {
		return v
	}
	exe := name
	if r.GOOS == "windows" {
		exe = name + ".exe"
	}
	for _, dir := range r.searchDirs() {
		cand := filepath.Join(dir, exe)
		if r.fileExists(cand) {
			return cand
		}
	}
	return name
}

// model resolves the acoustic model file: env override, then the
// bundled models directory, then the user's data directory.
func (r Resolver) model() (string, error) {
	if v, ok := r.Lookup(EnvModel); ok && v != "" {
		if !r.fileExists(v) {
			return "", fmt.Errorf("toolchain: whisper model %q from %s does not exist", v, EnvModel)
		}
		return v, nil
	}
	var dirs []string
	if bundled := r.bundledDir(); bundled != "" {
		dirs = append(dirs, filepath.Join(bundled, "models"))
	}
	if home, ok := r.Lookup("HOME"); ok && home != "" {
		dirs = append(dirs, filepath.Join(home, ".icp", "models"))
	}
	for _, dir := range dirs {
		cand := filepath.Join(dir, DefaultModelName)
		if r.fileExists(cand) {
			return cand, nil
		}
	}
	return "", fmt.Errorf("toolchain: whisper model %s not found (searched %v; set %s)",
		DefaultModelName, dirs, EnvModel)
}

// searchDirs returns the platform-conventional binary directories
// followed by the bundled resource directory.
func (r Resolver) searchDirs() []string {
	var dirs []string
	switch r.GOOS {
	case "darwin":
		dirs = []string{"/opt/homebrew/bin", "/usr/local/bin"}
	case "linux":
		dirs = []string{"/usr/local/bin", "/usr/bin"}
	}
	if bundled := r.bundledDir(); bundled != "" {
		dirs = append(dirs, bundled)
	}
	return dirs
}

// bundledDir is the resources directory shipped next to the running
// binary, or "" when the executable path cannot be determined.
func (r Resolver) bundledDir() string {
	exe, err := r.Executable()
	if err != nil {
		return ""
	}
	return filepath.Join(filepath.Dir(exe), "resources")
}

func (r Resolver) fileExists(path string) bool {
	info, err := r.Stat(path)
	return err == nil && !info.IsDir()
}
