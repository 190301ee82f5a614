package transcribe

import (
	"regexp"
	"strings"
)

// Whisper-family CLIs decorate their text output in several ways that
// must never reach the accumulation buffer: ANSI color sequences when
// confidence coloring slips through, timestamp ranges in bracketed and
// bare forms, speaker diarization labels, confidence annotations, and
// bracketed noise markers for non-speech audio.
var (
	ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

	// [00:00:00.000 --> 00:00:05.000] and the SRT comma variant, with
	// and without surrounding brackets.
	bracketTimestampRe = regexp.MustCompile(`\[\d{2}:\d{2}:\d{2}[.,]\d{3}\s*-->\s*\d{2}:\d{2}:\d{2}[.,]\d{3}\]`)
	bareTimestampRe    = regexp.MustCompile(`\d{2}:\d{2}:\d{2}[.,]\d{3}\s*-->\s*\d{2}:\d{2}:\d{2}[.,]\d{3}`)

	// "Speaker 1:", "SPEAKER_00:", "(speaker 2):" at segment starts.
	speakerRe = regexp.MustCompile(`(?im)^[\s(]*speaker[ _]?\d+[)\s]*:\s*`)

	// "(confidence: 0.87)", "(p=0.95)", "[87%]".
	confidenceRe  = regexp.MustCompile(`\((?i:confidence|p)\s*[=:]\s*[0-9.]+\)`)
	percentRe     = regexp.MustCompile(`\[\d{1,3}%\]`)
	noiseMarkerRe = regexp.MustCompile(`\[(?i:BLANK_AUDIO|MUSIC|APPLAUSE|LAUGHTER|INAUDIBLE|NOISE|CROSSTALK|SILENCE)\]`)
	noiseParenRe  = regexp.MustCompile(`\([^)]*(?i:music|noise|applause|laughter)[^)]*\)`)

	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Clean runs the deterministic text-cleaning pass over raw engine
// output. It is idempotent and safe on already-clean text.
func Clean(text string) string {
	if text == "" {
		return ""
	}

	text = ansiRe.ReplaceAllString(text, "")
	text = bracketTimestampRe.ReplaceAllString(text, "")
	text = bareTimestampRe.ReplaceAllString(text, "")
	text = speakerRe.ReplaceAllString(text, "")
	text = confidenceRe.ReplaceAllString(text, "")
	text = percentRe.ReplaceAllString(text, "")
	text = noiseMarkerRe.ReplaceAllString(text, "")
	text = noiseParenRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}
