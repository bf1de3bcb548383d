package domain

import "strings"

// CodecUnknown is reported by the scanner when a stream could not be probed.
const CodecUnknown = "unknown"

// BrowserVideoCodecs lists video codecs that browsers decode natively.
// Several aliases are included because probes report the same codec under different names.
var BrowserVideoCodecs = map[string]bool{
	"h264": true,
	"avc":  true,
	"avc1": true,
	"vp8":  true,
	"vp9":  true,
	"av1":  true,
}

// BrowserAudioCodecs lists audio codecs that browsers decode natively.
var BrowserAudioCodecs = map[string]bool{
	"aac":    true,
	"mp3":    true,
	"opus":   true,
	"vorbis": true,
	"flac":   true,
}

// NeedsConversion returns true if either codec is outside the browser allow-lists.
// An empty or unknown codec on either side is treated optimistically: direct
// playback is attempted instead of forcing a transcode.
func NeedsConversion(videoCodec, audioCodec string) bool {
	video := strings.ToLower(strings.TrimSpace(videoCodec))
	audio := strings.ToLower(strings.TrimSpace(audioCodec))

	if video == "" || video == CodecUnknown || audio == "" || audio == CodecUnknown {
		return false
	}

	return !BrowserVideoCodecs[video] || !BrowserAudioCodecs[audio]
}
