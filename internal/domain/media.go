package domain

import "time"

// MediaItem is a scanned video file tracked by the library.
// The conversion engine only reads the source and codec fields and writes ConvertedPath.
type MediaItem struct {
	ID       int64  `json:"id"`
	FilePath string `json:"file_path"`
	FileName string `json:"file_name"`

	// DurationSeconds is 0 when the scanner could not determine it.
	DurationSeconds float64 `json:"duration_seconds"`

	// Codec names are lowercase; "unknown" when probing failed.
	VideoCodec string `json:"video_codec"`
	AudioCodec string `json:"audio_codec"`

	// ConvertedPath points at a complete, playable output file or is nil.
	// It is never set to a path that is still being written.
	ConvertedPath *string `json:"converted_path,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Duration returns the source duration, or zero when unknown.
func (m *MediaItem) Duration() time.Duration {
	if m.DurationSeconds <= 0 {
		return 0
	}
	return time.Duration(m.DurationSeconds * float64(time.Second))
}

// NeedsConversion reports whether the item's codecs require conversion for browser playback.
func (m *MediaItem) NeedsConversion() bool {
	return NeedsConversion(m.VideoCodec, m.AudioCodec)
}

// HasConvertedPath reports whether a converted output has been recorded.
// It does not check that the file still exists.
func (m *MediaItem) HasConvertedPath() bool {
	return m.ConvertedPath != nil && *m.ConvertedPath != ""
}
