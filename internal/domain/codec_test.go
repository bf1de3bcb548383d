package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNeedsConversion(t *testing.T) {
	tests := []struct {
		video string
		audio string
		want  bool
	}{
		{"h264", "aac", false},
		{"hevc", "aac", true},
		{"h264", "dts", true},
		{"unknown", "unknown", false},
		{"vp9", "opus", false},
		{"av1", "flac", false},
		{"vp8", "vorbis", false},
		{"avc", "mp3", false},
		{"hevc", "eac3", true},
		{"mpeg2video", "ac3", true},
		{"H264", "AAC", false}, // case insensitive
		{"HEVC", "aac", true},
		{"", "aac", false},
		{"hevc", "", false},
		{"unknown", "truehd", false},
		{"hevc", "unknown", false},
		{" h264 ", "aac", false},
	}

	for _, tt := range tests {
		t.Run(tt.video+"/"+tt.audio, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsConversion(tt.video, tt.audio))
		})
	}
}

func TestMediaItem_NeedsConversion(t *testing.T) {
	item := &MediaItem{VideoCodec: "hevc", AudioCodec: "eac3"}
	assert.True(t, item.NeedsConversion())

	item.VideoCodec = "h264"
	item.AudioCodec = "aac"
	assert.False(t, item.NeedsConversion())
}
