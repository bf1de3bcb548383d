package ffmpeg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressParser_Parse(t *testing.T) {
	var p ProgressParser

	_, advanced := p.Parse("Input #0, matroska,webm, from 'movie.mkv':")
	assert.False(t, advanced)

	got, advanced := p.Parse("  Duration: 00:02:00.00, start: 0.000000, bitrate: 5120 kb/s")
	assert.False(t, advanced)
	assert.Equal(t, 2*time.Minute, got.Duration)

	got, advanced = p.Parse("frame=  720 fps=360 q=-1.0 size=   10240kB time=00:00:30.00 bitrate=2796.2kbits/s speed=15x")
	assert.True(t, advanced)
	assert.Equal(t, 30*time.Second, got.Position)
	assert.Equal(t, 2*time.Minute, got.Duration)

	// Same position again does not advance.
	_, advanced = p.Parse("frame=  721 fps=360 q=-1.0 size=   10240kB time=00:00:30.00 bitrate=2796.2kbits/s")
	assert.False(t, advanced)

	got, advanced = p.Parse("size=   20480kB time=01:01:01.50 bitrate=2796.2kbits/s")
	assert.True(t, advanced)
	assert.Equal(t, time.Hour+time.Minute+time.Second+500*time.Millisecond, got.Position)
}

func TestProgressParser_DurationNotAvailable(t *testing.T) {
	var p ProgressParser

	got, _ := p.Parse("  Duration: N/A, start: 0.000000, bitrate: N/A")
	assert.Zero(t, got.Duration)

	got, advanced := p.Parse("time=00:00:10.00")
	assert.True(t, advanced)
	assert.Zero(t, got.Duration)
	assert.Equal(t, -1, got.Percent(0))
}

func TestProgress_Percent(t *testing.T) {
	tests := []struct {
		name     string
		progress Progress
		total    time.Duration
		want     int
	}{
		{"quarter", Progress{Position: 30 * time.Second}, 2 * time.Minute, 25},
		{"rounds", Progress{Position: 1001 * time.Millisecond}, 2 * time.Second, 50},
		{"falls back to parsed duration", Progress{Duration: 100 * time.Second, Position: 75 * time.Second}, 0, 75},
		{"known total wins", Progress{Duration: 10 * time.Second, Position: 5 * time.Second}, 20 * time.Second, 25},
		{"overshoot not clamped", Progress{Position: 130 * time.Second}, 2 * time.Minute, 108},
		{"unknown", Progress{Position: 5 * time.Second}, 0, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.progress.Percent(tt.total))
		})
	}
}

func TestProgressWriter_SplitsCarriageReturns(t *testing.T) {
	var positions []time.Duration
	w := newProgressWriter(func(p Progress) {
		positions = append(positions, p.Position)
	})

	// Progress lines arrive split across writes and terminated by \r.
	_, _ = w.Write([]byte("  Duration: 00:01:40.00, start: 0.0\n"))
	_, _ = w.Write([]byte("frame=1 time=00:00:"))
	_, _ = w.Write([]byte("25.00 bitrate=1\rframe=2 time=00:00:50.00 bitrate=1\r"))
	_, _ = w.Write([]byte("Error while decoding stream #0:1\n"))
	_, _ = w.Write([]byte("time=00:01:15.00"))
	w.flush()

	assert.Equal(t, []time.Duration{25 * time.Second, 50 * time.Second, 75 * time.Second}, positions)
	assert.Contains(t, w.Tail(), "Error while decoding stream #0:1")
	assert.NotContains(t, w.Tail(), "time=")
}

func TestProgressWriter_TailIsBounded(t *testing.T) {
	w := newProgressWriter(nil)
	for i := 0; i < stderrTailLines*2; i++ {
		_, _ = w.Write([]byte("warning line\n"))
	}
	_, _ = w.Write([]byte("last line\n"))

	assert.Contains(t, w.Tail(), "last line")
	assert.Len(t, w.tail, stderrTailLines)
}
