package ffmpeg

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FFmpeg reports the input length once near the start of its output:
//
//	Duration: 00:02:00.04, start: 0.000000, bitrate: 5120 kb/s
//
// and then rewrites a status line (terminated by \r) while encoding:
//
//	frame= 1200 fps=600 q=-1.0 size=  10240kB time=00:00:50.01 bitrate=...
var (
	durationRegex = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	timeRegex     = regexp.MustCompile(`time=\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
)

// Progress is a snapshot of encoder position.
// Duration is zero until the encoder has reported the input length.
type Progress struct {
	Duration time.Duration
	Position time.Duration
}

// Percent returns position as a rounded percentage of total, or -1 when total is unknown.
// The result is not clamped.
func (p Progress) Percent(total time.Duration) int {
	if total <= 0 {
		total = p.Duration
	}
	if total <= 0 {
		return -1
	}
	return int(float64(p.Position)/float64(total)*100 + 0.5)
}

// ProgressParser extracts duration and position from encoder diagnostic lines.
type ProgressParser struct {
	duration time.Duration
	position time.Duration
}

// Parse consumes one line and returns the current progress.
// The boolean is true when the line advanced the reported position.
func (p *ProgressParser) Parse(line string) (Progress, bool) {
	if p.duration == 0 {
		if m := durationRegex.FindStringSubmatch(line); m != nil {
			p.duration = parseClock(m[1], m[2], m[3])
		}
	}

	advanced := false
	if m := timeRegex.FindStringSubmatch(line); m != nil {
		pos := parseClock(m[1], m[2], m[3])
		if pos != p.position {
			p.position = pos
			advanced = true
		}
	}

	return Progress{Duration: p.duration, Position: p.position}, advanced
}

func parseClock(hours, mins, secs string) time.Duration {
	h, _ := strconv.Atoi(hours)
	m, _ := strconv.Atoi(mins)
	s, _ := strconv.ParseFloat(secs, 64)
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s*float64(time.Second))
}

// stderrTailLines is how many non-progress lines are kept for error reports.
const stderrTailLines = 8

// progressWriter receives the encoder's stderr, splits it on \r and \n,
// feeds the parser and remembers the last diagnostic lines.
type progressWriter struct {
	mu         sync.Mutex
	parser     ProgressParser
	onProgress func(Progress)
	partial    []byte
	tail       []string
}

func newProgressWriter(onProgress func(Progress)) *progressWriter {
	return &progressWriter{onProgress: onProgress}
}

// Write implements io.Writer.
func (w *progressWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, b...)
	for {
		i := bytes.IndexAny(w.partial, "\r\n")
		if i < 0 {
			break
		}
		line := string(w.partial[:i])
		w.partial = w.partial[i+1:]
		w.handleLine(line)
	}
	return len(b), nil
}

// flush processes any trailing line without a terminator.
func (w *progressWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.handleLine(string(w.partial))
		w.partial = nil
	}
}

func (w *progressWriter) handleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	progress, advanced := w.parser.Parse(line)
	if advanced && w.onProgress != nil {
		w.onProgress(progress)
	}
	if strings.Contains(line, "time=") {
		return
	}

	w.tail = append(w.tail, line)
	if len(w.tail) > stderrTailLines {
		w.tail = w.tail[len(w.tail)-stderrTailLines:]
	}
}

// Tail returns the last diagnostic lines joined by "; ".
func (w *progressWriter) Tail() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.Join(w.tail, "; ")
}
