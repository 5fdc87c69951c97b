package logging

import (
	"bufio"
	"bytes"
	"strings"
	"sync"
)

// Buffer keeps the most recent log lines in memory.
type Buffer struct {
	mu      sync.Mutex
	max     int
	lines   []string
	partial string
	dropped uint64
}

func NewBuffer(maxLines int) *Buffer {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &Buffer{max: maxLines}
}

// Write implements io.Writer, splitting p into lines. A trailing fragment
// without a newline is held until the rest arrives.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := append([]byte(b.partial), p...)
	b.partial = ""

	complete := data
	if i := bytes.LastIndexByte(data, '\n'); i < len(data)-1 {
		b.partial = string(data[i+1:])
		complete = data[:i+1]
	}

	scanner := bufio.NewScanner(bytes.NewReader(complete))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		b.appendLineLocked(scanner.Text())
	}
	return len(p), nil
}

func (b *Buffer) appendLineLocked(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		over := len(b.lines) - b.max
		b.lines = b.lines[over:]
		b.dropped += uint64(over)
	}
}

// Tail returns up to n of the newest lines (200 when n <= 0) and how many
// lines have been evicted so far.
func (b *Buffer) Tail(n int) (lines []string, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 {
		n = 200
	}
	if n > len(b.lines) {
		n = len(b.lines)
	}
	return append([]string(nil), b.lines[len(b.lines)-n:]...), b.dropped
}
