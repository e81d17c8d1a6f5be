package handler

import (
	"bytes"
	"strings"
	"testing"

	"github.com/docker/docker/pkg/stdcopy"
)

func collectLines(t *testing.T, stream *bytes.Buffer, tty bool) []string {
	t.Helper()
	var lines []string
	if err := streamLogLines(stream, tty, func(line []byte) error {
		lines = append(lines, string(line))
		return nil
	}); err != nil {
		t.Fatalf("streaming: %v", err)
	}
	return lines
}

func TestStreamLogLinesDemultiplexesFrames(t *testing.T) {
	var stream bytes.Buffer
	stdout := stdcopy.NewStdWriter(&stream, stdcopy.Stdout)
	stderr := stdcopy.NewStdWriter(&stream, stdcopy.Stderr)

	// a 10-byte payload puts 0x0A in the frame header's size field; naive
	// newline splitting breaks exactly here
	stdout.Write([]byte("123456789\n"))
	stderr.Write([]byte("connection refused\n"))
	// one log line split across two frames
	stdout.Write([]byte("GET /api/stacks "))
	stdout.Write([]byte("200\n"))

	lines := collectLines(t, &stream, false)
	want := []string{"123456789", "connection refused", "GET /api/stacks 200"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Errorf("frames not demultiplexed cleanly:\ngot  %q\nwant %q", lines, want)
	}
}

func TestStreamLogLinesTTYPassthrough(t *testing.T) {
	stream := bytes.NewBufferString("starting server\nready\n")

	lines := collectLines(t, stream, true)
	if len(lines) != 2 || lines[0] != "starting server" || lines[1] != "ready" {
		t.Errorf("tty stream must pass through unframed, got %q", lines)
	}
}
