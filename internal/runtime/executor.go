package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DiagnosticTimeout bounds short blocking commands (version probes, list
// enumerations). Lifecycle commands carry no ceiling; they run to completion
// or to subprocess failure.
const DiagnosticTimeout = 30 * time.Second

// Sink receives line-oriented output from a streaming command in the exact
// order the process produced it.
type Sink interface {
	WriteLine(line string)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(line string)

// WriteLine implements Sink.
func (f SinkFunc) WriteLine(line string) { f(line) }

// Executor runs external commands, capturing output in blocking mode or
// forwarding it line-by-line in streaming mode.
type Executor interface {
	// Run executes a command and returns its combined output. A non-zero
	// exit or start failure yields an error carrying the output text.
	Run(ctx context.Context, dir string, name string, args ...string) (string, error)

	// RunStream executes a command, forwarding every line of combined
	// output to sink as it is produced, and returns the full output after
	// the process exits.
	RunStream(dir string, sink Sink, name string, args ...string) (string, error)
}

// CommandRunner is the concrete Executor backed by os/exec.
type CommandRunner struct{}

// NewCommandRunner creates a CommandRunner.
func NewCommandRunner() *CommandRunner {
	return &CommandRunner{}
}

// Run executes a command and blocks until it exits.
func (r *CommandRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	output, err := cmd.CombinedOutput()
	text := string(output)
	if err != nil {
		return text, fmt.Errorf("%s %s: %s", name, strings.Join(args, " "), firstNonEmpty(strings.TrimSpace(text), err.Error()))
	}
	return text, nil
}

// RunStream starts the process, scans its combined output line-by-line and
// forwards each line to sink immediately; the whole output is never buffered
// before the first line is delivered. The process is reaped on every path,
// including when the sink itself panics.
func (r *CommandRunner) RunStream(dir string, sink Sink, name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	cmd.Stderr = cmd.Stdout // merge stderr into stdout

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}

	var lines []string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		lines = append(lines, line)
		forwardLine(sink, line)
	}
	scanErr := scanner.Err()

	// Always reap the child, even if scanning or the sink failed.
	waitErr := cmd.Wait()

	output := strings.Join(lines, "\n")
	if scanErr != nil {
		return output, fmt.Errorf("%s: reading output: %w", name, scanErr)
	}
	if waitErr != nil {
		return output, fmt.Errorf("%s %s: %s", name, strings.Join(args, " "), firstNonEmpty(lastLine(lines), waitErr.Error()))
	}
	return output, nil
}

// forwardLine shields the subprocess from a faulty sink: a panic in the
// sink must not leave the process unreaped.
func forwardLine(sink Sink, line string) {
	defer func() { recover() }()
	if sink != nil {
		sink.WriteLine(line)
	}
}

// ParseJSONLines parses newline-delimited JSON objects, the runtime's
// machine-readable list format. Malformed lines are skipped, not fatal:
// the runtime interleaves warnings with records and a partial line must
// not poison the whole enumeration.
func ParseJSONLines(output string) []json.RawMessage {
	var records []json.RawMessage
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !json.Valid([]byte(line)) {
			continue
		}
		records = append(records, json.RawMessage(line))
	}
	return records
}

// DecodeJSONLines unmarshals each well-formed line into a map. Lines that
// fail to decode are skipped per the ParseJSONLines contract.
func DecodeJSONLines(output string) []map[string]interface{} {
	var records []map[string]interface{}
	for _, raw := range ParseJSONLines(output) {
		var m map[string]interface{}
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		records = append(records, m)
	}
	return records
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func lastLine(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return strings.TrimSpace(lines[i])
		}
	}
	return ""
}
