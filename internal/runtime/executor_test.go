package runtime

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesOutput(t *testing.T) {
	r := NewCommandRunner()

	out, err := r.Run(context.Background(), "", "sh", "-c", "echo hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Errorf("expected hello, got %q", out)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	r := NewCommandRunner()

	out, err := r.Run(context.Background(), "", "sh", "-c", "echo oops; exit 3")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(out, "oops") {
		t.Errorf("expected captured output, got %q", out)
	}
	if !strings.Contains(err.Error(), "oops") {
		t.Errorf("error should carry the diagnostic text, got %v", err)
	}
}

func TestRunHonorsContextTimeout(t *testing.T) {
	r := NewCommandRunner()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Run(ctx, "", "sleep", "5")
	if err == nil {
		t.Fatal("expected error from timed-out command")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("command was not killed by context timeout")
	}
}

func TestRunStreamOrdering(t *testing.T) {
	r := NewCommandRunner()

	var got []string
	sink := SinkFunc(func(line string) { got = append(got, line) })

	out, err := r.RunStream("", sink, "sh", "-c", "echo A; sleep 0.05; echo B; sleep 0.05; echo C")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"A", "B", "C"}
	if len(got) != len(want) {
		t.Fatalf("expected %d lines, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	if out != "A\nB\nC" {
		t.Errorf("expected joined output, got %q", out)
	}
}

func TestRunStreamFailureReportedAfterExit(t *testing.T) {
	r := NewCommandRunner()

	var got []string
	sink := SinkFunc(func(line string) { got = append(got, line) })

	_, err := r.RunStream("", sink, "sh", "-c", "echo partial; exit 1")
	if err == nil {
		t.Fatal("expected error for failing command")
	}
	if len(got) != 1 || got[0] != "partial" {
		t.Errorf("lines produced before failure must still reach the sink, got %v", got)
	}
}

func TestRunStreamSurvivesPanickingSink(t *testing.T) {
	r := NewCommandRunner()

	sink := SinkFunc(func(line string) { panic("sink failed") })

	// Must not panic and must still reap the process.
	out, err := r.RunStream("", sink, "sh", "-c", "echo A; echo B")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "A\nB" {
		t.Errorf("expected full output despite sink failure, got %q", out)
	}
}

func TestParseJSONLinesSkipsMalformed(t *testing.T) {
	output := `{"ID":"abc","Names":"web"}
not json at all
{"ID":"def","Names":"db"}

{"broken": `

	records := DecodeJSONLines(output)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0]["ID"] != "abc" || records[1]["ID"] != "def" {
		t.Errorf("unexpected records: %v", records)
	}
}

func TestParseJSONLinesEmpty(t *testing.T) {
	if records := DecodeJSONLines(""); len(records) != 0 {
		t.Fatalf("expected no records, got %v", records)
	}
}
