package reporter

import (
	"bytes"
	"testing"
	"time"
)

func TestFormatDurationSeconds(t *testing.T) {
	got := FormatDuration(time.Duration(45.67 * float64(time.Second)))
	if got != "45.67s" {
		t.Fatalf("expected 45.67s, got %q", got)
	}
}

func TestFormatDurationMinutes(t *testing.T) {
	got := FormatDuration(125 * time.Second)
	if got != "2m 5s" {
		t.Fatalf("expected 2m 5s, got %q", got)
	}
}

func TestFormatDurationHours(t *testing.T) {
	got := FormatDuration(3665 * time.Second)
	if got != "1h 1m 5s" {
		t.Fatalf("expected 1h 1m 5s, got %q", got)
	}
}

func TestTaskFailedQuietWritesOnlyStderr(t *testing.T) {
	r := New(false)
	var out, errOut bytes.Buffer
	r.out, r.errOut = &out, &errOut

	r.TaskFailed("demo", "boom")

	if out.Len() != 0 {
		t.Fatalf("expected no stdout output in quiet mode, got %q", out.String())
	}
	if errOut.Len() == 0 {
		t.Fatal("expected stderr output in quiet mode")
	}
}

func TestTaskCompletedVerboseWritesStdout(t *testing.T) {
	r := New(true)
	var out, errOut bytes.Buffer
	r.out, r.errOut = &out, &errOut

	r.TaskRunning("demo", "task-1")
	r.TaskCompleted("demo")

	if out.Len() == 0 {
		t.Fatal("expected stdout output in verbose mode")
	}
}

func TestStartAndFinishProgressNoopWhenQuiet(t *testing.T) {
	r := New(false)
	var out, errOut bytes.Buffer
	r.out, r.errOut = &out, &errOut

	r.StartProgress("working")
	r.FinishProgress("done")

	if out.Len() != 0 {
		t.Fatalf("expected no output in quiet mode, got %q", out.String())
	}
}
