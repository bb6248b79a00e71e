package display

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"xfer/pkg/transfer"
)

type mockTask struct {
	lastPercent int
	lastMsg     string
	updates     int
}

func (m *mockTask) Log(msg string)                      {}
func (m *mockTask) SetStage(name string, target string) {}
func (m *mockTask) Progress(percent int, message string) {
	m.lastPercent = percent
	m.lastMsg = message
	m.updates++
}
func (m *mockTask) Done() {}

func TestDescribe(t *testing.T) {
	got := Describe(transfer.Progress{Transferred: 1000, Total: 2000}, time.Second)
	if got != "1.0 kB / 2.0 kB (1.0 kB/s)" {
		t.Errorf("Unexpected description: %q", got)
	}

	got = Describe(transfer.Progress{Transferred: 1000, Total: transfer.UnknownTotal}, time.Second)
	if got != "1.0 kB downloaded" {
		t.Errorf("Unexpected description: %q", got)
	}
}

func TestWatch(t *testing.T) {
	ch := transfer.NewChannel(8)
	ch.Progress(transfer.Progress{Transferred: 512, Total: 1024})
	ch.Entry(transfer.DirEntry{Name: "pub", Kind: transfer.Directory})
	ch.Progress(transfer.Progress{Transferred: 1024, Total: 1024})
	ch.Finish(transfer.Outcome{Result: transfer.Result{Transferred: 1024}})

	task := &mockTask{}
	var names []string
	out, err := Watch(context.Background(), ch, task, func(e transfer.DirEntry) {
		names = append(names, e.Name)
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if !out.Success() || out.Transferred != 1024 {
		t.Errorf("Unexpected outcome: %+v", out)
	}
	if task.updates != 2 || task.lastPercent != 100 {
		t.Errorf("Expected 2 updates ending at 100%%, got %d at %d", task.updates, task.lastPercent)
	}
	if len(names) != 1 || names[0] != "pub" {
		t.Errorf("Unexpected entries: %v", names)
	}
}

func TestWatchFailure(t *testing.T) {
	ch := transfer.NewChannel(8)
	ch.Finish(transfer.Outcome{Err: transfer.NewError(transfer.KindCancelled, "get", errors.New("stop"))})

	buf := &bytes.Buffer{}
	d := NewWriterDisplay(buf)
	task := d.StartTask("Fail")
	defer task.Done()

	out, err := Watch(context.Background(), ch, task, nil)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	if !errors.Is(out.Err, transfer.ErrCancelled) {
		t.Errorf("Expected cancelled outcome, got %v", out.Err)
	}
	if !strings.Contains(buf.String(), "[Fail]") {
		t.Errorf("Expected task line, got: %q", buf.String())
	}
}
