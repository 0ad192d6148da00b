// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package controlserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/agoctl/ago/lib/config"
	"github.com/agoctl/ago/lib/template"
	"github.com/agoctl/ago/lib/wire"
)

func TestEncodeTailLineRecognizesTurnMarker(t *testing.T) {
	t.Parallel()

	line := wire.EncodeTurnMarker(wire.EventTurnComplete, "all done") + "\n"
	event, terminal, err := encodeTailLine(line)
	if err != nil {
		t.Fatalf("encodeTailLine: %v", err)
	}
	if !terminal {
		t.Fatal("terminal = false, want true for a turn-complete marker")
	}
	if event.Kind != wire.EventTurnComplete {
		t.Errorf("event.Kind = %v, want EventTurnComplete", event.Kind)
	}
}

func TestEncodeTailLinePassesThroughPlainLines(t *testing.T) {
	t.Parallel()

	event, terminal, err := encodeTailLine("assistant: hello\n")
	if err != nil {
		t.Fatalf("encodeTailLine: %v", err)
	}
	if terminal {
		t.Fatal("terminal = true for a plain conversation line")
	}
	if event.Kind != wire.EventLogEntry {
		t.Errorf("event.Kind = %v, want EventLogEntry", event.Kind)
	}
}

func TestTailFileStopsAtTurnMarkerWhenStopOnTurnEnd(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "instance.log")
	content := "assistant: thinking\n" +
		wire.EncodeTurnMarker(wire.EventTurnComplete, "done") + "\n" +
		"assistant: should not be seen\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing log file: %v", err)
	}

	stream := newFakeStream()
	if err := tailFile(stream, path, 0, true, true); err != nil {
		t.Fatalf("tailFile: %v", err)
	}

	if len(stream.events) != 2 {
		t.Fatalf("events = %d, want 2 (log line + turn-complete)", len(stream.events))
	}
	if stream.events[0].Kind != wire.EventLogEntry {
		t.Errorf("events[0].Kind = %v, want EventLogEntry", stream.events[0].Kind)
	}
	if stream.events[1].Kind != wire.EventTurnComplete {
		t.Errorf("events[1].Kind = %v, want EventTurnComplete", stream.events[1].Kind)
	}
}

func TestTailFileSeeksFromOffset(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "instance.log")
	prior := wire.EncodeTurnMarker(wire.EventTurnComplete, "earlier turn") + "\n"
	if err := os.WriteFile(path, []byte(prior), 0o644); err != nil {
		t.Fatalf("writing log file: %v", err)
	}

	offset, err := fileSize(path)
	if err != nil {
		t.Fatalf("fileSize: %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("opening for append: %v", err)
	}
	if _, err := f.WriteString("assistant: new turn's answer\n"); err != nil {
		t.Fatalf("appending: %v", err)
	}
	f.Close()

	stream := newFakeStream()
	if err := tailFile(stream, path, offset, false, true); err != nil {
		t.Fatalf("tailFile: %v", err)
	}

	if len(stream.events) != 1 {
		t.Fatalf("events = %d, want 1 (only the line appended after the offset)", len(stream.events))
	}
	if stream.events[0].Kind != wire.EventLogEntry {
		t.Errorf("events[0].Kind = %v, want EventLogEntry, not a replayed turn marker", stream.events[0].Kind)
	}
}

func TestConfigGetSetRoundTrips(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	globalPath := filepath.Join(dir, "config.yaml")
	localPath := filepath.Join(dir, "local.yaml")
	store, err := config.NewStore(globalPath, localPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	d := &Dispatcher{Config: store}

	if err := d.applyConfigSet("default_model", "claude-opus"); err != nil {
		t.Fatalf("applyConfigSet: %v", err)
	}
	got, err := configGet(d.Config.Get(), "default_model")
	if err != nil {
		t.Fatalf("configGet: %v", err)
	}
	if got != "claude-opus" {
		t.Errorf("default_model = %q, want claude-opus", got)
	}

	if err := d.applyConfigSet("template_resolution_order", "local,pulled,builtin"); err != nil {
		t.Fatalf("applyConfigSet: %v", err)
	}
	got, err = configGet(d.Config.Get(), "template_resolution_order")
	if err != nil {
		t.Fatalf("configGet: %v", err)
	}
	if got != "local,pulled,builtin" {
		t.Errorf("template_resolution_order = %q, want local,pulled,builtin", got)
	}

	if _, err := configGet(d.Config.Get(), "nonsense"); err == nil {
		t.Fatal("configGet with an unknown key should fail")
	}
}

func TestMaterializePulledCopiesResolvedTemplate(t *testing.T) {
	t.Parallel()

	sourceDir := t.TempDir()
	sourcePath := filepath.Join(sourceDir, "scout.yaml")
	body := "name: scout\nmodel: claude-haiku\nprompt: find things\n"
	if err := os.WriteFile(sourcePath, []byte(body), 0o644); err != nil {
		t.Fatalf("writing source template: %v", err)
	}
	source, err := template.Load(sourcePath)
	if err != nil {
		t.Fatalf("template.Load: %v", err)
	}

	pulledDir := filepath.Join(t.TempDir(), "pulled")
	d := &Dispatcher{PulledTemplatesDir: pulledDir}
	if err := d.materializePulled(source); err != nil {
		t.Fatalf("materializePulled: %v", err)
	}

	dest := filepath.Join(pulledDir, "scout.yaml")
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading materialized template: %v", err)
	}
	if string(data) != body {
		t.Errorf("materialized content = %q, want %q", data, body)
	}
}

// fakeStream is a minimal [Stream] double for testing tailFile and
// the other helpers in this file without a real control socket.
type fakeStream struct {
	events []wire.Event
}

func newFakeStream() *fakeStream {
	return &fakeStream{}
}

func (f *fakeStream) Send(event wire.Event) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeStream) Context() context.Context {
	return context.Background()
}
