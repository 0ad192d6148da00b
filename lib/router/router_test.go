// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agoctl/ago/lib/agoerr"
	"github.com/agoctl/ago/lib/identity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestEnqueueDeliversInOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var delivered []string

	r := New(func(ctx context.Context, id identity.ID, from, payload string) error {
		mu.Lock()
		delivered = append(delivered, payload)
		mu.Unlock()
		return nil
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Open(ctx, "researcher-aaaaaaaa")
	for _, msg := range []string{"one", "two", "three"} {
		if err := r.Enqueue("researcher-aaaaaaaa", Message{From: "cli", Payload: msg}); err != nil {
			t.Fatalf("Enqueue(%q): %v", msg, err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(delivered)
		mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for delivery, got %v", delivered)
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"one", "two", "three"}
	for i, w := range want {
		if delivered[i] != w {
			t.Errorf("delivered[%d] = %q, want %q", i, delivered[i], w)
		}
	}
}

func TestEnqueueUnknownInstance(t *testing.T) {
	t.Parallel()
	r := New(func(context.Context, identity.ID, string, string) error { return nil }, testLogger())

	err := r.Enqueue("nobody-aaaaaaaa", Message{Payload: "hi"})
	if !agoerr.Is(err, agoerr.NoSuchAgent) {
		t.Fatalf("err = %v, want NoSuchAgent", err)
	}
}

func TestEnqueueQueueFull(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	r := New(func(ctx context.Context, id identity.ID, from, payload string) error {
		<-block
		return nil
	}, testLogger())
	r.capacity = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer close(block)

	r.Open(ctx, "researcher-aaaaaaaa")

	// First message gets picked up by drain immediately and blocks on
	// deliver; the second fills the capacity-1 channel; the third must
	// observe QueueFull.
	if err := r.Enqueue("researcher-aaaaaaaa", Message{Payload: "first"}); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	time.Sleep(20 * time.Millisecond) // let drain pick up "first"
	if err := r.Enqueue("researcher-aaaaaaaa", Message{Payload: "second"}); err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}

	err := r.Enqueue("researcher-aaaaaaaa", Message{Payload: "third"})
	if !agoerr.Is(err, agoerr.QueueFull) {
		t.Fatalf("err = %v, want QueueFull", err)
	}
}

// TestDeliveryRetriesThenSucceeds covers the exponential-backoff retry
// path: a deliverer that fails twice then succeeds must not
// dead-letter the message.
func TestDeliveryRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	delivered := make(chan struct{})

	r := New(func(ctx context.Context, id identity.ID, from, payload string) error {
		n := attempts.Add(1)
		if n < 3 {
			return errTransient
		}
		close(delivered)
		return nil
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Open(ctx, "researcher-aaaaaaaa")
	if err := r.Enqueue("researcher-aaaaaaaa", Message{Payload: "retry-me"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-delivered:
	case <-time.After(3 * time.Second):
		t.Fatal("message was never delivered after transient failures")
	}

	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3", attempts.Load())
	}
}

func TestDeliveryExhaustsAndDeadLetters(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	r := New(func(ctx context.Context, id identity.ID, from, payload string) error {
		attempts.Add(1)
		return errTransient
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Open(ctx, "researcher-aaaaaaaa")
	if err := r.Enqueue("researcher-aaaaaaaa", Message{Payload: "doomed"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		if attempts.Load() == maxDeliveryAttempts {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("attempts = %d, want %d before timeout", attempts.Load(), maxDeliveryAttempts)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestCloseStopsAcceptingMessages(t *testing.T) {
	t.Parallel()
	r := New(func(context.Context, identity.ID, string, string) error { return nil }, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Open(ctx, "researcher-aaaaaaaa")
	r.Close("researcher-aaaaaaaa")

	err := r.Enqueue("researcher-aaaaaaaa", Message{Payload: "late"})
	if !agoerr.Is(err, agoerr.NoSuchAgent) {
		t.Fatalf("err = %v, want NoSuchAgent after Close", err)
	}
}

var errTransient = &transientError{}

type transientError struct{}

func (*transientError) Error() string { return "transient delivery failure" }
