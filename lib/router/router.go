// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

// Package router implements the message router (spec §4.7, component
// C7): bounded per-instance inbound queues feeding each worker's
// socket, with retrying delivery and dead-letter logging on
// persistent failure.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/agoctl/ago/lib/agoerr"
	"github.com/agoctl/ago/lib/identity"
	"github.com/agoctl/ago/lib/wire"
	"github.com/google/uuid"
)

// Defaults per spec §4.7.
const (
	DefaultQueueCapacity = 1024
	backoffBase          = 100 * time.Millisecond
	backoffCap           = 2 * time.Second
	maxDeliveryAttempts  = 5
)

// Deliverer sends one message to instance id's worker socket, naming
// the sender so the recipient can tag the entry with the right Role.
// The router calls this from its background delivery goroutine; a
// concrete implementation dials the worker's Unix socket and writes a
// Request{Op: send} frame, but the router itself knows nothing about
// transport — it is handed this function at construction so it stays
// testable without a real socket.
type Deliverer func(ctx context.Context, id identity.ID, from, message string) error

// Message is one plain-text payload destined for an instance's inbox.
// Per spec §4.7, router messages carry no nested envelope — the
// worker's conversation log records the sender and timestamp itself
// once the message is appended as an incoming entry.
type Message struct {
	ID      string
	From    string
	Payload string
}

type instanceQueue struct {
	ch chan Message
}

// Router owns one bounded channel per live instance and a background
// goroutine per instance that drains it, retrying failed deliveries
// with exponential backoff before dead-lettering.
type Router struct {
	mu       sync.Mutex
	queues   map[identity.ID]*instanceQueue
	capacity int

	deliver Deliverer
	logger  *slog.Logger
}

// New constructs a Router with the default queue capacity. deliver is
// called by each instance's drain goroutine to actually hand a message
// to the worker.
func New(deliver Deliverer, logger *slog.Logger) *Router {
	return &Router{
		queues:   make(map[identity.ID]*instanceQueue),
		capacity: DefaultQueueCapacity,
		deliver:  deliver,
		logger:   logger,
	}
}

// Open creates the inbound queue for id and starts its drain
// goroutine. Called by the control server's create handler once Spawn
// has returned a Ready worker. ctx bounds the drain goroutine's
// lifetime: the goroutine returns only when ctx is cancelled.
func (r *Router) Open(ctx context.Context, id identity.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.queues[id]; exists {
		return
	}
	q := &instanceQueue{ch: make(chan Message, r.capacity)}
	r.queues[id] = q
	go r.drain(ctx, id, q)
}

// Close removes id's queue from the router, so later Enqueue calls for
// id fail with NoSuchAgent. It does not stop the drain goroutine or
// empty the channel: messages already queued are still delivered, with
// retries, until the ctx given to Open is cancelled.
func (r *Router) Close(id identity.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queues, id)
}

// Enqueue places msg on id's inbound queue without blocking. Returns
// a QueueFull [agoerr.Error] immediately if the queue is at capacity
// (spec §4.7: senders are never blocked by a congested recipient) and
// NoSuchAgent if id has no open queue.
func (r *Router) Enqueue(id identity.ID, msg Message) error {
	r.mu.Lock()
	q, ok := r.queues[id]
	r.mu.Unlock()
	if !ok {
		return agoerr.New(agoerr.NoSuchAgent, "no open inbound queue for instance %s", id)
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	select {
	case q.ch <- msg:
		return nil
	default:
		return agoerr.New(agoerr.QueueFull, "inbound queue for instance %s is full (capacity %d)", id, r.capacity)
	}
}

// Depth reports the number of messages currently queued for id, for
// the `queues` CLI command (spec §6).
func (r *Router) Depth(id identity.ID) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[id]
	if !ok {
		return 0, false
	}
	return len(q.ch), true
}

// drain delivers queued messages to id's worker one at a time,
// retrying each with exponential backoff before giving up and
// dead-lettering it to the log. Strict per-instance ordering falls
// out of draining a single channel sequentially.
func (r *Router) drain(ctx context.Context, id identity.ID, q *instanceQueue) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-q.ch:
			if !ok {
				return
			}
			r.deliverWithRetry(ctx, id, msg)
		}
	}
}

func (r *Router) deliverWithRetry(ctx context.Context, id identity.ID, msg Message) {
	backoff := backoffBase
	var lastErr error

	for attempt := 1; attempt <= maxDeliveryAttempts; attempt++ {
		err := r.deliver(ctx, id, msg.From, msg.Payload)
		if err == nil {
			return
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}

		r.logger.Warn("message delivery failed, retrying",
			"instance", id, "attempt", attempt, "max_attempts", maxDeliveryAttempts, "error", err)

		if attempt == maxDeliveryAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}

	r.logger.Error("dead-lettering message after exhausting delivery attempts",
		"instance", id, "message_id", msg.ID, "from", msg.From, "attempts", maxDeliveryAttempts, "error", lastErr)
}

// SocketDeliverer returns a [Deliverer] that dials socketPath(id) and
// writes a framed send Request carrying payload, per the wire protocol
// in lib/wire. This is the concrete deliverer cmd/agod wires into
// [New] for production use.
func SocketDeliverer(socketPath func(identity.ID) string, dial func(ctx context.Context, network, address string) (net.Conn, error)) Deliverer {
	return func(ctx context.Context, id identity.ID, from, payload string) error {
		conn, err := dial(ctx, "unix", socketPath(id))
		if err != nil {
			return fmt.Errorf("router: dialing instance %s: %w", id, err)
		}
		defer conn.Close()

		args, err := wire.EncodeSendArgs(from, payload)
		if err != nil {
			return fmt.Errorf("router: encoding send args: %w", err)
		}
		if err := wire.WriteFrame(conn, wire.KindRequest, wire.Request{Op: wire.OpSend, Args: args}); err != nil {
			return fmt.Errorf("router: writing frame to instance %s: %w", id, err)
		}
		kind, body, err := wire.ReadFrame(conn)
		if err != nil {
			return fmt.Errorf("router: reading response from instance %s: %w", id, err)
		}
		if kind != wire.KindResponse {
			return fmt.Errorf("router: unexpected frame kind %v from instance %s", kind, id)
		}
		var resp wire.Response
		if err := wire.Decode(body, &resp); err != nil {
			return fmt.Errorf("router: decoding response from instance %s: %w", id, err)
		}
		if resp.Status != wire.StatusOK {
			return fmt.Errorf("router: instance %s rejected message: %s", id, resp.ErrorMessage)
		}
		return nil
	}
}
