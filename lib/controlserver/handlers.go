// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

package controlserver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agoctl/ago/lib/agoerr"
	"github.com/agoctl/ago/lib/codec"
	"github.com/agoctl/ago/lib/config"
	"github.com/agoctl/ago/lib/identity"
	"github.com/agoctl/ago/lib/processmgr"
	"github.com/agoctl/ago/lib/router"
	"github.com/agoctl/ago/lib/template"
	"github.com/agoctl/ago/lib/wire"
)

// logTailPoll is how often a --follow handler checks its source for
// new content. Polling rather than fsnotify keeps this dependency-free
// for a concern (tailing a local file on an already-known growth
// pattern) simple enough that inotify machinery would be overkill —
// see DESIGN.md for the full justification.
const logTailPoll = 250 * time.Millisecond

// Dispatcher wires every control-server [Handler] to the daemon's core
// components: instance identity, the process manager, the message
// router, the template registry, and the config store. cmd/agod
// constructs one of these and registers its methods on a
// [*controlserver.Server].
type Dispatcher struct {
	Index      *identity.Index
	Registry   *identity.Registry
	Processes  *processmgr.Manager
	Router     *router.Router
	Templates  *template.Registry
	Config     *config.Store
	WorkerBin  string
	// ConfigPath is passed to every spawned worker as its -config flag;
	// the worker loads the same merged configuration the daemon serves.
	ConfigPath string
	// PulledTemplatesDir is where handlePull materializes a resolved
	// template's source file for the pulled layer, since no remote
	// registry transport exists to fetch one from scratch.
	PulledTemplatesDir string
	Logger             *slog.Logger

	// Shutdown is called by the shutdown handler to begin daemon
	// teardown; cmd/agod supplies the actual cancel function for its
	// top-level context.
	Shutdown func()
}

// Register attaches every operation's handler to server.
func (d *Dispatcher) Register(server *Server) {
	server.Handle(wire.OpPing, d.handlePing)
	server.Handle(wire.OpCreate, d.handleCreate)
	server.Handle(wire.OpRun, d.handleRun)
	server.Handle(wire.OpPS, d.handlePS)
	server.Handle(wire.OpInspect, d.handleInspect)
	server.Handle(wire.OpSend, d.handleSend)
	server.Handle(wire.OpStop, d.handleStop)
	server.Handle(wire.OpTemplates, d.handleTemplates)
	server.Handle(wire.OpPull, d.handlePull)
	server.Handle(wire.OpConfig, d.handleConfig)
	server.Handle(wire.OpRegistry, d.handleRegistry)
	server.Handle(wire.OpShutdown, d.handleShutdown)
	server.Handle(wire.OpLogs, d.handleLogs)
	server.Handle(wire.OpQueues, d.handleQueues)
	server.Handle(wire.OpChat, d.handleChat)
}

func errResponse(err error) wire.Response {
	kind, ok := agoerr.KindOf(err)
	if !ok {
		kind = agoerr.SocketIO
	}
	return wire.Response{Status: wire.StatusError, ErrorKind: string(kind), ErrorMessage: err.Error()}
}

func okResponse(payload any) wire.Response {
	if payload == nil {
		return wire.Response{Status: wire.StatusOK}
	}
	data, err := codec.Marshal(payload)
	if err != nil {
		return errResponse(agoerr.Wrap(agoerr.DecodeFailure, err))
	}
	return wire.Response{Status: wire.StatusOK, Payload: data}
}

func encodeLogEntry(line string) (wire.Event, error) {
	payload, err := codec.Marshal(struct {
		Line string `cbor:"line"`
	}{line})
	if err != nil {
		return wire.Event{}, fmt.Errorf("encoding log-entry event: %w", err)
	}
	return wire.Event{Kind: wire.EventLogEntry, Payload: payload}, nil
}

func encodeTurnEvent(kind wire.EventKind, text string) (wire.Event, error) {
	payload, err := codec.Marshal(struct {
		Text string `cbor:"text"`
	}{text})
	if err != nil {
		return wire.Event{}, fmt.Errorf("encoding %s event: %w", kind, err)
	}
	return wire.Event{Kind: kind, Payload: payload}, nil
}

// encodeTailLine turns one line read from an instance's log file into
// the Event a tail should send, and reports whether it closes out a
// turn. A turn-marker line (written by the worker itself via
// wire.EncodeTurnMarker) becomes a turn-complete/turn-truncated event;
// anything else is a plain log-entry line.
func encodeTailLine(line string) (event wire.Event, terminal bool, err error) {
	if kind, text, ok := wire.ParseTurnMarker(line); ok {
		event, err = encodeTurnEvent(kind, text)
		terminal = kind == wire.EventTurnComplete || kind == wire.EventTurnTruncated
		return event, terminal, err
	}
	event, err = encodeLogEntry(line)
	return event, false, err
}

func encodeQueueSnapshot(instanceID string, depth int) (wire.Event, error) {
	payload, err := codec.Marshal(struct {
		InstanceID string `cbor:"instance_id"`
		Depth      int    `cbor:"depth"`
	}{instanceID, depth})
	if err != nil {
		return wire.Event{}, fmt.Errorf("encoding queue-snapshot event: %w", err)
	}
	return wire.Event{Kind: wire.EventQueueSnapshot, Payload: payload}, nil
}

func (d *Dispatcher) handlePing(_ Stream, _ wire.Request) wire.Response {
	return wire.Response{Status: wire.StatusOK}
}

// resolveTarget resolves a client-supplied name or full instance ID
// to a live instance ID, preferring an exact-ID match (spec §4.4's
// fast path for callers that already have the full ID) before falling
// back to name resolution.
func (d *Dispatcher) resolveTarget(target string) (identity.ID, error) {
	if d.Index.ResolveExact(identity.ID(target)) {
		return identity.ID(target), nil
	}
	return d.Index.Resolve(target)
}

func (d *Dispatcher) handleCreate(_ Stream, req wire.Request) wire.Response {
	var args wire.CreateArgs
	if err := wire.DecodeArgs(req, &args); err != nil {
		return errResponse(agoerr.Wrap(agoerr.DecodeFailure, err))
	}

	if _, err := d.Templates.Resolve(args.TemplateName); err != nil {
		return errResponse(err)
	}

	name := args.InstanceName
	if name == "" {
		name = args.TemplateName
	}

	id, err := identity.Mint(args.TemplateName, func(candidate identity.ID) bool {
		return d.Index.ResolveExact(candidate)
	})
	if err != nil {
		return errResponse(agoerr.Wrap(agoerr.SpawnFailed, err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), processmgr.DefaultStartupTimeout+5*time.Second)
	defer cancel()

	if _, err := d.Processes.Spawn(ctx, id, args.TemplateName, d.WorkerBin, d.ConfigPath); err != nil {
		return errResponse(err)
	}

	d.Index.Add(name, id)
	if name != args.TemplateName {
		d.Index.Add(args.TemplateName, id)
	}
	d.Router.Open(context.Background(), id)

	return okResponse(wire.CreateResult{InstanceID: string(id)})
}

// handleRun is `create` plus an immediate `chat` upgrade in one round
// trip, per spec §6's convenience wrapper. It delegates instance
// creation to handleCreate and then behaves exactly like handleChat.
func (d *Dispatcher) handleRun(stream Stream, req wire.Request) wire.Response {
	created := d.handleCreate(stream, req)
	if created.Status != wire.StatusOK {
		return created
	}

	var result wire.CreateResult
	if err := wire.Decode(created.Payload, &result); err != nil {
		return errResponse(agoerr.Wrap(agoerr.DecodeFailure, err))
	}

	return d.streamChat(stream, identity.ID(result.InstanceID), "")
}

func (d *Dispatcher) handlePS(_ Stream, _ wire.Request) wire.Response {
	var instances []wire.InstanceSummary
	for _, child := range d.Processes.List() {
		instances = append(instances, wire.InstanceSummary{
			InstanceID:   string(child.InstanceID),
			TemplateName: child.TemplateName,
			State:        string(child.State()),
			PID:          child.PID,
		})
	}
	return okResponse(wire.PSResult{Instances: instances})
}

func (d *Dispatcher) handleInspect(_ Stream, req wire.Request) wire.Response {
	var args wire.TargetArgs
	if err := wire.DecodeArgs(req, &args); err != nil {
		return errResponse(agoerr.Wrap(agoerr.DecodeFailure, err))
	}
	id, err := d.resolveTarget(args.Target)
	if err != nil {
		return errResponse(err)
	}
	child, ok := d.Processes.Get(id)
	if !ok {
		return errResponse(agoerr.New(agoerr.NoSuchAgent, "instance %s is not running", id))
	}
	return okResponse(wire.InstanceSummary{
		InstanceID:   string(child.InstanceID),
		TemplateName: child.TemplateName,
		State:        string(child.State()),
		PID:          child.PID,
	})
}

func (d *Dispatcher) handleSend(_ Stream, req wire.Request) wire.Response {
	var args wire.SendArgs
	if err := wire.DecodeArgs(req, &args); err != nil {
		return errResponse(agoerr.Wrap(agoerr.DecodeFailure, err))
	}
	id, err := d.resolveTarget(args.InstanceID)
	if err != nil {
		return errResponse(err)
	}
	if err := d.Router.Enqueue(id, router.Message{From: args.From, Payload: args.Message}); err != nil {
		return errResponse(err)
	}
	d.mirrorOutgoing(args.From, string(id), args.Message)
	return okResponse(nil)
}

// mirrorOutgoing records payload in from's own conversation log as an
// outgoing entry, so a sending instance's own log shows what it sent
// and to whom, not just what it received. from being empty or "cli"
// means the message originated outside any running instance, so there
// is nothing to mirror it onto. Best effort: a failure here never
// fails the send that already succeeded.
func (d *Dispatcher) mirrorOutgoing(from, to, message string) {
	if from == "" || from == "cli" {
		return
	}
	fromID, err := d.resolveTarget(from)
	if err != nil {
		d.Logger.Warn("mirroring outgoing message: resolving sender", "from", from, "error", err)
		return
	}
	child, ok := d.Processes.Get(fromID)
	if !ok {
		d.Logger.Warn("mirroring outgoing message: sender not running", "from", from)
		return
	}

	conn, err := net.Dial("unix", child.SocketPath)
	if err != nil {
		d.Logger.Warn("mirroring outgoing message: dialing sender", "from", from, "error", err)
		return
	}
	defer conn.Close()

	args, err := codec.Marshal(wire.RecordOutgoingArgs{To: to, Message: message})
	if err != nil {
		d.Logger.Warn("mirroring outgoing message: encoding args", "from", from, "error", err)
		return
	}
	if err := wire.WriteFrame(conn, wire.KindRequest, wire.Request{Op: wire.OpRecordOutgoing, Args: args}); err != nil {
		d.Logger.Warn("mirroring outgoing message: writing frame", "from", from, "error", err)
		return
	}
	if _, _, err := wire.ReadFrame(conn); err != nil {
		d.Logger.Warn("mirroring outgoing message: reading response", "from", from, "error", err)
	}
}

func (d *Dispatcher) handleStop(_ Stream, req wire.Request) wire.Response {
	var args wire.StopArgs
	if err := wire.DecodeArgs(req, &args); err != nil {
		return errResponse(agoerr.Wrap(agoerr.DecodeFailure, err))
	}

	ctx, cancel := context.WithTimeout(context.Background(),
		processmgr.DefaultGracePeriod+processmgr.DefaultKillTimeout+5*time.Second)
	defer cancel()

	if args.All {
		for _, child := range d.Processes.List() {
			if err := d.Processes.Stop(ctx, child.InstanceID); err != nil {
				d.Logger.Error("stopping instance during stop --all", "instance", child.InstanceID, "error", err)
			}
			d.Router.Close(child.InstanceID)
		}
		return okResponse(nil)
	}

	id, err := d.resolveTarget(args.Target)
	if err != nil {
		return errResponse(err)
	}
	if err := d.Processes.Stop(ctx, id); err != nil {
		return errResponse(err)
	}
	d.Router.Close(id)
	return okResponse(nil)
}

func (d *Dispatcher) handleTemplates(_ Stream, _ wire.Request) wire.Response {
	summaries, err := d.Templates.List()
	if err != nil {
		return errResponse(agoerr.Wrap(agoerr.BadTemplate, err))
	}
	return okResponse(struct {
		Templates []template.Summary `cbor:"templates"`
	}{summaries})
}

// handlePull has no real registry transport to fetch a template from,
// so it resolves the name against whatever layer already has it
// (local or builtin) and materializes a copy into the pulled layer.
// This satisfies `pull` then `templates`/`inspect` round-tripping
// without pretending to reach a remote registry that doesn't exist.
func (d *Dispatcher) handlePull(_ Stream, req wire.Request) wire.Response {
	var args wire.PullArgs
	if err := wire.DecodeArgs(req, &args); err != nil {
		return errResponse(agoerr.Wrap(agoerr.DecodeFailure, err))
	}

	source, err := d.Templates.Resolve(args.Template)
	if err != nil {
		return errResponse(err)
	}
	if err := d.materializePulled(source); err != nil {
		return errResponse(agoerr.Wrap(agoerr.SpawnFailed, err))
	}
	return okResponse(nil)
}

// materializePulled copies source's on-disk file into
// d.PulledTemplatesDir, keyed by template name, so the pulled layer
// resolves it on the next lookup.
func (d *Dispatcher) materializePulled(source *template.Template) error {
	if d.PulledTemplatesDir == "" {
		return fmt.Errorf("controlserver: no pulled templates directory configured")
	}
	if err := os.MkdirAll(d.PulledTemplatesDir, 0o755); err != nil {
		return fmt.Errorf("creating pulled templates directory: %w", err)
	}

	data, err := os.ReadFile(source.SourcePath)
	if err != nil {
		return fmt.Errorf("reading resolved template: %w", err)
	}

	dest := filepath.Join(d.PulledTemplatesDir, source.Name+filepath.Ext(source.SourcePath))
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("writing pulled template: %w", err)
	}
	return nil
}

func (d *Dispatcher) handleConfig(_ Stream, req wire.Request) wire.Response {
	var args wire.ConfigArgs
	if err := wire.DecodeArgs(req, &args); err != nil {
		return errResponse(agoerr.Wrap(agoerr.DecodeFailure, err))
	}

	switch args.Action {
	case "show":
		return okResponse(d.Config.Get())
	case "get":
		value, err := configGet(d.Config.Get(), args.Key)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(wire.ConfigValue{Value: value})
	case "set":
		if err := d.applyConfigSet(args.Key, args.Value); err != nil {
			return errResponse(err)
		}
		return okResponse(nil)
	default:
		return errResponse(agoerr.New(agoerr.ConfigInvalid, "unknown config action %q", args.Action))
	}
}

// configGet reads a single key out of cfg, the counterpart to
// applyConfigSet, so `config get <key>` round-trips with `config set
// <key> <value>` instead of always dumping the whole merged config.
func configGet(cfg *config.Config, key string) (string, error) {
	switch key {
	case "default_model":
		return cfg.DefaultModel, nil
	case "template_resolution_order":
		return strings.Join(cfg.TemplateResolutionOrder, ","), nil
	default:
		return "", agoerr.New(agoerr.ConfigInvalid, "unknown config key %q", key)
	}
}

func (d *Dispatcher) applyConfigSet(key, value string) error {
	switch key {
	case "default_model":
		return d.Config.SetDefaultModel(value)
	case "template_resolution_order":
		return d.Config.SetTemplateResolutionOrder(strings.Split(value, ","))
	default:
		return agoerr.New(agoerr.ConfigInvalid, "unknown config key %q", key)
	}
}

func (d *Dispatcher) handleRegistry(_ Stream, req wire.Request) wire.Response {
	var args wire.RegistryArgs
	if err := wire.DecodeArgs(req, &args); err != nil {
		return errResponse(agoerr.Wrap(agoerr.DecodeFailure, err))
	}

	switch args.Action {
	case "list":
		entries := make([]wire.RegistryEntryView, 0, len(d.Config.Get().Registries))
		for _, entry := range d.Config.Get().Registries {
			entries = append(entries, wire.RegistryEntryView{
				Name: entry.Name, URL: entry.URL, Kind: string(entry.Kind),
				Priority: entry.Priority, Enabled: entry.Enabled,
			})
		}
		return okResponse(wire.RegistryListResult{Entries: entries})
	case "add":
		if args.Name == "" {
			return errResponse(agoerr.New(agoerr.ConfigInvalid, "registry add requires a name"))
		}
		entry := config.RegistryEntry{
			Name: args.Name, URL: args.URL, Kind: config.RegistryKind(args.Kind),
			Priority: args.Priority, Enabled: true,
		}
		if err := d.Config.SetRegistry(entry); err != nil {
			return errResponse(agoerr.Wrap(agoerr.ConfigInvalid, err))
		}
		return okResponse(nil)
	case "remove":
		if args.Name == "" {
			return errResponse(agoerr.New(agoerr.ConfigInvalid, "registry remove requires a name"))
		}
		if err := d.Config.RemoveRegistry(args.Name); err != nil {
			return errResponse(agoerr.Wrap(agoerr.ConfigInvalid, err))
		}
		return okResponse(nil)
	default:
		return errResponse(agoerr.New(agoerr.ConfigInvalid, "unknown registry action %q", args.Action))
	}
}

func (d *Dispatcher) handleShutdown(_ Stream, _ wire.Request) wire.Response {
	if d.Shutdown != nil {
		go d.Shutdown()
	}
	return okResponse(nil)
}

func (d *Dispatcher) handleLogs(stream Stream, req wire.Request) wire.Response {
	var args wire.LogsArgs
	if err := wire.DecodeArgs(req, &args); err != nil {
		return errResponse(agoerr.Wrap(agoerr.DecodeFailure, err))
	}
	id, err := d.resolveTarget(args.Target)
	if err != nil {
		return errResponse(err)
	}
	child, ok := d.Processes.Get(id)
	if !ok {
		return errResponse(agoerr.New(agoerr.NoSuchAgent, "instance %s is not running", id))
	}

	var from int64
	if args.Tail > 0 {
		data, err := os.ReadFile(child.LogPath)
		if err != nil {
			return errResponse(agoerr.Wrap(agoerr.SocketIO, err))
		}
		for i, lines := len(data)-2, 0; i >= 0 && from == 0; i-- {
			if data[i] == '\n' {
				if lines++; lines == args.Tail {
					from = int64(i + 1)
				}
			}
		}
	}

	if err := tailFile(stream, child.LogPath, from, args.Follow, false); err != nil {
		return errResponse(agoerr.Wrap(agoerr.SocketIO, err))
	}
	return okResponse(nil)
}

func (d *Dispatcher) handleQueues(stream Stream, req wire.Request) wire.Response {
	var args wire.QueuesArgs
	if err := wire.DecodeArgs(req, &args); err != nil {
		return errResponse(agoerr.Wrap(agoerr.DecodeFailure, err))
	}

	emit := func() error {
		for _, child := range d.Processes.List() {
			depth, _ := d.Router.Depth(child.InstanceID)
			event, err := encodeQueueSnapshot(string(child.InstanceID), depth)
			if err != nil {
				return err
			}
			if err := stream.Send(event); err != nil {
				return err
			}
		}
		return nil
	}

	if err := emit(); err != nil {
		return errResponse(agoerr.Wrap(agoerr.SocketIO, err))
	}
	if !args.Follow {
		return okResponse(nil)
	}

	ticker := time.NewTicker(logTailPoll * 4)
	defer ticker.Stop()
	for {
		select {
		case <-stream.Context().Done():
			return okResponse(nil)
		case <-ticker.C:
			if err := emit(); err != nil {
				return errResponse(agoerr.Wrap(agoerr.SocketIO, err))
			}
		}
	}
}

func (d *Dispatcher) handleChat(stream Stream, req wire.Request) wire.Response {
	var args wire.ChatArgs
	if err := wire.DecodeArgs(req, &args); err != nil {
		return errResponse(agoerr.Wrap(agoerr.DecodeFailure, err))
	}
	id, err := d.resolveTarget(args.Target)
	if err != nil {
		return errResponse(err)
	}
	return d.streamChat(stream, id, args.Message)
}

// streamChat enqueues message (if non-empty) to id's inbound queue,
// then follows its log file from the point it was at just before
// enqueueing, emitting each new line as an Event, until the worker
// signals turn-complete/turn-truncated or the client disconnects.
// Starting from that offset (rather than the start of the file)
// keeps a chat against an instance with prior history from replaying
// — and prematurely ending the stream on — an earlier turn's marker.
func (d *Dispatcher) streamChat(stream Stream, id identity.ID, message string) wire.Response {
	child, ok := d.Processes.Get(id)
	if !ok {
		return errResponse(agoerr.New(agoerr.NoSuchAgent, "instance %s is not running", id))
	}

	offset, err := fileSize(child.LogPath)
	if err != nil {
		return errResponse(agoerr.Wrap(agoerr.SocketIO, err))
	}

	if message != "" {
		if err := d.Router.Enqueue(id, router.Message{From: "cli", Payload: message}); err != nil {
			return errResponse(err)
		}
	}

	if err := tailFile(stream, child.LogPath, offset, true, true); err != nil {
		return errResponse(agoerr.Wrap(agoerr.SocketIO, err))
	}
	return okResponse(wire.CreateResult{InstanceID: string(id)})
}

// fileSize returns path's current size, or 0 if it doesn't exist yet
// (a brand-new instance may not have written its log file at all).
func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("statting log file: %w", err)
	}
	return info.Size(), nil
}

// tailFile streams lines appended to path, starting from byte offset
// from, as Events. If follow is false it reads to the current EOF and
// returns; if true it keeps polling until either the stream's context
// is cancelled or, when stopOnTurnEnd is set, a turn-complete or
// turn-truncated marker line arrives.
func tailFile(stream Stream, path string, from int64, follow, stopOnTurnEnd bool) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer file.Close()

	if from > 0 {
		if _, err := file.Seek(from, io.SeekStart); err != nil {
			return fmt.Errorf("seeking log file: %w", err)
		}
	}

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			event, terminal, encErr := encodeTailLine(line)
			if encErr != nil {
				return encErr
			}
			if sendErr := stream.Send(event); sendErr != nil {
				return sendErr
			}
			if terminal && stopOnTurnEnd {
				return nil
			}
		}
		if err != nil {
			if err != io.EOF {
				return fmt.Errorf("reading log file: %w", err)
			}
			if !follow {
				return nil
			}
			select {
			case <-stream.Context().Done():
				return nil
			case <-time.After(logTailPoll):
			}
		}
	}
}
