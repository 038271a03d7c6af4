package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"asset-indexer/internal/audit"
	"asset-indexer/internal/catalogue"
	"asset-indexer/internal/logging"
)

// Handler kinds accepted by BuildHandlers.
const (
	KindExec  = "exec"
	KindAudit = "audit"
)

// DefaultExecTimeout bounds a single command run.
const DefaultExecTimeout = 10 * time.Minute

// HandlerSpec is the configured form of a built-in handler.
type HandlerSpec struct {
	Name string
	Kind string
	// Command and Args are run for exec handlers. The asset's absolute path
	// is appended as the last argument.
	Command string
	Args    []string
	// PurgeCommand, if set, is run with the lost asset's path.
	PurgeCommand string
	// Extensions restricts the handler to these file extensions, without the
	// leading dot and case-insensitive. Empty means every file.
	Extensions []string
	// Events restricts the handler to these event types. Empty means all.
	Events []string
	// After lists handlers that must have completed in the same wave.
	After   []string
	Timeout time.Duration
}

// BuildHandlers creates the built-in handlers described by specs.
func BuildHandlers(specs []HandlerSpec, recorder *audit.Writer) ([]Handler, error) {
	out := make([]Handler, 0, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("handler of kind %q has no name", s.Kind)
		}
		f, err := newFilter(s)
		if err != nil {
			return nil, fmt.Errorf("handler %s: %w", s.Name, err)
		}
		switch s.Kind {
		case KindExec:
			if s.Command == "" {
				return nil, fmt.Errorf("handler %s: exec needs a command", s.Name)
			}
			timeout := s.Timeout
			if timeout <= 0 {
				timeout = DefaultExecTimeout
			}
			out = append(out, &ExecHandler{
				name:    s.Name,
				filter:  f,
				command: s.Command,
				args:    s.Args,
				purge:   s.PurgeCommand,
				timeout: timeout,
			})
		case KindAudit:
			if recorder == nil {
				return nil, fmt.Errorf("handler %s: audit trail disabled", s.Name)
			}
			out = append(out, &AuditHandler{name: s.Name, filter: f, recorder: recorder})
		default:
			return nil, fmt.Errorf("handler %s: unknown kind %q", s.Name, s.Kind)
		}
	}
	return out, nil
}

// filter holds the eligibility rules shared by built-in handlers.
type filter struct {
	extensions map[string]bool
	events     map[catalogue.EventType]bool
	after      []string
}

func newFilter(s HandlerSpec) (filter, error) {
	f := filter{after: s.After}
	if len(s.Extensions) > 0 {
		f.extensions = make(map[string]bool, len(s.Extensions))
		for _, ext := range s.Extensions {
			f.extensions[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
		}
	}
	if len(s.Events) > 0 {
		f.events = make(map[catalogue.EventType]bool, len(s.Events))
		for _, e := range s.Events {
			et, err := catalogue.ParseEventType(e)
			if err != nil {
				return filter{}, err
			}
			f.events[et] = true
		}
	}
	return f, nil
}

func (f filter) match(a Asset, event catalogue.EventType) bool {
	if a.Record.Directory {
		return false
	}
	if f.events != nil && !f.events[event] {
		return false
	}
	for _, name := range f.after {
		if !a.Completed.Contains(name) {
			return false
		}
	}
	if f.extensions != nil {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(a.Record.Path), "."))
		if !f.extensions[ext] {
			return false
		}
	}
	return true
}

// ExecHandler runs an external command for each eligible asset.
type ExecHandler struct {
	name    string
	filter  filter
	command string
	args    []string
	purge   string
	timeout time.Duration
}

// Name implements Handler.
func (h *ExecHandler) Name() string { return h.name }

// CanHandle implements Handler. The asset must exist on this host.
func (h *ExecHandler) CanHandle(_ context.Context, a Asset, event catalogue.EventType) bool {
	return a.AbsPath != "" && h.filter.match(a, event)
}

// Handle implements Handler.
func (h *ExecHandler) Handle(ctx context.Context, a Asset, event catalogue.EventType) error {
	args := append(append([]string(nil), h.args...), a.AbsPath)
	return h.run(ctx, h.command, args, a, string(event))
}

// Purge implements Purger. Without a purge command it does nothing.
func (h *ExecHandler) Purge(ctx context.Context, a Asset) error {
	if h.purge == "" {
		return nil
	}
	return h.run(ctx, h.purge, []string{a.AbsPath}, a, "lost-file")
}

func (h *ExecHandler) run(ctx context.Context, command string, args []string, a Asset, event string) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Env = append(os.Environ(),
		"ASSET_REALM="+a.Record.Realm,
		"ASSET_STORAGE="+a.Record.Storage,
		"ASSET_PATH="+a.Record.Path,
		"ASSET_HASH_PATH="+a.Record.HashPath,
		"ASSET_LENGTH="+strconv.FormatInt(a.Record.Length, 10),
		"ASSET_EVENT="+event,
	)
	stderr := &cappedBuffer{max: maxStderr}
	cmd.Stderr = stderr

	logging.Debug("Handler %s running %s for %s", h.name, command, a.Record.Path)
	if err := cmd.Run(); err != nil {
		// parent cancellation means shutdown, which is not a failure
		if errors.Is(ctx.Err(), context.Canceled) {
			return context.Canceled
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", command, err, msg)
		}
		return fmt.Errorf("%s: %w", command, err)
	}
	return nil
}

// maxStderr bounds the command output kept for error messages.
const maxStderr = 512

// cappedBuffer keeps the first max bytes written and discards the rest
// while reporting every write as complete.
type cappedBuffer struct {
	buf bytes.Buffer
	max int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.max - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	return c.buf.String()
}

// AuditHandler records every handled asset in the audit trail.
type AuditHandler struct {
	name     string
	filter   filter
	recorder *audit.Writer
}

// Name implements Handler.
func (h *AuditHandler) Name() string { return h.name }

// CanHandle implements Handler.
func (h *AuditHandler) CanHandle(_ context.Context, a Asset, event catalogue.EventType) bool {
	return h.filter.match(a, event)
}

// Handle implements Handler.
func (h *AuditHandler) Handle(_ context.Context, a Asset, event catalogue.EventType) error {
	payload, err := json.Marshal(map[string]string{
		"handler": h.name,
		"storage": a.Record.Storage,
		"path":    a.Record.Path,
		"event":   string(event),
	})
	if err != nil {
		return err
	}
	h.recorder.Record(audit.Event{
		Event:           audit.EventHandled,
		Realm:           a.Record.Realm,
		ObjectReference: a.Record.HashPath,
		ObjectPayload:   string(payload),
	})
	return nil
}
