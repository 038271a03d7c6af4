package activity

import (
	"context"
	"errors"
	"strings"
	"testing"

	"asset-indexer/internal/audit"
	"asset-indexer/internal/catalogue"
)

func TestHandlerSet(t *testing.T) {
	t.Parallel()

	s := NewHandlerSet("b", "a", "b")
	if s.Len() != 2 || s.String() != `["b","a"]` {
		t.Errorf("Expected [b a], got %s", s.String())
	}
	if !s.Add("c") || s.Add("a") {
		t.Error("Expected Add to report only missing names")
	}

	other := NewHandlerSet("d", "a")
	s.Union(other)
	if got := strings.Join(s.Names(), ","); got != "b,a,c,d" {
		t.Errorf("Expected b,a,c,d, got %s", got)
	}

	var empty HandlerSet
	if empty.String() != "[]" {
		t.Errorf("Expected [], got %s", empty.String())
	}
}

func TestParseHandlerSet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{`["a","b"]`, `["a","b"]`, false},
		{`[]`, `[]`, false},
		{`["a","a"]`, `["a"]`, false},
		{`not json`, "", true},
		{`{"a":1}`, "", true},
		{``, "", true},
	}

	for _, tt := range tests {
		s, err := ParseHandlerSet(tt.raw)
		if tt.wantErr {
			if !errors.Is(err, ErrBadPreviousHandlers) {
				t.Errorf("ParseHandlerSet(%q): expected ErrBadPreviousHandlers, got %v", tt.raw, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseHandlerSet(%q) failed: %v", tt.raw, err)
			continue
		}
		if s.String() != tt.want {
			t.Errorf("ParseHandlerSet(%q): expected %s, got %s", tt.raw, tt.want, s.String())
		}
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(newTestHandler("a"), newTestHandler("b"))
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	if got := strings.Join(reg.Names(), ","); got != "a,b" {
		t.Errorf("Expected a,b, got %s", got)
	}
	if _, err := reg.Lookup("b"); err != nil {
		t.Errorf("Expected b to be registered, got %v", err)
	}
	if _, err := reg.Lookup("zz"); !errors.Is(err, ErrUnknownHandler) {
		t.Errorf("Expected ErrUnknownHandler, got %v", err)
	}

	if _, err := NewRegistry(newTestHandler("a"), newTestHandler("a")); !errors.Is(err, ErrDuplicateHandler) {
		t.Errorf("Expected ErrDuplicateHandler, got %v", err)
	}
}

func TestBuildHandlersValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec HandlerSpec
	}{
		{"no name", HandlerSpec{Kind: KindExec, Command: "true"}},
		{"unknown kind", HandlerSpec{Name: "x", Kind: "webhook"}},
		{"exec without command", HandlerSpec{Name: "x", Kind: KindExec}},
		{"bad event", HandlerSpec{Name: "x", Kind: KindExec, Command: "true", Events: []string{"deleted"}}},
		{"audit without trail", HandlerSpec{Name: "x", Kind: KindAudit}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := BuildHandlers([]HandlerSpec{tt.spec}, nil); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestBuiltinFilters(t *testing.T) {
	t.Parallel()

	handlers, err := BuildHandlers([]HandlerSpec{{
		Name:       "proxy",
		Kind:       KindExec,
		Command:    "true",
		Extensions: []string{".MOV", "mp4"},
		Events:     []string{string(catalogue.EventNewFile)},
		After:      []string{"probe"},
	}}, nil)
	if err != nil {
		t.Fatalf("BuildHandlers failed: %v", err)
	}
	h := handlers[0]

	done := NewHandlerSet("probe")
	tests := []struct {
		name  string
		asset Asset
		event catalogue.EventType
		want  bool
	}{
		{"eligible", Asset{Record: catalogue.FileRecord{Path: "/a.mov"}, AbsPath: "/srv/a.mov", Completed: done}, catalogue.EventNewFile, true},
		{"other extension", Asset{Record: catalogue.FileRecord{Path: "/a.txt"}, AbsPath: "/srv/a.txt", Completed: done}, catalogue.EventNewFile, false},
		{"other event", Asset{Record: catalogue.FileRecord{Path: "/a.mp4"}, AbsPath: "/srv/a.mp4", Completed: done}, catalogue.EventUpdatedFile, false},
		{"prerequisite pending", Asset{Record: catalogue.FileRecord{Path: "/a.mov"}, AbsPath: "/srv/a.mov"}, catalogue.EventNewFile, false},
		{"not local", Asset{Record: catalogue.FileRecord{Path: "/a.mov"}, Completed: done}, catalogue.EventNewFile, false},
		{"directory", Asset{Record: catalogue.FileRecord{Path: "/a.mov", Directory: true}, AbsPath: "/srv/a.mov", Completed: done}, catalogue.EventNewFile, false},
	}

	for _, tt := range tests {
		if got := h.CanHandle(context.Background(), tt.asset, tt.event); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestExecHandler(t *testing.T) {
	t.Parallel()

	handlers, err := BuildHandlers([]HandlerSpec{
		{Name: "ok", Kind: KindExec, Command: "sh", Args: []string{"-c", `test "$ASSET_REALM" = lib && test "$ASSET_EVENT" = new-file && test "$0" = /srv/a.mov`}, PurgeCommand: "true"},
		{Name: "fail", Kind: KindExec, Command: "sh", Args: []string{"-c", "echo unreadable >&2; exit 3"}},
		{Name: "chatty", Kind: KindExec, Command: "sh", Args: []string{"-c", "yes noise | head -c 200000 >&2; exit 2"}},
	}, nil)
	if err != nil {
		t.Fatalf("BuildHandlers failed: %v", err)
	}

	asset := Asset{Record: catalogue.FileRecord{Realm: "lib", Storage: "main", Path: "/a.mov"}, AbsPath: "/srv/a.mov"}
	if err := handlers[0].Handle(context.Background(), asset, catalogue.EventNewFile); err != nil {
		t.Errorf("Expected command to succeed, got %v", err)
	}
	if err := handlers[0].(Purger).Purge(context.Background(), asset); err != nil {
		t.Errorf("Expected purge to succeed, got %v", err)
	}

	err = handlers[1].Handle(context.Background(), asset, catalogue.EventNewFile)
	if err == nil || !strings.Contains(err.Error(), "unreadable") {
		t.Errorf("Expected error with stderr output, got %v", err)
	}

	err = handlers[2].Handle(context.Background(), asset, catalogue.EventNewFile)
	if err == nil || !strings.Contains(err.Error(), "exit status 2") {
		t.Errorf("Expected exit status 2, got %v", err)
	} else if len(err.Error()) > 2*maxStderr {
		t.Errorf("Expected stderr capture capped at %d bytes, got a %d byte error", maxStderr, len(err.Error()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := handlers[1].Handle(ctx, asset, catalogue.EventNewFile); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestCappedBuffer(t *testing.T) {
	tests := []struct {
		name     string
		writes   []string
		expected string
	}{
		{"under the cap", []string{"ab", "cd"}, "abcd"},
		{"split write", []string{"abc", "defg"}, "abcde"},
		{"after the cap", []string{"abcde", "fgh"}, "abcde"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &cappedBuffer{max: 5}
			for _, w := range tt.writes {
				n, err := c.Write([]byte(w))
				if err != nil || n != len(w) {
					t.Errorf("Expected full write of %q, got %d, %v", w, n, err)
				}
			}
			if c.String() != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, c.String())
			}
		})
	}
}

type memorySink struct {
	events []audit.Event
}

func (m *memorySink) InsertAuditEvents(_ context.Context, events []audit.Event) error {
	m.events = append(m.events, events...)
	return nil
}

func TestAuditHandler(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	w := audit.NewWriter(sink, "node-a")
	handlers, err := BuildHandlers([]HandlerSpec{{Name: "trail", Kind: KindAudit}}, w)
	if err != nil {
		t.Fatalf("BuildHandlers failed: %v", err)
	}

	rec := catalogue.FileRecord{Realm: "lib", Storage: "main", Path: "/a.mov", HashPath: "abc"}
	if err := handlers[0].Handle(context.Background(), Asset{Record: rec}, catalogue.EventNewFile); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	w.Close()

	if len(sink.events) != 1 {
		t.Fatalf("Expected 1 audit event, got %d", len(sink.events))
	}
	e := sink.events[0]
	if e.Event != audit.EventHandled || e.ObjectReference != "abc" || !strings.Contains(e.ObjectPayload, `"handler":"trail"`) {
		t.Errorf("Unexpected audit event %+v", e)
	}
}
