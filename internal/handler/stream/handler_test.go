package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"

	"github.com/coinchat/backend/internal/model/chat"
	"github.com/coinchat/backend/internal/model/ui"
	chatService "github.com/coinchat/backend/internal/service/chat"
	"github.com/coinchat/backend/internal/service/orchestrator"
	streamService "github.com/coinchat/backend/internal/service/stream"
)

// fakeRunner replays fixed updates, or fails before the turn starts.
type fakeRunner struct {
	updates []streamService.Update
	err     error
	texts   []string
}

func (f *fakeRunner) HandleTurn(_ context.Context, _ string, userText string) (<-chan streamService.Update, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.texts = append(f.texts, userText)
	ch := make(chan streamService.Update, len(f.updates))
	for _, update := range f.updates {
		ch <- update
	}
	close(ch)
	return ch, nil
}

func textTurn() []streamService.Update {
	final := ui.Text("hello there")
	return []streamService.Update{
		{State: streamService.Pending, Text: "hello"},
		{State: streamService.Pending, Text: "hello there"},
		{State: streamService.Done, Text: "hello there", Fragment: &final},
	}
}

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if current.name != "" {
				events = append(events, current)
			}
			current = sseEvent{}
		}
	}
	return events
}

func serveStream(runner TurnRunner, target string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	New(runner, logr.Discard()).RegisterRoutes(r)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, target, nil))
	return resp
}

func TestStreamWritesPendingThenDone(t *testing.T) {
	runner := &fakeRunner{updates: textTurn()}
	resp := serveStream(runner, "/stream/s1?message="+url.QueryEscape("hi there"))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if got := resp.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %s", got)
	}
	if len(runner.texts) != 1 || runner.texts[0] != "hi there" {
		t.Fatalf("unexpected turn input %v", runner.texts)
	}

	events := readEvents(t, resp.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %q", len(events), resp.Body.String())
	}
	if events[0].name != "pending" || events[1].name != "pending" || events[2].name != "done" {
		t.Fatalf("unexpected event order %+v", events)
	}

	var last streamService.Update
	if err := json.Unmarshal([]byte(events[2].data), &last); err != nil {
		t.Fatalf("decode done event: %v", err)
	}
	if last.Fragment == nil || last.Fragment.Kind != ui.KindText || last.Fragment.Text != "hello there" {
		t.Fatalf("unexpected final fragment %+v", last.Fragment)
	}
}

func TestStreamErrorFragmentUsesErrorEvent(t *testing.T) {
	failure := ui.Error(ui.ErrorProvider, "market data is unavailable right now")
	runner := &fakeRunner{updates: []streamService.Update{{State: streamService.Done, Fragment: &failure}}}

	events := readEvents(t, serveStream(runner, "/stream/s1?message=price").Body.String())
	if len(events) != 1 || events[0].name != "error" {
		t.Fatalf("expected a single error event, got %+v", events)
	}
	if !strings.Contains(events[0].data, `"provider"`) {
		t.Fatalf("expected provider kind in %s", events[0].data)
	}
}

func TestStreamRejectsBeforeStarting(t *testing.T) {
	cases := map[string]struct {
		err    error
		target string
		status int
		kind   string
	}{
		"missing message": {target: "/stream/s1", status: http.StatusBadRequest},
		"blank message":   {target: "/stream/s1?message=%20%20", status: http.StatusBadRequest},
		"unknown session": {err: chatService.ErrSessionNotFound, target: "/stream/nope?message=hi", status: http.StatusNotFound, kind: "state"},
		"busy session":    {err: chatService.ErrSessionBusy, target: "/stream/s1?message=hi", status: http.StatusConflict, kind: "busy"},
		"empty text":      {err: orchestrator.ErrEmptyMessage, target: "/stream/s1?message=hi", status: http.StatusBadRequest, kind: "schema"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp := serveStream(&fakeRunner{err: tc.err}, tc.target)
			if resp.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.Code)
			}
			if tc.kind == "" {
				return
			}
			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["kind"] != tc.kind {
				t.Fatalf("expected kind %s, got %s", tc.kind, body["kind"])
			}
		})
	}
}

func TestEventName(t *testing.T) {
	text := ui.Text("x")
	failure := ui.Error(ui.ErrorModel, "x")

	if got := EventName(streamService.Update{State: streamService.Pending}); got != "pending" {
		t.Fatalf("expected pending, got %s", got)
	}
	if got := EventName(streamService.Update{State: streamService.Done, Fragment: &text}); got != "done" {
		t.Fatalf("expected done, got %s", got)
	}
	if got := EventName(streamService.Update{State: streamService.Done, Fragment: &failure}); got != "error" {
		t.Fatalf("expected error, got %s", got)
	}
}

type staticSessions map[string]bool

func (s staticSessions) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	if !s[sessionID] {
		return chat.Session{}, chatService.ErrSessionNotFound
	}
	return chat.Session{ID: sessionID}, nil
}
