package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	chatmodel "github.com/coinchat/backend/internal/model/chat"
	chatservice "github.com/coinchat/backend/internal/service/chat"
)

func setupRouter() (*chi.Mux, *chatservice.Service) {
	chatSvc := chatservice.NewService()
	handler := New(chatSvc)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc
}

func TestCreateSession(t *testing.T) {
	r, chatSvc := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/session", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var session chatmodel.Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.ID == "" {
		t.Fatal("expected a session id")
	}
	if _, err := chatSvc.GetSession(context.Background(), session.ID); err != nil {
		t.Fatalf("session not stored: %v", err)
	}
}

func TestTranscriptReturnsHistory(t *testing.T) {
	r, chatSvc := setupRouter()
	ctx := context.Background()

	session, _ := chatSvc.CreateSession(ctx)
	if err := chatSvc.Append(ctx, session.ID,
		chatmodel.NewTextMessage(chatmodel.RoleUser, "price of bitcoin"),
		chatmodel.NewToolCallMessage("c1", "getPrice", map[string]any{"coinId": "bitcoin"}),
		chatmodel.NewToolResultMessage("c1", "getPrice", "The price of bitcoin is currently displayed on the screen"),
	); err != nil {
		t.Fatalf("Append err: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/session/"+session.ID+"/messages", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		SessionID string              `json:"sessionId"`
		Messages  []chatmodel.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	if len(body.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(body.Messages))
	}
	if body.Messages[1].Role != chatmodel.RoleAssistant || body.Messages[2].Role != chatmodel.RoleTool {
		t.Fatalf("unexpected roles %s, %s", body.Messages[1].Role, body.Messages[2].Role)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	r, _ := setupRouter()

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/session/missing/messages"},
		{http.MethodPost, "/session/missing/finalize"},
		{http.MethodDelete, "/session/missing"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)

		if resp.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", tc.method, tc.path, resp.Code)
		}
	}
}

func TestFinalizeMarksSession(t *testing.T) {
	r, chatSvc := setupRouter()
	ctx := context.Background()
	session, _ := chatSvc.CreateSession(ctx)

	req := httptest.NewRequest(http.MethodPost, "/session/"+session.ID+"/finalize", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	got, _ := chatSvc.GetSession(ctx, session.ID)
	if !got.Finalized {
		t.Fatal("expected session to be finalized")
	}
}

func TestDeleteRespectsRunningTurn(t *testing.T) {
	r, chatSvc := setupRouter()
	ctx := context.Background()
	session, _ := chatSvc.CreateSession(ctx)

	release, err := chatSvc.BeginTurn(ctx, session.ID)
	if err != nil {
		t.Fatalf("BeginTurn err: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/session/"+session.ID, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}

	release()

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/session/"+session.ID, nil))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if _, err := chatSvc.GetSession(ctx, session.ID); err == nil {
		t.Fatal("expected session to be gone")
	}
}
