package audit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kasira-dev/fees-engine/internal/common"
)

func TestHTTPRecorderMiddleware(t *testing.T) {
	store := &stubStore{}
	recorder := HTTPRecorder{Service: &Service{Store: store, Enabled: true}}
	sessionID := uuid.New()

	router := chi.NewRouter()
	router.With(recorder.Middleware(HTTPConfig{
		Action:         "session.recalculate",
		Resource:       "sessions",
		SessionIDParam: "sessionId",
	})).Post("/sessions/{sessionId}/recalculate", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sessionID.String()+"/recalculate", nil)
	req = req.WithContext(common.WithActor(req.Context(), "ops-cli"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if !store.called {
		t.Fatal("expected audit entry")
	}
	got := store.lastInsert
	if got.Action != "session.recalculate" {
		t.Fatalf("unexpected action: %s", got.Action)
	}
	if got.ActorKind != string(ActorKindAdmin) || got.Actor == nil || *got.Actor != "ops-cli" {
		t.Fatalf("unexpected actor: %s/%v", got.ActorKind, got.Actor)
	}
	if got.SessionID == nil || *got.SessionID != sessionID {
		t.Fatalf("unexpected session id: %v", got.SessionID)
	}
	if got.Status != http.StatusAccepted {
		t.Fatalf("unexpected status: %d", got.Status)
	}
}

func TestHTTPRecorderDisabledPassthrough(t *testing.T) {
	store := &stubStore{}
	recorder := HTTPRecorder{Service: &Service{Store: store, Enabled: false}}

	handler := recorder.Middleware(HTTPConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if store.called {
		t.Fatal("expected no audit entry when disabled")
	}
}
