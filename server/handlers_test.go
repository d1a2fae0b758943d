package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"

	"boardsync/domain"
)

type fakeFetcher struct {
	tasks []domain.Task
}

func (f *fakeFetcher) FetchTasks(_ context.Context, _ string) ([]domain.Task, error) {
	return f.tasks, nil
}

func newTestAPI(t *testing.T, fetcher TaskFetcher) *echo.Echo {
	t.Helper()
	e := echo.New()
	Register(e, NewHub(nil, nil, nil), NewTestAuth(testSecret), fetcher)
	return e
}

func bearer(t *testing.T) string {
	t.Helper()
	return "Bearer " + signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
}

func TestHealthz(t *testing.T) {
	e := newTestAPI(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSnapshotRequiresAuth(t *testing.T) {
	e := newTestAPI(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/boards/b1/snapshot", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSnapshotFallsBackToArchive(t *testing.T) {
	fetcher := &fakeFetcher{tasks: []domain.Task{{ID: "t1", BoardID: "b1", Title: "archived"}}}
	e := newTestAPI(t, fetcher)

	req := httptest.NewRequest(http.MethodGet, "/api/boards/b1/snapshot", nil)
	req.Header.Set(echo.HeaderAuthorization, bearer(t))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp snapshotResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Tasks) != 1 || resp.Tasks[0].Title != "archived" {
		t.Fatalf("expected archived task, got %+v", resp.Tasks)
	}
	if resp.Presence == nil || len(resp.Presence) != 0 {
		t.Fatalf("expected empty presence list, got %+v", resp.Presence)
	}
}

func TestSnapshotEmptyWithoutArchive(t *testing.T) {
	e := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/boards/missing/snapshot", nil)
	req.Header.Set(echo.HeaderAuthorization, bearer(t))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp snapshotResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Tasks) != 0 || len(resp.Presence) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", resp)
	}
}

func TestWebsocketRejectsMissingToken(t *testing.T) {
	e := newTestAPI(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
