package server

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"

	"boardsync/domain"
)

// Authenticator is implemented by types able to extract user IDs from
// handshake credentials.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// TaskFetcher serves archived board snapshots for rooms this instance does
// not currently host.
type TaskFetcher interface {
	FetchTasks(ctx context.Context, boardID string) ([]domain.Task, error)
}

type snapshotResponse struct {
	Tasks    []domain.Task     `json:"tasks"`
	Presence []domain.Presence `json:"presence"`
}

// Register wires up the sync endpoints on the given Echo instance. fetcher
// may be nil when no archive is configured.
func Register(e *echo.Echo, hub *Hub, auth Authenticator, fetcher TaskFetcher) {
	e.GET("/ws", handleWS(hub, auth))
	e.GET("/api/boards/:id/snapshot", getSnapshot(hub, auth, fetcher))
	e.GET("/healthz", healthz)
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// handleWS authenticates the handshake and hands the connection to the hub.
// Browsers cannot set headers on websocket upgrades, so the token may also
// arrive as a query parameter.
func handleWS(hub *Hub, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" {
			if token := c.QueryParam("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}
		userID, err := auth.UserIDFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		conn, err := websocket.Accept(c.Response().Writer, c.Request(), &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			c.Logger().Errorf("websocket upgrade failed: %v", err)
			return nil
		}

		hub.HandleConn(c.Request().Context(), conn, userID)
		return nil
	}
}

func getSnapshot(hub *Hub, auth Authenticator, fetcher TaskFetcher) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("id")
		tasks, presence := hub.Snapshot(boardID)
		if tasks == nil && fetcher != nil {
			archived, err := fetcher.FetchTasks(c.Request().Context(), boardID)
			if err != nil {
				c.Logger().Error(err)
				return c.String(http.StatusInternalServerError, err.Error())
			}
			tasks = archived
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		if presence == nil {
			presence = []domain.Presence{}
		}
		return c.JSON(http.StatusOK, snapshotResponse{Tasks: tasks, Presence: presence})
	}
}
