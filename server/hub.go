package server

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"boardsync/domain"
)

const clientWriteTimeout = 5 * time.Second

// Archiver persists board state durably. All methods are best-effort from
// the hub's point of view; failures are logged, never fanned out.
type Archiver interface {
	SaveTask(ctx context.Context, task domain.Task) error
	DeleteTask(ctx context.Context, boardID, taskID string) error
	AppendActivity(ctx context.Context, activity domain.Activity) error
}

// Publisher forwards events to peer server instances.
type Publisher interface {
	Publish(ctx context.Context, boardID string, env domain.Envelope) error
}

// Hub tracks board rooms and fans every event out to the other members of
// the room. It keeps an authoritative copy of each room's tasks so it can
// serve snapshots to late joiners and detect stale moves.
type Hub struct {
	logger  *log.Logger
	archive Archiver
	pub     Publisher
	tracer  trace.Tracer

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	clients  map[*client]struct{}
	tasks    map[string]domain.Task
	presence map[string]domain.Presence
}

type client struct {
	conn     *websocket.Conn
	userID   string
	userName string
	boards   map[string]struct{}

	writeMu sync.Mutex
}

// NewHub creates an empty hub. archive and pub may be nil for
// single-instance, memory-only deployments.
func NewHub(logger *log.Logger, archive Archiver, pub Publisher) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{
		logger:  logger,
		archive: archive,
		pub:     pub,
		tracer:  otel.GetTracerProvider().Tracer("boardsync/server"),
		rooms:   make(map[string]*room),
	}
}

// Snapshot returns the current tasks and presence of one board room for
// late joiners. The slices are copies.
func (h *Hub) Snapshot(boardID string) ([]domain.Task, []domain.Presence) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[boardID]
	if !ok {
		return nil, nil
	}
	tasks := make([]domain.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	presence := make([]domain.Presence, 0, len(r.presence))
	for _, p := range r.presence {
		presence = append(presence, p)
	}
	return tasks, presence
}

// HandleConn serves one websocket client until it disconnects. userID comes
// from the authenticated handshake.
func (h *Hub) HandleConn(ctx context.Context, conn *websocket.Conn, userID string) {
	c := &client{
		conn:   conn,
		userID: userID,
		boards: make(map[string]struct{}),
	}
	h.logger.WithField("userId", userID).Info("client connected")
	defer h.disconnect(ctx, c)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env domain.Envelope
		if err := sonic.Unmarshal(data, &env); err != nil {
			h.logger.WithError(err).WithField("userId", userID).Warn("malformed client message dropped")
			continue
		}
		h.handle(ctx, c, env)
	}
}

func (h *Hub) disconnect(ctx context.Context, c *client) {
	h.mu.Lock()
	boards := make([]string, 0, len(c.boards))
	for boardID := range c.boards {
		boards = append(boards, boardID)
	}
	h.mu.Unlock()

	for _, boardID := range boards {
		h.leaveBoard(ctx, c, boardID)
	}
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
	h.logger.WithField("userId", c.userID).Info("client disconnected")
}

func (h *Hub) handle(ctx context.Context, c *client, env domain.Envelope) {
	ctx, span := h.tracer.Start(ctx, "hub.handle", trace.WithAttributes(
		attribute.String("event.type", string(env.Type)),
		attribute.String("user.id", c.userID),
	))
	defer span.End()

	switch env.Type {
	case domain.EventBoardJoin:
		var p domain.BoardJoinPayload
		if !h.decode(env, &p) {
			return
		}
		h.joinBoard(ctx, c, p)
	case domain.EventBoardLeave:
		var p domain.BoardLeavePayload
		if !h.decode(env, &p) {
			return
		}
		h.leaveBoard(ctx, c, p.BoardID)
	case domain.EventTaskCreate:
		var p domain.TaskCreatePayload
		if !h.decode(env, &p) {
			return
		}
		h.createTask(ctx, c, p)
	case domain.EventTaskUpdate:
		var p domain.TaskUpdatePayload
		if !h.decode(env, &p) {
			return
		}
		h.updateTask(ctx, c, p)
	case domain.EventTaskMove:
		var p domain.TaskMovedPayload
		if !h.decode(env, &p) {
			return
		}
		h.moveTask(ctx, c, p)
	case domain.EventTaskDelete:
		var p domain.TaskDeletedPayload
		if !h.decode(env, &p) {
			return
		}
		h.deleteTask(ctx, c, p)
	case domain.EventPresenceUpdate:
		var p domain.Presence
		if !h.decode(env, &p) {
			return
		}
		h.updatePresence(ctx, c, p)
	case domain.EventConflictResolve:
		var p domain.ConflictResolvedPayload
		if !h.decode(env, &p) {
			return
		}
		h.resolveConflict(ctx, c, p)
	default:
		h.logger.WithFields(log.Fields{"type": env.Type, "userId": c.userID}).Warn("unexpected client event dropped")
	}
}

func (h *Hub) decode(env domain.Envelope, v any) bool {
	if err := sonic.Unmarshal(env.Data, v); err != nil {
		h.logger.WithError(err).WithField("type", env.Type).Warn("malformed payload dropped")
		return false
	}
	return true
}

func (h *Hub) roomLocked(boardID string) *room {
	r, ok := h.rooms[boardID]
	if !ok {
		r = &room{
			clients:  make(map[*client]struct{}),
			tasks:    make(map[string]domain.Task),
			presence: make(map[string]domain.Presence),
		}
		h.rooms[boardID] = r
	}
	return r
}

func (h *Hub) joinBoard(ctx context.Context, c *client, p domain.BoardJoinPayload) {
	if p.UserName != "" {
		c.userName = p.UserName
	}
	presence := domain.Presence{
		UserID:   c.userID,
		UserName: c.userName,
		BoardID:  p.BoardID,
		Status:   domain.PresenceOnline,
		LastSeen: time.Now().UTC(),
	}

	h.mu.Lock()
	r := h.roomLocked(p.BoardID)
	r.clients[c] = struct{}{}
	r.presence[c.userID] = presence
	c.boards[p.BoardID] = struct{}{}
	h.mu.Unlock()

	h.fanOut(ctx, p.BoardID, domain.EventUserJoined, presence, c, true)
	h.archiveActivity(ctx, domain.Activity{
		BoardID: p.BoardID,
		UserID:  c.userID,
		Action:  domain.ActionUserJoined,
	})
}

func (h *Hub) leaveBoard(ctx context.Context, c *client, boardID string) {
	h.mu.Lock()
	r, ok := h.rooms[boardID]
	if ok {
		delete(r.clients, c)
		delete(r.presence, c.userID)
	}
	delete(c.boards, boardID)
	h.mu.Unlock()
	if !ok {
		return
	}

	h.fanOut(ctx, boardID, domain.EventUserLeft, domain.UserLeftPayload{UserID: c.userID, BoardID: boardID}, c, true)
	h.archiveActivity(ctx, domain.Activity{
		BoardID: boardID,
		UserID:  c.userID,
		Action:  domain.ActionUserLeft,
	})
}

func (h *Hub) createTask(ctx context.Context, c *client, p domain.TaskCreatePayload) {
	task := p.Task
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.BoardID = p.BoardID
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	task.LastModifiedAt = now
	task.LastModifiedBy = c.userID

	h.mu.Lock()
	h.roomLocked(p.BoardID).tasks[task.ID] = task
	h.mu.Unlock()

	h.fanOut(ctx, p.BoardID, domain.EventTaskCreated, task, c, true)
	h.archiveTask(ctx, task)
	h.archiveActivity(ctx, domain.Activity{
		BoardID: p.BoardID,
		TaskID:  task.ID,
		UserID:  c.userID,
		Action:  domain.ActionTaskCreated,
		Details: map[string]any{"taskTitle": task.Title},
	})
}

func (h *Hub) updateTask(ctx context.Context, c *client, p domain.TaskUpdatePayload) {
	h.mu.Lock()
	r := h.roomLocked(p.BoardID)
	task, ok := r.tasks[p.TaskID]
	if !ok {
		h.mu.Unlock()
		h.logger.WithField("taskId", p.TaskID).Debug("update for unknown task dropped")
		return
	}
	domain.ApplyTaskUpdate(&task, p.Updates)
	now := time.Now().UTC()
	task.UpdatedAt = now
	task.LastModifiedAt = now
	task.LastModifiedBy = c.userID
	r.tasks[p.TaskID] = task
	h.mu.Unlock()

	h.fanOut(ctx, p.BoardID, domain.EventTaskUpdated, task, c, true)
	h.archiveTask(ctx, task)
	h.archiveActivity(ctx, domain.Activity{
		BoardID: p.BoardID,
		TaskID:  task.ID,
		UserID:  c.userID,
		Action:  domain.ActionTaskUpdated,
	})
}

// moveTask applies a stage transition, or rejects it when the mover acted on
// a stale view of the board. The rejection becomes a conflict record fanned
// out to the whole room, the mover included, so every client raises the
// same gate.
func (h *Hub) moveTask(ctx context.Context, c *client, p domain.TaskMovedPayload) {
	h.mu.Lock()
	r := h.roomLocked(p.BoardID)
	task, ok := r.tasks[p.TaskID]
	if ok && task.StageID != p.SourceStageID {
		h.mu.Unlock()
		conflict := domain.Conflict{
			ID:           uuid.NewString(),
			TaskID:       p.TaskID,
			UserID:       c.userID,
			ConflictType: domain.ConflictStage,
			CreatedAt:    time.Now().UTC(),
		}
		h.logger.WithFields(log.Fields{
			"taskId": p.TaskID,
			"userId": c.userID,
		}).Info("stale move rejected, raising conflict")
		h.fanOut(ctx, p.BoardID, domain.EventConflictDetected, conflict, nil, true)
		return
	}
	if ok {
		task.StageID = p.DestinationStageID
		now := time.Now().UTC()
		task.UpdatedAt = now
		task.LastModifiedAt = now
		task.LastModifiedBy = c.userID
		r.tasks[p.TaskID] = task
	}
	h.mu.Unlock()

	p.UserID = c.userID
	h.fanOut(ctx, p.BoardID, domain.EventTaskMoved, p, c, true)
	if ok {
		h.archiveTask(ctx, task)
	}
	h.archiveActivity(ctx, domain.Activity{
		BoardID: p.BoardID,
		TaskID:  p.TaskID,
		UserID:  c.userID,
		Action:  domain.ActionTaskMoved,
		Details: map[string]any{"fromStage": p.SourceStageID, "toStage": p.DestinationStageID},
	})
}

func (h *Hub) deleteTask(ctx context.Context, c *client, p domain.TaskDeletedPayload) {
	h.mu.Lock()
	delete(h.roomLocked(p.BoardID).tasks, p.TaskID)
	h.mu.Unlock()

	h.fanOut(ctx, p.BoardID, domain.EventTaskDeleted, p, c, true)
	if h.archive != nil {
		if err := h.archive.DeleteTask(ctx, p.BoardID, p.TaskID); err != nil {
			h.logger.WithError(err).Warn("archive delete failed")
		}
	}
	h.archiveActivity(ctx, domain.Activity{
		BoardID: p.BoardID,
		TaskID:  p.TaskID,
		UserID:  c.userID,
		Action:  domain.ActionTaskDeleted,
	})
}

func (h *Hub) updatePresence(ctx context.Context, c *client, p domain.Presence) {
	p.LastSeen = time.Now().UTC()
	if p.UserID == "" {
		p.UserID = c.userID
	}

	h.mu.Lock()
	h.roomLocked(p.BoardID).presence[p.UserID] = p
	h.mu.Unlock()

	h.fanOut(ctx, p.BoardID, domain.EventPresenceUpdate, p, c, true)
}

func (h *Hub) resolveConflict(ctx context.Context, c *client, p domain.ConflictResolvedPayload) {
	h.fanOut(ctx, p.BoardID, domain.EventConflictResolved, p, c, true)
	h.archiveActivity(ctx, domain.Activity{
		BoardID: p.BoardID,
		UserID:  c.userID,
		Action:  domain.ActionConflictResolved,
		Details: map[string]any{"conflictId": p.ConflictID},
	})
}

// fanOut delivers an event to every room member except skip. When forward
// is set the event is also published to peer instances through the bridge.
func (h *Hub) fanOut(ctx context.Context, boardID string, t domain.EventType, payload any, skip *client, forward bool) {
	env, err := domain.NewEnvelope(t, payload)
	if err != nil {
		h.logger.WithError(err).WithField("type", t).Error("fanout encode failed")
		return
	}
	h.fanOutEnvelope(ctx, boardID, env, skip)

	if forward && h.pub != nil {
		if err := h.pub.Publish(ctx, boardID, env); err != nil {
			h.logger.WithError(err).Warn("bridge publish failed")
		}
	}
}

// ApplyRemote fans an event received from a peer instance out to the local
// members of the room. Remote events are never re-published.
func (h *Hub) ApplyRemote(ctx context.Context, boardID string, env domain.Envelope) {
	h.fanOutEnvelope(ctx, boardID, env, nil)
}

func (h *Hub) fanOutEnvelope(ctx context.Context, boardID string, env domain.Envelope, skip *client) {
	data, err := sonic.Marshal(env)
	if err != nil {
		h.logger.WithError(err).Error("fanout encode failed")
		return
	}

	h.mu.Lock()
	r, ok := h.rooms[boardID]
	if !ok {
		h.mu.Unlock()
		return
	}
	targets := make([]*client, 0, len(r.clients))
	for c := range r.clients {
		if c == skip {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.send(ctx, data); err != nil {
			h.logger.WithError(err).WithField("userId", c.userID).Warn("send failed, dropping client")
			h.dropClient(c)
		}
	}
}

func (c *client) send(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, clientWriteTimeout)
	defer cancel()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (h *Hub) dropClient(c *client) {
	h.mu.Lock()
	for boardID := range c.boards {
		if r, ok := h.rooms[boardID]; ok {
			delete(r.clients, c)
			delete(r.presence, c.userID)
		}
	}
	c.boards = make(map[string]struct{})
	h.mu.Unlock()
	_ = c.conn.Close(websocket.StatusPolicyViolation, "write failed")
}

func (h *Hub) archiveTask(ctx context.Context, task domain.Task) {
	if h.archive == nil {
		return
	}
	if err := h.archive.SaveTask(ctx, task); err != nil {
		h.logger.WithError(err).WithField("taskId", task.ID).Warn("archive save failed")
	}
}

func (h *Hub) archiveActivity(ctx context.Context, activity domain.Activity) {
	if h.archive == nil {
		return
	}
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	if activity.Timestamp.IsZero() {
		activity.Timestamp = time.Now().UTC()
	}
	if err := h.archive.AppendActivity(ctx, activity); err != nil {
		h.logger.WithError(err).Warn("archive activity failed")
	}
}
