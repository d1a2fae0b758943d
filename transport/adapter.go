// Package transport owns the websocket connection to the synchronization
// server and translates between wire events and store actions.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
	"boardsync/store"
)

// Status is the connectivity state broadcast to observers. It is the only
// channel through which the adapter reports transport health.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusError   Status = "error"
)

const (
	defaultMaxReconnectAttempts = 5
	defaultReconnectDelay       = time.Second
	defaultMaxReconnectDelay    = 10 * time.Second
	writeTimeout                = 5 * time.Second
)

// Config configures the adapter's connection target and retry budget.
type Config struct {
	// URL is the websocket endpoint of the synchronization server.
	URL string
	// Token, when set, is passed as a query parameter on the handshake.
	Token string
	// MaxReconnectAttempts bounds consecutive failed dials before the
	// adapter gives up for good. Defaults to 5.
	MaxReconnectAttempts int
	// ReconnectDelay is the base backoff delay. Defaults to 1s.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the backoff. Defaults to 10s.
	MaxReconnectDelay time.Duration

	Logger *log.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	if c.Logger == nil {
		c.Logger = log.StandardLogger()
	}
}

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
	stateFailed
)

type dialFunc func(ctx context.Context, url string) (*websocket.Conn, error)

// Adapter maintains exactly one logical connection to the server. It dials
// on Connect, retries drops with exponential backoff, and becomes inert
// once the retry budget is spent.
type Adapter struct {
	cfg    Config
	store  *store.Store
	logger *log.Logger
	dial   dialFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     connState
	conn      *websocket.Conn
	observers []func(Status)

	writeMu sync.Mutex
}

// New creates an adapter paired with the given store. The adapter stays
// disconnected until Connect is called.
func New(cfg Config, st *store.Store) *Adapter {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		cfg:    cfg,
		store:  st,
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
	a.dial = a.dialWebsocket
	return a
}

func (a *Adapter) dialWebsocket(ctx context.Context, url string) (*websocket.Conn, error) {
	if a.cfg.Token != "" {
		sep := "?"
		for _, r := range url {
			if r == '?' {
				sep = "&"
				break
			}
		}
		url += sep + "token=" + a.cfg.Token
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	return conn, err
}

// Notify registers a connectivity observer. Every subsequent status
// transition is delivered to it.
func (a *Adapter) Notify(fn func(Status)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, fn)
}

// Status reports the adapter's current connectivity.
func (a *Adapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case stateConnected:
		return StatusOnline
	case stateFailed:
		return StatusError
	default:
		return StatusOffline
	}
}

func (a *Adapter) setState(s connState) {
	a.mu.Lock()
	prev := a.state
	a.state = s
	observers := append(([]func(Status))(nil), a.observers...)
	a.mu.Unlock()

	status := stateStatus(s)
	if stateStatus(prev) == status {
		return
	}
	for _, fn := range observers {
		fn(status)
	}
}

func stateStatus(s connState) Status {
	switch s {
	case stateConnected:
		return StatusOnline
	case stateFailed:
		return StatusError
	default:
		return StatusOffline
	}
}

// Connect starts the connection loop. It returns immediately; progress is
// reported through the status observers.
func (a *Adapter) Connect() {
	a.mu.Lock()
	if a.state != stateDisconnected {
		a.mu.Unlock()
		return
	}
	a.state = stateConnecting
	a.mu.Unlock()

	a.wg.Add(1)
	go a.run()
}

// Close tears the connection down and stops all reconnection attempts.
func (a *Adapter) Close() {
	a.cancel()
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	a.wg.Wait()
}

func (a *Adapter) run() {
	defer a.wg.Done()

	attempts := 0
	for {
		if a.ctx.Err() != nil {
			return
		}

		conn, err := a.dial(a.ctx, a.cfg.URL)
		if err != nil {
			attempts++
			if attempts > a.cfg.MaxReconnectAttempts {
				a.logger.WithError(err).Warn("reconnect budget exhausted, transport disabled")
				a.setState(stateFailed)
				return
			}
			delay := backoffDelay(attempts, a.cfg.ReconnectDelay, a.cfg.MaxReconnectDelay)
			a.logger.WithError(err).WithFields(log.Fields{
				"attempt": attempts,
				"max":     a.cfg.MaxReconnectAttempts,
				"delay":   delay,
			}).Warn("connection attempt failed")
			if !sleepCtx(a.ctx, delay) {
				return
			}
			continue
		}

		attempts = 0
		a.mu.Lock()
		a.conn = conn
		a.mu.Unlock()
		a.setState(stateConnected)
		a.logger.WithField("url", a.cfg.URL).Info("connected to sync server")

		a.readLoop(conn)

		a.mu.Lock()
		a.conn = nil
		a.mu.Unlock()
		if a.ctx.Err() != nil {
			a.setState(stateDisconnected)
			return
		}
		a.setState(stateDisconnected)
		a.logger.Info("connection dropped, reconnecting")
	}
}

// backoffDelay grows the retry delay as base*2^(attempt-1), capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (a *Adapter) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(a.ctx)
		if err != nil {
			return
		}
		var env domain.Envelope
		if err := sonic.Unmarshal(data, &env); err != nil {
			a.logger.WithError(err).Warn("malformed wire message dropped")
			continue
		}
		a.dispatch(env)
	}
}

// dispatch routes one inbound event to its store action. Malformed payloads
// never reach the store: the event is logged and dropped whole.
func (a *Adapter) dispatch(env domain.Envelope) {
	switch env.Type {
	case domain.EventTaskCreated:
		var task domain.Task
		if !a.decode(env, &task) {
			return
		}
		a.store.AddTask(task)
	case domain.EventTaskUpdated:
		var task domain.Task
		if !a.decode(env, &task) {
			return
		}
		a.store.ReplaceTask(task)
	case domain.EventTaskMoved:
		var p domain.TaskMovedPayload
		if !a.decode(env, &p) {
			return
		}
		a.store.MoveTaskBy(p.TaskID, p.SourceStageID, p.DestinationStageID, p.UserID)
	case domain.EventTaskDeleted:
		var p domain.TaskDeletedPayload
		if !a.decode(env, &p) {
			return
		}
		a.store.DeleteTask(p.TaskID)
	case domain.EventPresenceUpdate, domain.EventUserJoined:
		var p domain.Presence
		if !a.decode(env, &p) {
			return
		}
		a.store.UpdatePresence(p)
	case domain.EventUserLeft:
		var p domain.UserLeftPayload
		if !a.decode(env, &p) {
			return
		}
		a.store.RemovePresence(p.UserID)
	case domain.EventConflictDetected:
		var c domain.Conflict
		if !a.decode(env, &c) {
			return
		}
		a.store.AddConflict(c)
	case domain.EventConflictResolved:
		var p domain.ConflictResolvedPayload
		if !a.decode(env, &p) {
			return
		}
		a.store.ResolveConflict(p.ConflictID, domain.ResolveAuto)
	case domain.EventActivityNew:
		var act domain.Activity
		if !a.decode(env, &act) {
			return
		}
		a.store.AddActivity(act)
	case domain.EventBoardUpdated:
		var p domain.BoardUpdatedPayload
		if !a.decode(env, &p) {
			return
		}
		a.store.UpdateBoard(p.BoardID, p.Updates)
	case domain.EventBoardJoin, domain.EventBoardLeave, domain.EventTaskCreate,
		domain.EventTaskUpdate, domain.EventTaskMove, domain.EventTaskDelete,
		domain.EventConflictResolve:
		a.logger.WithField("type", env.Type).Warn("client-bound channel received a client event, dropped")
	default:
		a.logger.WithField("type", env.Type).Warn("unknown wire event dropped")
	}
}

func (a *Adapter) decode(env domain.Envelope, v any) bool {
	if err := sonic.Unmarshal(env.Data, v); err != nil {
		a.logger.WithError(err).WithField("type", env.Type).Warn("malformed payload dropped")
		return false
	}
	return true
}

// emit sends one event to the server. Emits are fire-and-forget: when the
// adapter is not connected the event is silently dropped, not queued.
func (a *Adapter) emit(t domain.EventType, payload any) {
	a.mu.Lock()
	conn := a.conn
	connected := a.state == stateConnected
	a.mu.Unlock()
	if !connected || conn == nil {
		a.logger.WithField("type", t).Debug("emit while disconnected dropped")
		return
	}

	env, err := domain.NewEnvelope(t, payload)
	if err != nil {
		a.logger.WithError(err).WithField("type", t).Error("emit encode failed")
		return
	}
	data, err := sonic.Marshal(env)
	if err != nil {
		a.logger.WithError(err).WithField("type", t).Error("emit encode failed")
		return
	}

	ctx, cancel := context.WithTimeout(a.ctx, writeTimeout)
	defer cancel()
	a.writeMu.Lock()
	err = conn.Write(ctx, websocket.MessageText, data)
	a.writeMu.Unlock()
	if err != nil {
		a.logger.WithError(err).WithField("type", t).Warn("emit write failed")
	}
}

// JoinBoard announces the user entering a board room.
func (a *Adapter) JoinBoard(boardID, userID, userName string) {
	a.emit(domain.EventBoardJoin, domain.BoardJoinPayload{BoardID: boardID, UserID: userID, UserName: userName})
}

// LeaveBoard announces the user leaving a board room.
func (a *Adapter) LeaveBoard(boardID, userID string) {
	a.emit(domain.EventBoardLeave, domain.BoardLeavePayload{BoardID: boardID, UserID: userID})
}

// CreateTask asks the server to create a task and fan it out.
func (a *Adapter) CreateTask(task domain.Task, boardID string) {
	a.emit(domain.EventTaskCreate, domain.TaskCreatePayload{Task: task, BoardID: boardID})
}

// UpdateTask sends a partial task edit.
func (a *Adapter) UpdateTask(taskID string, updates domain.TaskUpdate, boardID string) {
	a.emit(domain.EventTaskUpdate, domain.TaskUpdatePayload{TaskID: taskID, Updates: updates, BoardID: boardID})
}

// MoveTask sends a stage transition.
func (a *Adapter) MoveTask(taskID, sourceStageID, destinationStageID, boardID string) {
	a.emit(domain.EventTaskMove, domain.TaskMovedPayload{
		TaskID:             taskID,
		SourceStageID:      sourceStageID,
		DestinationStageID: destinationStageID,
		BoardID:            boardID,
	})
}

// DeleteTask sends a task removal.
func (a *Adapter) DeleteTask(taskID, boardID string) {
	a.emit(domain.EventTaskDelete, domain.TaskDeletedPayload{TaskID: taskID, BoardID: boardID})
}

// UpdatePresence broadcasts the user's availability on a board.
func (a *Adapter) UpdatePresence(boardID, userID, userName string, status domain.PresenceStatus) {
	a.emit(domain.EventPresenceUpdate, domain.Presence{
		UserID:   userID,
		UserName: userName,
		BoardID:  boardID,
		Status:   status,
		LastSeen: time.Now().UTC(),
	})
}

// ResolveConflict asks the server to mark a conflict settled.
func (a *Adapter) ResolveConflict(conflictID string, resolution domain.Resolution, boardID string) {
	a.emit(domain.EventConflictResolve, domain.ConflictResolvedPayload{
		ConflictID: conflictID,
		Resolution: resolution,
		BoardID:    boardID,
	})
}
