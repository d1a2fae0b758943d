package server

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// bridgeMessage wraps an envelope crossing between server instances.
type bridgeMessage struct {
	ID       string          `json:"id"`
	Instance string          `json:"instance"`
	BoardID  string          `json:"boardId"`
	Envelope domain.Envelope `json:"envelope"`
}

// PubSub bridges events between server instances over a Redis channel so a
// client on one instance reaches room members connected to another.
type PubSub struct {
	rc         *redis.Client
	channel    string
	instanceID string
	dedup      *Deduper
	logger     *log.Logger
}

// NewPubSub creates a bridge on the given channel. dedup may be nil when
// the channel delivery is trusted to be exactly-once.
func NewPubSub(rc *redis.Client, channel string, dedup *Deduper, logger *log.Logger) *PubSub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &PubSub{
		rc:         rc,
		channel:    channel,
		instanceID: uuid.NewString(),
		dedup:      dedup,
		logger:     logger,
	}
}

// Publish forwards a locally-originated event to peer instances.
func (p *PubSub) Publish(ctx context.Context, boardID string, env domain.Envelope) error {
	msg := bridgeMessage{
		ID:       uuid.NewString(),
		Instance: p.instanceID,
		BoardID:  boardID,
		Envelope: env,
	}
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	return p.rc.Publish(ctx, p.channel, data).Err()
}

// Subscribe listens for peer events and applies them to the hub's local
// rooms. It blocks until ctx is cancelled, resubscribing when the pubsub
// channel closes.
func (p *PubSub) Subscribe(ctx context.Context, hub *Hub) {
	for {
		sub := p.rc.Subscribe(ctx, p.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				p.apply(ctx, hub, msg.Payload)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		p.logger.Error("pubsub channel closed, resubscribing")
		time.Sleep(time.Second)
	}
}

func (p *PubSub) apply(ctx context.Context, hub *Hub, payload string) {
	var msg bridgeMessage
	if err := sonic.Unmarshal([]byte(payload), &msg); err != nil {
		p.logger.WithError(err).Error("unable to parse bridge message")
		return
	}
	if msg.Instance == p.instanceID {
		return
	}
	if p.dedup != nil {
		// Scoped per instance: every peer must apply the message once.
		fresh, err := p.dedup.Add(ctx, p.instanceID+":"+msg.ID)
		if err != nil {
			p.logger.WithError(err).Warn("dedup check failed, applying anyway")
		} else if !fresh {
			return
		}
	}
	hub.ApplyRemote(ctx, msg.BoardID, msg.Envelope)
}
