// Package outbox implements the optimistic-send pipeline: composed events are
// stored immediately as pending rows under a client-generated transaction id,
// then drained to the server; the acknowledgement (or the later sync echo)
// reconciles the pending row into the authoritative event.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lbrandao/mtx/internal/bus"
	"github.com/lbrandao/mtx/internal/store"
	"github.com/lbrandao/mtx/internal/sync"
	"go.uber.org/zap"
)

// EventSender is the transport interface for sending events to the server.
// txnID is echoed back by the server in the event's unsigned metadata.
type EventSender interface {
	SendEvent(ctx context.Context, roomID, eventType, content, txnID string) (eventID string, err error)
}

// Sender drains pending sends and feeds acknowledgements back through the
// ingestion engine.
type Sender struct {
	db     *store.DB
	engine *sync.Engine
	client string
	sender EventSender
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewSender creates a new outbox sender for the named client session.
func NewSender(db *store.DB, engine *sync.Engine, client string, sender EventSender, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		db:     db,
		engine: engine,
		client: client,
		sender: sender,
		bus:    b,
		logger: logger,
	}
}

// Compose stores a new outgoing event as a pending row and returns its
// transaction id. The event becomes visible to timeline queries immediately,
// in Sending status, and is picked up by the drain loop.
func (s *Sender) Compose(roomID, eventType, content string) (string, error) {
	client, err := s.db.GetClient(s.client)
	if err != nil {
		return "", fmt.Errorf("load client: %w", err)
	}
	if client == nil {
		return "", fmt.Errorf("client %q is not logged in", s.client)
	}

	txnID := "mtx" + uuid.NewString()
	err = s.db.WithTxn(func(t *store.Txn) error {
		return t.UpsertEvent(&store.Event{
			ID:        txnID,
			RoomID:    roomID,
			Timestamp: time.Now().UnixMilli(),
			Sender:    client.UserID,
			Type:      eventType,
			Content:   content,
			Status:    store.StatusSending,
		})
	})
	if err != nil {
		return "", fmt.Errorf("store pending event: %w", err)
	}

	s.publish("event.pending", map[string]string{"room_id": roomID, "txn_id": txnID})
	return txnID, nil
}

// Retry re-queues a previously failed send. Returns false if the row is gone
// or not in Failed status.
func (s *Sender) Retry(txnID string) (bool, error) {
	var queued bool
	err := s.db.WithTxn(func(t *store.Txn) error {
		var err error
		queued, err = t.RequeueFailedSend(txnID)
		return err
	})
	if err != nil {
		return false, err
	}
	if queued {
		s.publish("event.pending", map[string]string{"txn_id": txnID})
	}
	return queued, nil
}

// Start begins polling for pending sends.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the drain loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingSends()
	if err != nil {
		s.logger.Error("failed to read pending sends", zap.Error(err))
		return
	}

	for _, ev := range pending {
		eventID, err := s.sender.SendEvent(ctx, ev.RoomID, ev.Type, ev.Content, ev.ID)
		if err != nil {
			s.logger.Error("failed to send event", zap.Error(err), zap.String("txn_id", ev.ID))
			// The row keeps its transaction id; only the status moves.
			if err := s.db.WithTxn(func(t *store.Txn) error {
				return t.MarkSendFailed(ev.ID)
			}); err != nil {
				s.logger.Error("failed to mark send failed", zap.Error(err), zap.String("txn_id", ev.ID))
			}
			s.publish("event.send_failed", map[string]string{
				"txn_id": ev.ID,
				"error":  err.Error(),
			})
			continue
		}

		// Feed the acknowledgement through the reconciler: the pending row
		// is re-keyed in place to the server-assigned event id.
		status := store.StatusSent
		ack := &sync.Batch{Events: []*sync.EventUpdate{{
			Kind:          sync.KindTimeline,
			RoomID:        ev.RoomID,
			EventID:       eventID,
			Type:          ev.Type,
			StateKey:      ev.StateKey,
			Sender:        ev.Sender,
			Timestamp:     ev.Timestamp,
			Content:       ev.Content,
			TransactionID: ev.ID,
			Status:        &status,
		}}}
		if err := s.engine.ApplyBatch(ack); err != nil {
			s.logger.Error("failed to reconcile send ack", zap.Error(err), zap.String("txn_id", ev.ID))
			continue
		}

		s.logger.Info("event sent", zap.String("txn_id", ev.ID), zap.String("event_id", eventID))
		s.publish("event.send_ack", map[string]string{
			"txn_id":   ev.ID,
			"event_id": eventID,
		})
	}
}

func (s *Sender) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
