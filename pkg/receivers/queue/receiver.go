// Package queue consumes inbound gateway events from a Redis list. Gateway
// bridges that cannot call the webhook endpoint push events here instead; the
// receiver feeds them to the engine with the same busy-retry semantics.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/flowzap/flowzap/pkg/events"
	"github.com/flowzap/flowzap/pkg/session"
)

const (
	popTimeout     = 1 * time.Second
	connectTimeout = 5 * time.Second
	requeueDelay   = 250 * time.Millisecond
)

// Handler processes one inbound event. Returning session.ErrSessionBusy puts
// the event back on the queue.
type Handler func(ctx context.Context, event *events.InboundReceived) error

// Config connects the receiver to its Redis list.
type Config struct {
	Addr     string
	Password string
	DB       int
	Queue    string
}

type Receiver struct {
	config  Config
	client  redis.UniversalClient
	handler Handler
	logger  *slog.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewReceiver(config Config, handler Handler, logger *slog.Logger) (*Receiver, error) {
	if config.Queue == "" {
		return nil, errors.New("queue receiver queue name is required")
	}

	if config.Addr == "" {
		config.Addr = "localhost:6379"
	}

	return &Receiver{
		config:  config,
		handler: handler,
		stopCh:  make(chan struct{}),
		logger: logger.With(
			"module", "queue_receiver",
			"queue", config.Queue,
		),
	}, nil
}

// Start connects to Redis and begins consuming in the background.
func (r *Receiver) Start(ctx context.Context) error {
	r.client = redis.NewClient(&redis.Options{
		Addr:     r.config.Addr,
		Password: r.config.Password,
		DB:       r.config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	err := r.client.Ping(pingCtx).Err()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	r.logger.InfoContext(ctx, "Connected to Redis", "addr", r.config.Addr, "db", r.config.DB)

	r.wg.Add(1)

	go r.consume(ctx)

	return nil
}

// Stop halts consumption and closes the connection.
func (r *Receiver) Stop() error {
	close(r.stopCh)
	r.wg.Wait()

	if r.client != nil {
		return r.client.Close()
	}

	return nil
}

func (r *Receiver) consume(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			r.logger.InfoContext(ctx, "Queue consumer stopped")

			return
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

			return
		default:
			err := r.processMessage(ctx)
			if err != nil {
				r.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (r *Receiver) processMessage(ctx context.Context) error {
	result, err := r.client.BLPop(ctx, popTimeout, r.config.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	message := result[1]

	event, err := decodeEvent([]byte(message))
	if err != nil {
		// Malformed payloads are logged and dropped, never retried.
		r.logger.ErrorContext(ctx, "Dropping undecodable queue message", "error", err)

		return nil
	}

	err = r.handler(ctx, event)
	if errors.Is(err, session.ErrSessionBusy) {
		time.Sleep(requeueDelay)

		return r.client.RPush(ctx, r.config.Queue, message).Err()
	}

	if err != nil {
		r.logger.ErrorContext(ctx, "Handler failed for queue event",
			"event_id", event.ID, "instance_id", event.InstanceID, "error", err)
	}

	return nil
}

// decodeEvent parses a queued inbound event and checks the fields the engine
// cannot work without.
func decodeEvent(data []byte) (*events.InboundReceived, error) {
	event := &events.InboundReceived{}

	err := json.Unmarshal(data, event)
	if err != nil {
		return nil, fmt.Errorf("failed to decode inbound event: %w", err)
	}

	if event.InstanceID == "" {
		return nil, errors.New("inbound event is missing instance_id")
	}

	if event.Contact == "" {
		return nil, errors.New("inbound event is missing contact")
	}

	if event.MessageType == "" {
		event.MessageType = "text"
	}

	return event, nil
}
