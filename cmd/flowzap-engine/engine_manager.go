package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowzap/flowzap/pkg/audit"
	"github.com/flowzap/flowzap/pkg/engine"
	"github.com/flowzap/flowzap/pkg/eventbus"
	"github.com/flowzap/flowzap/pkg/events"
	"github.com/flowzap/flowzap/pkg/gateway"
	"github.com/flowzap/flowzap/pkg/otelhelper"
	"github.com/flowzap/flowzap/pkg/persistence"
	"github.com/flowzap/flowzap/pkg/receivers/queue"
	"github.com/flowzap/flowzap/pkg/session"
)

const defaultSweepInterval = 5 * time.Second

// ManagerOptions carries the optional pieces of the engine process.
type ManagerOptions struct {
	RedisAddr     string
	RedisQueue    string
	SweepInterval time.Duration
}

type EngineManager struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	gateway     *gateway.Client
	options     ManagerOptions

	engine *engine.Engine
}

func NewEngineManager(
	id string,
	p persistence.Persistence,
	eventBus eventbus.EventBus,
	gatewayClient *gateway.Client,
	logger *slog.Logger,
	options ManagerOptions,
) *EngineManager {
	if options.SweepInterval <= 0 {
		options.SweepInterval = defaultSweepInterval
	}

	return &EngineManager{
		id:          id,
		logger:      logger,
		persistence: p,
		eventBus:    eventBus,
		gateway:     gatewayClient,
		options:     options,
	}
}

func (m *EngineManager) Start(ctx context.Context) error {
	tracer, err := otelhelper.NewTracer(ctx, "flowzap-engine")
	if err != nil {
		m.logger.WarnContext(ctx, "Tracing disabled", "error", err)

		tracer = nil
	}

	m.engine = engine.New(engine.Config{
		Persistence: m.persistence,
		Sessions:    session.NewManager(m.persistence, m.logger),
		Sender:      m.gateway,
		Recorder:    audit.NewRecorder(m.persistence, m.logger),
		Publisher:   m.eventBus,
		Tracer:      tracer,
		Logger:      m.logger,
	})

	err = m.eventBus.Handle(events.InboundReceivedEvent, m.handleInboundReceived)
	if err != nil {
		return err
	}

	err = m.eventBus.Subscribe(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	sweeper, err := m.engine.StartWaitSweeper(ctx, m.options.SweepInterval)
	if err != nil {
		return err
	}
	defer sweeper.Stop()

	receiver, err := m.startQueueReceiver(ctx)
	if err != nil {
		return err
	}

	if receiver != nil {
		defer func() {
			err := receiver.Stop()
			if err != nil {
				m.logger.ErrorContext(ctx, "Failed to stop queue receiver", "error", err)
			}
		}()
	}

	m.logger.InfoContext(ctx, "Engine started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	m.logger.InfoContext(ctx, "Shutting down engine...")

	return nil
}

// handleInboundReceived runs one event through the engine. Busy conversations
// return the error so the message is nacked and redelivered in order.
func (m *EngineManager) handleInboundReceived(ctx context.Context, event any) error {
	inbound, ok := event.(*events.InboundReceived)
	if !ok {
		m.logger.ErrorContext(ctx, "Invalid event type for InboundReceived")

		return nil
	}

	m.logger.InfoContext(ctx, "Processing inbound event",
		"event_id", inbound.ID, "instance_id", inbound.InstanceID, "contact", inbound.Contact)

	return m.engine.HandleInbound(ctx, inbound)
}

// startQueueReceiver wires the optional Redis inbound queue. Gateways that
// cannot reach the webhook endpoint push events there.
func (m *EngineManager) startQueueReceiver(ctx context.Context) (*queue.Receiver, error) {
	if m.options.RedisAddr == "" {
		return nil, nil
	}

	receiver, err := queue.NewReceiver(queue.Config{
		Addr:  m.options.RedisAddr,
		Queue: m.options.RedisQueue,
	}, m.engine.HandleInbound, m.logger)
	if err != nil {
		return nil, err
	}

	err = receiver.Start(ctx)
	if err != nil {
		return nil, err
	}

	return receiver, nil
}
