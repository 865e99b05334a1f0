// Package engine walks flow graphs in response to conversation events. Each
// inbound event advances at most one session, executing nodes until the walk
// suspends (condition, wait, human) or the graph runs out of edges.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/flowzap/flowzap/pkg/audit"
	"github.com/flowzap/flowzap/pkg/eventbus"
	"github.com/flowzap/flowzap/pkg/events"
	"github.com/flowzap/flowzap/pkg/gateway"
	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/otelhelper"
	"github.com/flowzap/flowzap/pkg/persistence"
	"github.com/flowzap/flowzap/pkg/session"
	"github.com/flowzap/flowzap/pkg/template"
)

const (
	defaultHTTPTimeout = 30 * time.Second

	// maxStepsPerEvent bounds a single walk. Validated graphs cannot loop
	// without suspending, but the engine refuses to trust that with its
	// liveness.
	maxStepsPerEvent = 100
)

// errStepFailed reports that a node failed and the failure was already
// written to the session and the log. It stops the walk; absorbFailure
// strips it before the error reaches the delivery pipeline.
var errStepFailed = errors.New("step failed")

func absorbFailure(err error) error {
	if errors.Is(err, errStepFailed) {
		return nil
	}

	return err
}

// Config carries the engine's collaborators. Publisher and Tracer may be
// nil.
type Config struct {
	Persistence persistence.Persistence
	Sessions    *session.Manager
	Sender      gateway.Sender
	Recorder    *audit.Recorder
	Publisher   eventbus.EventPublisher
	Tracer      trace.Tracer
	Logger      *slog.Logger
	HTTPTimeout time.Duration
}

// Engine executes flow graphs for conversations.
type Engine struct {
	persistence persistence.Persistence
	sessions    *session.Manager
	sender      gateway.Sender
	recorder    *audit.Recorder
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger
	httpClient  *http.Client
}

func New(cfg Config) *Engine {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("engine")
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return &Engine{
		persistence: cfg.Persistence,
		sessions:    cfg.Sessions,
		sender:      cfg.Sender,
		recorder:    cfg.Recorder,
		publisher:   cfg.Publisher,
		tracer:      tracer,
		logger:      cfg.Logger.With("module", "engine"),
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// HandleInbound consumes one inbound gateway event under the conversation
// lock. A second event for the same conversation gets session.ErrSessionBusy
// and should be redelivered.
func (e *Engine) HandleInbound(ctx context.Context, event *events.InboundReceived) error {
	key := models.SessionKey(event.InstanceID, event.Contact)

	release, err := e.sessions.Lock(key)
	if err != nil {
		return err
	}
	defer release()

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.handle_inbound",
		attribute.String(otelhelper.InstanceIDKey, event.InstanceID),
		attribute.String(otelhelper.ContactKey, event.Contact),
	)
	defer span.End()

	instance, err := e.persistence.Instances().GetByID(ctx, event.InstanceID)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	sess, trigger, err := e.sessions.FindOrCreate(ctx, instance, event.Contact, event.Text, e.activeVersions)
	if errors.Is(err, session.ErrNoMatchingTrigger) {
		// Audited and dropped; the conversation never started.
		entry := audit.NewInboundEntry(instance.ID, event.Contact, event.MessageType,
			inboundContent(event), models.LogStatusPending, err.Error())

		return e.recorder.Record(ctx, entry)
	}

	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	span.SetAttributes(
		attribute.String(otelhelper.SessionIDKey, sess.ID),
		attribute.String(otelhelper.FlowVersionIDKey, sess.FlowVersionID),
	)

	version, err := e.persistence.Versions().GetByID(ctx, sess.FlowVersionID)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	graph := version.Graph

	if trigger != nil {
		e.publish(ctx, key, events.SessionStarted{
			BaseEvent:     events.NewBaseEvent(events.SessionStartedEvent, instance.ID),
			SessionID:     sess.ID,
			FlowID:        version.FlowID,
			FlowVersionID: version.ID,
			Contact:       sess.Contact,
		})

		return e.walk(ctx, graph, instance, sess, trigger.ID, models.DefaultPort)
	}

	node := graph.Node(sess.CurrentNodeID)
	if node == nil {
		return absorbFailure(e.failStep(ctx, sess, sess.CurrentNodeID, "resume", nil,
			fmt.Errorf("session cursor points at unknown node %s", sess.CurrentNodeID)))
	}

	switch sess.Status {
	case models.SessionStatusWaiting:
		return e.interruptWait(ctx, graph, instance, sess, node, event)
	case models.SessionStatusAwaitingHuman:
		return e.holdForOperator(ctx, sess, node, event)
	case models.SessionStatusRunning:
		if node.Kind == models.NodeKindCondition {
			return e.consumeReply(ctx, graph, instance, sess, node, event)
		}

		// Cursor parked on a non-suspending node means a previous walk was
		// cut short; resume it without consuming the event as a reply.
		return e.walk(ctx, graph, instance, sess, node.ID, models.DefaultPort)
	case models.SessionStatusCompleted, models.SessionStatusErrored:
		// FindOpen never returns closed sessions; nothing to do.
		return nil
	}

	return nil
}

// interruptWait applies the cancel policy: the inbound event cancels the
// durable timer, is consumed by the cancellation, and the walk resumes.
func (e *Engine) interruptWait(ctx context.Context, graph *models.Graph, instance *models.Instance, sess *models.Session, node *models.Node, event *events.InboundReceived) error {
	err := e.persistence.Waits().Delete(ctx, sess.ID)
	if err != nil && !errors.Is(err, persistence.ErrWaitNotFound) {
		return err
	}

	sess.Status = models.SessionStatusRunning

	content := inboundContent(event)
	content["interrupted_wait"] = true

	entry := audit.NewStepEntry(sess, node.ID, models.DirectionInbound, event.MessageType,
		content, models.LogStatusSuccess, "")

	err = e.persistence.Sessions().SaveStep(ctx, sess, entry)
	if err != nil {
		return err
	}

	return e.walk(ctx, graph, instance, sess, node.ID, models.DefaultPort)
}

// holdForOperator audits events arriving while an operator owns the
// conversation. The session does not move.
func (e *Engine) holdForOperator(ctx context.Context, sess *models.Session, node *models.Node, event *events.InboundReceived) error {
	entry := audit.NewStepEntry(sess, node.ID, models.DirectionInbound, event.MessageType,
		inboundContent(event), models.LogStatusPending, "session awaiting human operator")

	return e.recorder.Record(ctx, entry)
}

// consumeReply matches the inbound text against the condition's options. A
// match follows that branch; no match holds the session at the condition.
func (e *Engine) consumeReply(ctx context.Context, graph *models.Graph, instance *models.Instance, sess *models.Session, node *models.Node, event *events.InboundReceived) error {
	option := matchOption(node, event.Text)
	if option == nil {
		entry := audit.NewStepEntry(sess, node.ID, models.DirectionInbound, event.MessageType,
			inboundContent(event), models.LogStatusPending, "no option matches the reply")

		return e.recorder.Record(ctx, entry)
	}

	content := inboundContent(event)
	content["option_id"] = option.ID

	entry := audit.NewStepEntry(sess, node.ID, models.DirectionInbound, event.MessageType,
		content, models.LogStatusSuccess, "")

	err := e.persistence.Sessions().SaveStep(ctx, sess, entry)
	if err != nil {
		return err
	}

	return e.walk(ctx, graph, instance, sess, node.ID, option.ID)
}

// walk executes nodes starting from the edge out of (fromNode, port) until
// the session suspends, fails, or completes.
func (e *Engine) walk(ctx context.Context, graph *models.Graph, instance *models.Instance, sess *models.Session, fromNode, port string) error {
	currentID, currentPort := fromNode, port

	for steps := 0; ; steps++ {
		if steps >= maxStepsPerEvent {
			return absorbFailure(e.failStep(ctx, sess, currentID, "walk", nil,
				fmt.Errorf("step budget of %d exceeded", maxStepsPerEvent)))
		}

		targets := graph.Outgoing(currentID, currentPort)
		if len(targets) == 0 {
			return e.complete(ctx, sess)
		}

		node := graph.Node(targets[0])
		if node == nil {
			return absorbFailure(e.failStep(ctx, sess, targets[0], "walk", nil,
				fmt.Errorf("edge targets unknown node %s", targets[0])))
		}

		session.Advance(sess, node.ID)

		suspended, err := e.executeNode(ctx, graph, instance, sess, node)
		if err != nil || suspended {
			return absorbFailure(err)
		}

		currentID, currentPort = node.ID, models.DefaultPort
	}
}

// executeNode runs one node. It reports suspension; node failures surface
// as errStepFailed so the walk stops instead of executing past an errored
// session.
func (e *Engine) executeNode(ctx context.Context, graph *models.Graph, instance *models.Instance, sess *models.Session, node *models.Node) (bool, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.execute_node",
		attribute.String(otelhelper.SessionIDKey, sess.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeKindKey, string(node.Kind)),
	)
	defer span.End()

	switch node.Kind {
	case models.NodeKindMessage:
		return false, e.execMessage(ctx, instance, sess, node)
	case models.NodeKindMedia:
		return false, e.execMedia(ctx, instance, sess, node)
	case models.NodeKindHTTP:
		return false, e.execHTTP(ctx, sess, node)
	case models.NodeKindVariable:
		return false, e.execVariable(ctx, sess, node)
	case models.NodeKindCondition:
		return true, e.suspendAtCondition(ctx, sess, node)
	case models.NodeKindWait:
		return true, e.suspendAtWait(ctx, sess, node)
	case models.NodeKindHuman:
		return true, e.suspendAtHuman(ctx, sess, node)
	case models.NodeKindTrigger:
		// Entry point only; nothing to execute.
		return false, nil
	}

	return false, e.failStep(ctx, sess, node.ID, string(node.Kind), nil,
		fmt.Errorf("unsupported node kind %q", node.Kind))
}

func (e *Engine) execMessage(ctx context.Context, instance *models.Instance, sess *models.Session, node *models.Node) error {
	text, err := template.Render(node.Config.Message.Text, sess.Variables)
	if err != nil {
		return e.failStep(ctx, sess, node.ID, "text", nil, err)
	}

	err = e.sender.SendText(ctx, gatewayInstance(instance), sess.Contact, text)
	if err != nil {
		return e.failStep(ctx, sess, node.ID, "text", map[string]any{"text": text}, err)
	}

	return e.saveStep(ctx, sess, node, models.DirectionOutbound, "text", map[string]any{"text": text})
}

func (e *Engine) execMedia(ctx context.Context, instance *models.Instance, sess *models.Session, node *models.Node) error {
	url, err := template.Render(node.Config.Media.URL, sess.Variables)
	if err != nil {
		return e.failStep(ctx, sess, node.ID, "media", nil, err)
	}

	err = e.sender.SendMedia(ctx, gatewayInstance(instance), sess.Contact, url)
	if err != nil {
		return e.failStep(ctx, sess, node.ID, "media", map[string]any{"url": url}, err)
	}

	return e.saveStep(ctx, sess, node, models.DirectionOutbound, "media", map[string]any{"url": url})
}

func (e *Engine) execVariable(ctx context.Context, sess *models.Session, node *models.Node) error {
	value, err := template.Render(node.Config.Variable.Value, sess.Variables)
	if err != nil {
		return e.failStep(ctx, sess, node.ID, "variable", nil, err)
	}

	session.Bind(sess, node.Config.Variable.Name, value)

	return e.saveStep(ctx, sess, node, models.DirectionOutbound, "variable",
		map[string]any{"name": node.Config.Variable.Name, "value": value})
}

func (e *Engine) suspendAtCondition(ctx context.Context, sess *models.Session, node *models.Node) error {
	// The condition executes later, when a reply arrives; only the cursor
	// moves now.
	sess.Status = models.SessionStatusRunning

	err := e.persistence.Sessions().Save(ctx, sess)
	if err != nil {
		return err
	}

	e.publishSuspended(ctx, sess, node)

	return nil
}

func (e *Engine) suspendAtWait(ctx context.Context, sess *models.Session, node *models.Node) error {
	due := time.Now().UTC().Add(time.Duration(node.Config.Wait.Seconds) * time.Second)
	sess.Status = models.SessionStatusWaiting

	entry := audit.NewStepEntry(sess, node.ID, models.DirectionOutbound, "wait",
		map[string]any{"seconds": node.Config.Wait.Seconds, "due_at": due.Format(time.RFC3339)},
		models.LogStatusSuccess, "")

	err := e.persistence.Sessions().SaveStep(ctx, sess, entry)
	if err != nil {
		return err
	}

	err = e.persistence.Waits().Save(ctx, &models.WaitTimer{SessionID: sess.ID, NodeID: node.ID, DueAt: due})
	if err != nil {
		return err
	}

	e.publishSuspended(ctx, sess, node)

	return nil
}

func (e *Engine) suspendAtHuman(ctx context.Context, sess *models.Session, node *models.Node) error {
	sess.Status = models.SessionStatusAwaitingHuman

	instruction := ""
	if node.Config.Human != nil {
		instruction = node.Config.Human.Instruction
	}

	entry := audit.NewStepEntry(sess, node.ID, models.DirectionOutbound, "human",
		map[string]any{"instruction": instruction}, models.LogStatusSuccess, "")

	err := e.persistence.Sessions().SaveStep(ctx, sess, entry)
	if err != nil {
		return err
	}

	e.publishSuspended(ctx, sess, node)

	return nil
}

// saveStep persists the advanced session together with its audit entry.
func (e *Engine) saveStep(ctx context.Context, sess *models.Session, node *models.Node, direction models.Direction, messageType string, content map[string]any) error {
	entry := audit.NewStepEntry(sess, node.ID, direction, messageType, content, models.LogStatusSuccess, "")

	err := e.persistence.Sessions().SaveStep(ctx, sess, entry)
	if err != nil {
		return err
	}

	e.publish(ctx, sess.Key(), events.SessionStepCompleted{
		BaseEvent: events.NewBaseEvent(events.SessionStepCompletedEvent, sess.InstanceID),
		SessionID: sess.ID,
		NodeID:    node.ID,
		NodeKind:  string(node.Kind),
		Status:    string(models.LogStatusSuccess),
	})

	return nil
}

// failStep marks the session errored and records the failed step. The event
// is considered consumed: the error lives in the session and the log, not in
// the delivery pipeline.
func (e *Engine) failStep(ctx context.Context, sess *models.Session, nodeID, messageType string, content map[string]any, cause error) error {
	e.logger.ErrorContext(ctx, "Step failed",
		"session_id", sess.ID, "node_id", nodeID, "error", cause)

	sess.Status = models.SessionStatusErrored

	entry := audit.NewStepEntry(sess, nodeID, models.DirectionOutbound, messageType,
		content, models.LogStatusFailed, cause.Error())

	err := e.persistence.Sessions().SaveStep(ctx, sess, entry)
	if err != nil {
		return err
	}

	e.publish(ctx, sess.Key(), events.SessionFailed{
		BaseEvent: events.NewBaseEvent(events.SessionFailedEvent, sess.InstanceID),
		SessionID: sess.ID,
		NodeID:    nodeID,
		Error:     cause.Error(),
	})

	return errStepFailed
}

func (e *Engine) complete(ctx context.Context, sess *models.Session) error {
	sess.Status = models.SessionStatusCompleted

	err := e.persistence.Sessions().Save(ctx, sess)
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Session completed", "session_id", sess.ID)

	e.publish(ctx, sess.Key(), events.SessionCompleted{
		BaseEvent: events.NewBaseEvent(events.SessionCompletedEvent, sess.InstanceID),
		SessionID: sess.ID,
	})

	return nil
}

// activeVersions resolves the candidate flow versions for an instance
// through its organization's flows.
func (e *Engine) activeVersions(ctx context.Context, instance *models.Instance) ([]*models.FlowVersion, error) {
	flows, err := e.persistence.Flows().List(ctx, instance.OrganizationID)
	if err != nil {
		return nil, err
	}

	versions := make([]*models.FlowVersion, 0, len(flows))

	for _, f := range flows {
		version, err := e.persistence.Versions().Active(ctx, f.ID)
		if errors.Is(err, persistence.ErrNoActiveVersion) {
			continue
		}

		if err != nil {
			return nil, err
		}

		versions = append(versions, version)
	}

	return versions, nil
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}

func (e *Engine) publishSuspended(ctx context.Context, sess *models.Session, node *models.Node) {
	e.publish(ctx, sess.Key(), events.SessionSuspended{
		BaseEvent: events.NewBaseEvent(events.SessionSuspendedEvent, sess.InstanceID),
		SessionID: sess.ID,
		NodeID:    node.ID,
		Status:    string(sess.Status),
	})
}

// matchOption finds the condition option whose label or id equals the reply,
// trimmed and case-insensitive.
func matchOption(node *models.Node, text string) *models.ConditionOption {
	if node.Config.Condition == nil {
		return nil
	}

	trimmed := trimFold(text)

	for i := range node.Config.Condition.Options {
		option := &node.Config.Condition.Options[i]

		if trimFold(option.Label) == trimmed || trimFold(option.ID) == trimmed {
			return option
		}
	}

	return nil
}

func trimFold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// gatewayInstance returns the provider-side identifier of an instance.
func gatewayInstance(instance *models.Instance) string {
	if instance.ExternalID != "" {
		return instance.ExternalID
	}

	return instance.ID
}

func inboundContent(event *events.InboundReceived) map[string]any {
	content := make(map[string]any, len(event.Payload)+1)

	for key, value := range event.Payload {
		content[key] = value
	}

	if event.Text != "" {
		content["text"] = event.Text
	}

	return content
}
