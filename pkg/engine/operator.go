package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowzap/flowzap/pkg/audit"
	"github.com/flowzap/flowzap/pkg/events"
	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/persistence"
)

var (
	// ErrNotAwaitingHuman means ResumeHuman was called on a session that is
	// not parked at a human node.
	ErrNotAwaitingHuman = errors.New("session is not awaiting a human operator")

	// ErrSessionClosed means the session already completed or errored.
	ErrSessionClosed = errors.New("session is closed")
)

// ResumeHuman hands a conversation back to the flow after a human node. The
// walk continues from the human node's outgoing edge.
func (e *Engine) ResumeHuman(ctx context.Context, sessionID, operator string) error {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	release, err := e.sessions.Lock(sess.Key())
	if err != nil {
		return err
	}
	defer release()

	// Reload under the lock; the copy above raced with the event loop.
	sess, err = e.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	if sess.Status != models.SessionStatusAwaitingHuman {
		return fmt.Errorf("resume session %s: %w", sessionID, ErrNotAwaitingHuman)
	}

	graph, instance, err := e.loadRun(ctx, sess)
	if err != nil {
		return err
	}

	sess.Status = models.SessionStatusRunning

	entry := audit.NewStepEntry(sess, sess.CurrentNodeID, models.DirectionOutbound, "resume",
		map[string]any{"operator": operator}, models.LogStatusSuccess, "")

	err = e.persistence.Sessions().SaveStep(ctx, sess, entry)
	if err != nil {
		return err
	}

	e.publish(ctx, sess.Key(), events.SessionResumed{
		BaseEvent: events.NewBaseEvent(events.SessionResumedEvent, sess.InstanceID),
		SessionID: sess.ID,
		Operator:  operator,
	})

	return e.walk(ctx, graph, instance, sess, sess.CurrentNodeID, models.DefaultPort)
}

// Terminate force-closes an open session. Any pending wait timer is removed
// so the sweeper never resurrects it.
func (e *Engine) Terminate(ctx context.Context, sessionID, operator string) error {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	release, err := e.sessions.Lock(sess.Key())
	if err != nil {
		return err
	}
	defer release()

	sess, err = e.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	if !sess.Open() {
		return fmt.Errorf("terminate session %s: %w", sessionID, ErrSessionClosed)
	}

	err = e.persistence.Waits().Delete(ctx, sess.ID)
	if err != nil && !errors.Is(err, persistence.ErrWaitNotFound) {
		return err
	}

	sess.Status = models.SessionStatusErrored

	entry := audit.NewStepEntry(sess, sess.CurrentNodeID, models.DirectionOutbound, "terminate",
		map[string]any{"operator": operator}, models.LogStatusSuccess, "")

	err = e.persistence.Sessions().SaveStep(ctx, sess, entry)
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Session terminated",
		"session_id", sess.ID, "operator", operator)

	e.publish(ctx, sess.Key(), events.SessionTerminated{
		BaseEvent: events.NewBaseEvent(events.SessionTerminatedEvent, sess.InstanceID),
		SessionID: sess.ID,
		Operator:  operator,
	})

	return nil
}

// loadRun fetches the graph and instance a session executes against.
func (e *Engine) loadRun(ctx context.Context, sess *models.Session) (*models.Graph, *models.Instance, error) {
	version, err := e.persistence.Versions().GetByID(ctx, sess.FlowVersionID)
	if err != nil {
		return nil, nil, err
	}

	instance, err := e.persistence.Instances().GetByID(ctx, sess.InstanceID)
	if err != nil {
		return nil, nil, err
	}

	return version.Graph, instance, nil
}
