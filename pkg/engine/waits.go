package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowzap/flowzap/pkg/events"
	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/session"
)

// ResumeDueWaits resumes every session whose wait timer is due. Conversations
// currently processing an inbound event are skipped and picked up on the next
// sweep. It returns how many sessions resumed.
func (e *Engine) ResumeDueWaits(ctx context.Context) (int, error) {
	timers, err := e.persistence.Waits().Due(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	resumed := 0

	for _, timer := range timers {
		err := e.resumeWait(ctx, timer)
		if errors.Is(err, session.ErrSessionBusy) {
			continue
		}

		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to resume due wait",
				"session_id", timer.SessionID, "error", err)

			continue
		}

		resumed++
	}

	return resumed, nil
}

func (e *Engine) resumeWait(ctx context.Context, timer *models.WaitTimer) error {
	sess, err := e.sessions.Get(ctx, timer.SessionID)
	if err != nil {
		return err
	}

	release, err := e.sessions.Lock(sess.Key())
	if err != nil {
		return err
	}
	defer release()

	sess, err = e.sessions.Get(ctx, timer.SessionID)
	if err != nil {
		return err
	}

	// The timer is stale when an inbound event already cancelled the wait or
	// an operator closed the session. Drop it instead of resuming.
	if sess.Status != models.SessionStatusWaiting || sess.CurrentNodeID != timer.NodeID {
		return e.persistence.Waits().Delete(ctx, timer.SessionID)
	}

	err = e.persistence.Waits().Delete(ctx, timer.SessionID)
	if err != nil {
		return err
	}

	sess.Status = models.SessionStatusRunning

	err = e.persistence.Sessions().Save(ctx, sess)
	if err != nil {
		return err
	}

	e.publish(ctx, sess.Key(), events.WaitDue{
		BaseEvent: events.NewBaseEvent(events.WaitDueEvent, sess.InstanceID),
		SessionID: sess.ID,
		NodeID:    timer.NodeID,
		DueAt:     timer.DueAt,
	})

	graph, instance, err := e.loadRun(ctx, sess)
	if err != nil {
		return err
	}

	return e.walk(ctx, graph, instance, sess, timer.NodeID, models.DefaultPort)
}

// StartWaitSweeper schedules ResumeDueWaits on a fixed interval and starts
// the scheduler. Stop the returned cron to shut the sweeper down.
func (e *Engine) StartWaitSweeper(ctx context.Context, interval time.Duration) (*cron.Cron, error) {
	c := cron.New()

	_, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		_, err := e.ResumeDueWaits(ctx)
		if err != nil {
			e.logger.ErrorContext(ctx, "Wait sweep failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule wait sweeper: %w", err)
	}

	c.Start()

	e.logger.InfoContext(ctx, "Wait sweeper started", "interval", interval.String())

	return c, nil
}
