// Package gateway serializes single and bulk send requests onto the one
// active session. It is the sole caller of the session's send operation.
package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rafaelmp2/zaprelay/internal/hub"
	"github.com/rafaelmp2/zaprelay/internal/msglog"
	"github.com/rafaelmp2/zaprelay/internal/personalize"
	"github.com/rafaelmp2/zaprelay/internal/session"
	"go.uber.org/zap"
)

// DefaultBulkDelay is the pacing between bulk sends when the job does not
// specify one.
const DefaultBulkDelay = 3000 * time.Millisecond

// Session is the slice of the session connection the gateway needs.
type Session interface {
	Connected() bool
	SendText(ctx context.Context, to string, body string) (string, error)
}

// BulkJob describes one bulk-personalization campaign. Jobs are ephemeral:
// they live for a single SendBulk call.
type BulkJob struct {
	Recipients []personalize.Recipient
	Template   string
	Delay      time.Duration
}

// BulkResult is the final tally of a bulk job.
type BulkResult struct {
	JobID   string        `json:"jobId"`
	Total   int           `json:"total"`
	Success int           `json:"success"`
	Failed  int           `json:"failed"`
	Errors  []SendFailure `json:"errors"`
}

// Gateway validates, personalizes, paces and forwards send requests.
type Gateway struct {
	sess   Session
	log    *msglog.Log
	hub    *hub.Hub
	logger *zap.Logger

	defaultDelay time.Duration
	sendMu       sync.Mutex
	bulkRunning  atomic.Bool

	// sleep and now are swapped out in tests for a simulated clock.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates a gateway. defaultDelay <= 0 selects DefaultBulkDelay.
func New(sess Session, log *msglog.Log, h *hub.Hub, defaultDelay time.Duration, logger *zap.Logger) *Gateway {
	if defaultDelay <= 0 {
		defaultDelay = DefaultBulkDelay
	}
	return &Gateway{
		sess:         sess,
		log:          log,
		hub:          h,
		logger:       logger,
		defaultDelay: defaultDelay,
		sleep:        sleepCtx,
		now:          time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send validates and forwards a single message. On success the record is
// appended to the log with status sent and a message.sent event is
// published. A failure is returned to the caller without retry, with no log
// entry and no broadcast.
func (g *Gateway) Send(ctx context.Context, to string, body string) (msglog.Record, error) {
	if to == "" {
		return msglog.Record{}, &ValidationError{Field: "to"}
	}
	if body == "" {
		return msglog.Record{}, &ValidationError{Field: "message"}
	}
	if !g.sess.Connected() {
		return msglog.Record{}, session.ErrNotConnected
	}
	return g.deliver(ctx, to, body, false)
}

// deliver performs the provider send under the send mutex, so no two sends
// are ever in flight on the session at once.
func (g *Gateway) deliver(ctx context.Context, to string, body string, bulk bool) (msglog.Record, error) {
	g.sendMu.Lock()
	id, err := g.sess.SendText(ctx, to, body)
	g.sendMu.Unlock()
	if err != nil {
		return msglog.Record{}, err
	}

	rec := msglog.Record{
		ID:        id,
		To:        to,
		Body:      body,
		Direction: msglog.DirectionSent,
		Timestamp: g.now().UnixMilli(),
		Status:    msglog.StatusSent,
		Bulk:      bulk,
	}
	g.log.Append(rec)
	g.hub.Publish(hub.Event{Kind: hub.KindMsgSent, Timestamp: g.now(), Payload: rec})
	return rec, nil
}

// SendBulk runs one bulk-personalization campaign: recipients strictly in
// input order, one at a time, with the job delay elapsing between sends but
// not after the last. A per-recipient failure is tallied and processing
// continues; the final tally always satisfies success+failed == total for a
// run that completes. A second concurrent call is rejected with ErrBusy.
// Cancellation stops before the next recipient's send, never mid-send.
func (g *Gateway) SendBulk(ctx context.Context, job BulkJob) (*BulkResult, error) {
	if len(job.Recipients) == 0 {
		return nil, &ValidationError{Field: "recipients"}
	}
	if job.Template == "" {
		return nil, &ValidationError{Field: "messageTemplate"}
	}
	if !g.sess.Connected() {
		return nil, session.ErrNotConnected
	}
	if !g.bulkRunning.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer g.bulkRunning.Store(false)

	delay := job.Delay
	if delay <= 0 {
		delay = g.defaultDelay
	}

	res := &BulkResult{
		JobID:  uuid.NewString(),
		Total:  len(job.Recipients),
		Errors: []SendFailure{},
	}
	g.logger.Info("bulk job started",
		zap.String("job_id", res.JobID),
		zap.Int("recipients", res.Total),
		zap.Duration("delay", delay))

	for i, r := range job.Recipients {
		if i > 0 {
			if err := g.sleep(ctx, delay); err != nil {
				g.logger.Warn("bulk job canceled", zap.String("job_id", res.JobID), zap.Int("sent", i))
				return res, err
			}
		}

		body := personalize.Apply(job.Template, r)
		if _, err := g.deliver(ctx, r.JID, body, true); err != nil {
			res.Failed++
			failure := SendFailure{Recipient: r.JID, Error: err.Error()}
			res.Errors = append(res.Errors, failure)
			g.hub.Publish(hub.Event{Kind: hub.KindMsgSendFailed, Timestamp: g.now(), Payload: failure})
			g.logger.Warn("bulk send failed",
				zap.String("job_id", res.JobID), zap.String("recipient", r.JID), zap.Error(err))
			continue
		}
		res.Success++
	}

	g.logger.Info("bulk job finished",
		zap.String("job_id", res.JobID),
		zap.Int("success", res.Success),
		zap.Int("failed", res.Failed))
	return res, nil
}
