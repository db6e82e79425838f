package msglog

import (
	"context"

	"github.com/rafaelmp2/zaprelay/internal/hub"
	"go.uber.org/zap"
)

// Recorder subscribes to inbound message events and appends them to the
// log. Outbound records are appended synchronously by the send gateway, so
// the recorder only cares about message.received.
type Recorder struct {
	log    *Log
	hub    *hub.Hub
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewRecorder creates a recorder draining message events from the hub.
func NewRecorder(log *Log, h *hub.Hub, logger *zap.Logger) *Recorder {
	return &Recorder{log: log, hub: h, logger: logger}
}

// Start begins consuming inbound message events.
func (r *Recorder) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	ch, unsub := r.hub.Subscribe(hub.KindMsgReceived, 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				rec, ok := evt.Payload.(Record)
				if !ok {
					r.logger.Warn("unexpected message.received payload")
					continue
				}
				r.log.Append(rec)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the recorder.
func (r *Recorder) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}
