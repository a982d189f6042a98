package worker

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/charlesng35/greentrace/internal/notify"
)

// Inbound adapts the worker to frames sent by page windows over the client channel.
type Inbound struct {
	w *Worker
}

// Inbound returns the adapter the client hub forwards window frames to.
func (w *Worker) Inbound() *Inbound {
	return &Inbound{w: w}
}

// HandleMessage decodes and dispatches a control-channel message. Malformed messages are dropped.
func (i *Inbound) HandleMessage(ctx context.Context, raw json.RawMessage, reply func(v any) error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type == "" {
		i.w.log.Warn("dropping malformed control message", zap.ByteString("payload", raw), zap.Error(err))
		return
	}
	if err := i.w.Message(ctx, msg, reply); err != nil {
		i.w.log.Warn("control message failed", zap.String("type", msg.Type), zap.Error(err))
	}
}

// HandleNotificationClick dispatches a click reported by a window.
func (i *Inbound) HandleNotificationClick(ctx context.Context, click notify.Click) {
	if _, err := i.w.NotificationClick(ctx, click); err != nil {
		i.w.log.Warn("notification click failed", zap.String("action", click.Action), zap.Error(err))
	}
}
