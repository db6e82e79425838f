package session

import (
	"github.com/rafaelmp2/zaprelay/internal/msglog"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// mediaPlaceholder is the fixed body recorded for message types the relay
// does not render. Unsupported content is kept, not dropped, so history
// counts stay honest.
const mediaPlaceholder = "Media message"

// extractBody normalizes the heterogeneous provider payload shapes (plain
// text, extended text, anything else) into a single body string.
func extractBody(msg *waE2E.Message) string {
	if msg == nil {
		return mediaPlaceholder
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil && ext.GetText() != "" {
		return ext.GetText()
	}
	return mediaPlaceholder
}

// parseInbound converts a live provider message event into a log record.
// self is the authenticated account identifier used as the To side.
func parseInbound(evt *events.Message, self string) msglog.Record {
	return msglog.Record{
		ID:        evt.Info.ID,
		From:      evt.Info.Chat.String(),
		To:        self,
		Body:      extractBody(evt.Message),
		Direction: msglog.DirectionReceived,
		Timestamp: evt.Info.Timestamp.UnixMilli(),
		Status:    msglog.StatusDelivered,
	}
}
