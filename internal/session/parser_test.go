package session

import (
	"testing"
	"time"

	"github.com/rafaelmp2/zaprelay/internal/msglog"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func TestExtractBody(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil message", nil, mediaPlaceholder},
		{"conversation", &waE2E.Message{Conversation: proto.String("hello")}, "hello"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("extended")}}, "extended"},
		{"image placeholder", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, mediaPlaceholder},
		{"empty message placeholder", &waE2E.Message{}, mediaPlaceholder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractBody(tt.msg); got != tt.want {
				t.Errorf("extractBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseInbound(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	evt := &events.Message{
		Info: types.MessageInfo{
			ID:        "MSG123",
			Timestamp: ts,
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "5511999", Server: "s.whatsapp.net"},
				Sender: types.JID{User: "5511999", Server: "s.whatsapp.net"},
			},
		},
		Message: &waE2E.Message{Conversation: proto.String("hello world")},
	}

	rec := parseInbound(evt, "me@s.whatsapp.net")

	if rec.ID != "MSG123" {
		t.Errorf("ID = %q, want MSG123", rec.ID)
	}
	if rec.From != "5511999@s.whatsapp.net" {
		t.Errorf("From = %q", rec.From)
	}
	if rec.To != "me@s.whatsapp.net" {
		t.Errorf("To = %q", rec.To)
	}
	if rec.Body != "hello world" {
		t.Errorf("Body = %q", rec.Body)
	}
	if rec.Direction != msglog.DirectionReceived {
		t.Errorf("Direction = %q, want received", rec.Direction)
	}
	if rec.Status != msglog.StatusDelivered {
		t.Errorf("Status = %q, want delivered", rec.Status)
	}
	if rec.Timestamp != 1700000000000 {
		t.Errorf("Timestamp = %d", rec.Timestamp)
	}
}

// TestParseInboundMediaPlaceholder verifies unsupported content is recorded
// with the fixed placeholder body instead of being dropped, keeping history
// counts intact.
func TestParseInboundMediaPlaceholder(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			ID:        "M2",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat: types.JID{User: "x", Server: "s.whatsapp.net"},
			},
		},
		Message: &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}},
	}

	rec := parseInbound(evt, "me@s.whatsapp.net")
	if rec.Body != mediaPlaceholder {
		t.Errorf("Body = %q, want placeholder", rec.Body)
	}
}
