package hub

import "time"

// Event kinds published on the hub. Consumers filter by namespace prefix
// ("session.", "message.", "directory.").
const (
	KindStatus        = "session.status"
	KindChallenge     = "session.challenge"
	KindAuthenticated = "session.authenticated"
	KindAuthFailed    = "session.auth_failed"
	KindClosed        = "session.closed"
	KindMsgReceived   = "message.received"
	KindMsgSent       = "message.sent"
	KindMsgSendFailed = "message.send_failed"
	KindContacts      = "directory.contacts"
	KindGroups        = "directory.groups"
)

// Event is a normalized domain event published on the hub.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
