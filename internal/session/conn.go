package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rafaelmp2/zaprelay/internal/hub"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotConnected is returned by operations that require the session to be
// in the connected phase.
var ErrNotConnected = errors.New("session not connected")

const (
	// reconnectWait is the fixed backoff before re-dialing after an
	// unexpected disconnect.
	reconnectWait = 3 * time.Second
	// retryWait is the longer backoff between attempts when establishing
	// the connection fails at the transport level. Transient errors are
	// retried indefinitely and never surfaced to observers as terminal.
	retryWait = 5 * time.Second
)

// Contact is a person entry as fetched from the provider store.
type Contact struct {
	JID   string
	Name  string
	Phone string
}

// Group is a group entry as fetched from the provider.
type Group struct {
	JID          string
	Subject      string
	Participants []string
}

// Conn owns the single outbound connection to the messaging provider. It
// drives the phase machine and publishes normalized events on the hub;
// provider payload shapes never leak past this package.
type Conn struct {
	client  *whatsmeow.Client
	machine *Machine
	hub     *hub.Hub
	logger  *zap.Logger

	mu        sync.Mutex
	ctx       context.Context
	challenge string
	started   bool
	loggedOut bool

	reconnectWait time.Duration
	retryWait     time.Duration
}

// New creates a connection backed by the whatsmeow session store at dbPath.
func New(ctx context.Context, dbPath string, machine *Machine, h *hub.Hub, logger *zap.Logger) (*Conn, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("ZapRelay", [3]uint32{0, 1, 0})

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath), nil)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, nil)
	// Reconnection is owned here, with the relay's own backoff policy.
	client.EnableAutoReconnect = false

	c := &Conn{
		client:        client,
		machine:       machine,
		hub:           h,
		logger:        logger,
		reconnectWait: reconnectWait,
		retryWait:     retryWait,
	}
	client.AddEventHandler(c.handleEvent)
	return c, nil
}

// Machine exposes the phase machine.
func (c *Conn) Machine() *Machine { return c.machine }

// Connected reports whether the session is operational.
func (c *Conn) Connected() bool { return c.machine.IsConnected() }

// Challenge returns the pending authentication challenge (QR payload), or
// empty if none is outstanding.
func (c *Conn) Challenge() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.challenge
}

func (c *Conn) setChallenge(code string) {
	c.mu.Lock()
	c.challenge = code
	c.mu.Unlock()
}

// SelfJID returns the authenticated account identifier, or empty before
// pairing.
func (c *Conn) SelfJID() string {
	if c.client.Store.ID == nil {
		return ""
	}
	return c.client.Store.ID.ToNonAD().String()
}

// hasCredentials reports whether a previous pairing left usable credentials.
func (c *Conn) hasCredentials() bool {
	return c.client.Store.ID != nil
}

// Start begins establishing the connection. It is idempotent: if an attempt
// is already in flight the call is a no-op. Without persisted credentials a
// fresh authentication challenge is emitted on the hub.
func (c *Conn) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.loggedOut = false
	c.ctx = ctx
	c.mu.Unlock()

	go c.run(ctx)
}

func (c *Conn) run(ctx context.Context) {
	if c.hasCredentials() {
		c.logger.Info("connecting with persisted credentials")
		c.dial(ctx, 0)
		return
	}

	c.logger.Info("no credentials found, starting pairing flow")
	qrChan, err := c.client.GetQRChannel(ctx)
	if err != nil {
		c.logger.Error("failed to open challenge channel", zap.Error(err))
		c.endAttempt()
		return
	}
	if !c.dial(ctx, 0) {
		c.endAttempt()
		return
	}

	for item := range qrChan {
		switch item.Event {
		case "code":
			c.setChallenge(item.Code)
			_ = c.machine.Transition(AwaitingAuth)
			c.hub.Publish(hub.Event{Kind: hub.KindChallenge, Timestamp: time.Now(), Payload: item.Code})
			c.logger.Info("authentication challenge issued")
		case "success":
			c.setChallenge("")
			_ = c.machine.Transition(Authenticated)
			c.hub.Publish(hub.Event{Kind: hub.KindAuthenticated, Timestamp: time.Now()})
			c.logger.Info("authenticated")
			return
		case "timeout":
			c.setChallenge("")
			c.hub.Publish(hub.Event{Kind: hub.KindAuthFailed, Timestamp: time.Now(), Payload: "challenge expired"})
			_ = c.machine.Transition(Disconnected)
			c.logger.Warn("authentication challenge expired")
			c.endAttempt()
			return
		default:
			if item.Error != nil {
				c.setChallenge("")
				c.hub.Publish(hub.Event{Kind: hub.KindAuthFailed, Timestamp: time.Now(), Payload: item.Error.Error()})
				_ = c.machine.Transition(Disconnected)
				c.logger.Warn("authentication failed", zap.Error(item.Error))
				c.endAttempt()
				return
			}
		}
	}
}

// dial connects to the provider, retrying transient failures with the
// longer backoff until it succeeds or ctx is done. An optional initial wait
// implements the post-disconnect backoff. Reports whether a connection
// attempt was issued.
func (c *Conn) dial(ctx context.Context, initialWait time.Duration) bool {
	if initialWait > 0 {
		select {
		case <-time.After(initialWait):
		case <-ctx.Done():
			return false
		}
	}
	for {
		if c.isLoggedOut() {
			return false
		}
		err := c.client.Connect()
		if err == nil {
			return true
		}
		c.logger.Warn("transient connection error, retrying", zap.Error(err), zap.Duration("backoff", c.retryWait))
		select {
		case <-time.After(c.retryWait):
		case <-ctx.Done():
			return false
		}
	}
}

// endAttempt marks the current attempt finished so a fresh Start can begin
// a new one.
func (c *Conn) endAttempt() {
	c.mu.Lock()
	c.started = false
	c.mu.Unlock()
}

func (c *Conn) isLoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

func (c *Conn) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		c.setChallenge("")
		if c.machine.Current() == AwaitingAuth {
			_ = c.machine.Transition(Authenticated)
		}
		_ = c.machine.Transition(Connected)
		c.logger.Info("session connected", zap.String("self", c.SelfJID()))
	case *events.Disconnected:
		c.logger.Warn("session disconnected")
		_ = c.machine.Transition(Disconnected)
		c.scheduleReconnect()
	case *events.LoggedOut:
		reason := evt.Reason.String()
		c.logger.Warn("session logged out", zap.String("reason", reason))
		c.mu.Lock()
		c.loggedOut = true
		c.started = false
		c.mu.Unlock()
		_ = c.machine.Transition(Disconnected)
		c.hub.Publish(hub.Event{Kind: hub.KindClosed, Timestamp: time.Now(), Payload: reason})
	case *events.Message:
		rec := parseInbound(evt, c.SelfJID())
		c.hub.Publish(hub.Event{Kind: hub.KindMsgReceived, Timestamp: time.Now(), Payload: rec})
	}
}

// scheduleReconnect re-dials after the fixed backoff, unless the
// disconnection was a deliberate logout.
func (c *Conn) scheduleReconnect() {
	c.mu.Lock()
	ctx := c.ctx
	loggedOut := c.loggedOut
	c.mu.Unlock()
	if loggedOut || ctx == nil {
		return
	}
	go c.dial(ctx, c.reconnectWait)
}

// SendText sends a text message, blocking until the provider acknowledges
// submission. Returns the provider-assigned message identifier. Requires
// the connected phase.
func (c *Conn) SendText(ctx context.Context, to string, body string) (string, error) {
	if !c.machine.IsConnected() {
		return "", ErrNotConnected
	}
	jid, err := types.ParseJID(to)
	if err != nil {
		return "", fmt.Errorf("parse recipient %q: %w", to, err)
	}
	resp, err := c.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// Contacts fetches the full contact list from the provider store.
func (c *Conn) Contacts(ctx context.Context) ([]Contact, error) {
	if !c.machine.IsConnected() {
		return nil, ErrNotConnected
	}
	all, err := c.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch contacts: %w", err)
	}
	var contacts []Contact
	for jid, info := range all {
		normalized := jid.ToNonAD()
		if normalized.Server != types.DefaultUserServer {
			continue
		}
		name := info.FullName
		if name == "" {
			name = info.PushName
		}
		if name == "" {
			name = normalized.User
		}
		contacts = append(contacts, Contact{
			JID:   normalized.String(),
			Name:  name,
			Phone: normalized.User,
		})
	}
	sort.Slice(contacts, func(i, j int) bool { return contacts[i].JID < contacts[j].JID })
	return contacts, nil
}

// Groups fetches all joined groups from the provider.
func (c *Conn) Groups(ctx context.Context) ([]Group, error) {
	if !c.machine.IsConnected() {
		return nil, ErrNotConnected
	}
	joined, err := c.client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch groups: %w", err)
	}
	var groups []Group
	for _, g := range joined {
		members := make([]string, 0, len(g.Participants))
		for _, p := range g.Participants {
			members = append(members, p.JID.String())
		}
		groups = append(groups, Group{
			JID:          g.JID.String(),
			Subject:      g.Name,
			Participants: members,
		})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].JID < groups[j].JID })
	return groups, nil
}

// Logout deliberately invalidates the session. The phase stays Disconnected
// until a fresh Start; no reconnection is attempted.
func (c *Conn) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.loggedOut = true
	c.started = false
	c.mu.Unlock()
	if err := c.client.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	_ = c.machine.Transition(Disconnected)
	c.hub.Publish(hub.Event{Kind: hub.KindClosed, Timestamp: time.Now(), Payload: "logout"})
	return nil
}

// Stop disconnects from the provider without invalidating credentials.
func (c *Conn) Stop() {
	c.mu.Lock()
	c.loggedOut = true
	c.started = false
	c.mu.Unlock()
	c.client.Disconnect()
}
