// Package directory mirrors the provider's contact and group lists in
// memory. The mirror is replaced wholesale on each refresh; a failed fetch
// leaves the previous snapshot intact.
package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rafaelmp2/zaprelay/internal/hub"
	"github.com/rafaelmp2/zaprelay/internal/session"
	"go.uber.org/zap"
)

// Entry kinds.
const (
	KindPerson = "person"
	KindGroup  = "group"
)

// Entry is one contact or group in the directory.
type Entry struct {
	JID          string   `json:"jid"`
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	Phone        string   `json:"phone,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

// Provider fetches directory data from the messaging provider.
type Provider interface {
	Contacts(ctx context.Context) ([]session.Contact, error)
	Groups(ctx context.Context) ([]session.Group, error)
}

// settleWait delays the automatic refresh after connecting, giving the
// provider side time to settle.
const settleWait = 2 * time.Second

// Cache is the in-memory directory mirror.
type Cache struct {
	mu       sync.RWMutex
	contacts []Entry
	groups   []Entry

	provider Provider
	hub      *hub.Hub
	logger   *zap.Logger
	settle   time.Duration
	cancel   context.CancelFunc
}

// New creates an empty cache.
func New(provider Provider, h *hub.Hub, logger *zap.Logger) *Cache {
	return &Cache{
		provider: provider,
		hub:      h,
		logger:   logger,
		settle:   settleWait,
	}
}

// Refresh fetches the full contact and group lists and replaces the cache
// wholesale. All-or-nothing: if either fetch fails the cache is not touched
// and the previous snapshot stays visible.
func (c *Cache) Refresh(ctx context.Context) error {
	rawContacts, err := c.provider.Contacts(ctx)
	if err != nil {
		return fmt.Errorf("refresh contacts: %w", err)
	}
	rawGroups, err := c.provider.Groups(ctx)
	if err != nil {
		return fmt.Errorf("refresh groups: %w", err)
	}

	contacts := make([]Entry, 0, len(rawContacts))
	for _, ct := range rawContacts {
		contacts = append(contacts, Entry{
			JID:   ct.JID,
			Name:  ct.Name,
			Kind:  KindPerson,
			Phone: ct.Phone,
		})
	}
	groups := make([]Entry, 0, len(rawGroups))
	for _, g := range rawGroups {
		groups = append(groups, Entry{
			JID:          g.JID,
			Name:         g.Subject,
			Kind:         KindGroup,
			Participants: g.Participants,
		})
	}

	c.mu.Lock()
	c.contacts = contacts
	c.groups = groups
	c.mu.Unlock()

	c.logger.Info("directory refreshed",
		zap.Int("contacts", len(contacts)), zap.Int("groups", len(groups)))

	now := time.Now()
	c.hub.Publish(hub.Event{Kind: hub.KindContacts, Timestamp: now, Payload: contacts})
	c.hub.Publish(hub.Event{Kind: hub.KindGroups, Timestamp: now, Payload: groups})
	return nil
}

// Watch subscribes to session status changes and refreshes the cache a
// short settle delay after the session becomes connected.
func (c *Cache) Watch(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	ch, unsub := c.hub.Subscribe(hub.KindStatus, 64)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				change, ok := evt.Payload.(session.StatusChange)
				if !ok || !change.Connected() {
					continue
				}
				go c.refreshAfterSettle(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Cache) refreshAfterSettle(ctx context.Context) {
	select {
	case <-time.After(c.settle):
	case <-ctx.Done():
		return
	}
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("automatic directory refresh failed", zap.Error(err))
	}
}

// Stop stops the watcher.
func (c *Cache) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Contacts returns the current contact snapshot.
func (c *Cache) Contacts() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Entry(nil), c.contacts...)
}

// Groups returns the current group snapshot.
func (c *Cache) Groups() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Entry(nil), c.groups...)
}

// Counts returns the contact and group counts.
func (c *Cache) Counts() (contacts int, groups int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.contacts), len(c.groups)
}
