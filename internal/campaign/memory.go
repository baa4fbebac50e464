package campaign

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the Store used when no database is configured.
type MemoryStore struct {
	mu        sync.Mutex
	campaigns map[int64]*Campaign
	contacts  map[int64]*Contact
	nextID    int64
	nextCID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns: make(map[int64]*Campaign),
		contacts:  make(map[int64]*Contact),
	}
}

func (m *MemoryStore) Create(_ context.Context, c Campaign) (Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	now := time.Now().UTC()
	c.ID = m.nextID
	c.Status = StatusPending
	c.CreatedAt, c.UpdatedAt = now, now
	c.StartedAt, c.CompletedAt = nil, nil
	c.TotalContacts, c.CompletedContacts, c.FailedContacts = 0, 0, 0
	m.campaigns[c.ID] = &c
	return c, nil
}

func (m *MemoryStore) Get(_ context.Context, id int64) (Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return Campaign{}, ErrCampaignNotFound
	}
	return *c, nil
}

func (m *MemoryStore) List(_ context.Context) ([]Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Campaign, 0, len(m.campaigns))
	for _, c := range m.campaigns {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryStore) Transition(_ context.Context, id int64, from []Status, to Status, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return ErrCampaignNotFound
	}
	if !slices.Contains(from, c.Status) {
		return fmt.Errorf("%w: campaign %d from %s to %s", ErrInvalidTransition, id, c.Status, to)
	}
	c.Status = to
	c.UpdatedAt = now
	switch to {
	case StatusRunning:
		if c.StartedAt == nil {
			c.StartedAt = &now
		}
	case StatusCompleted:
		c.CompletedAt = &now
	}
	return nil
}

func (m *MemoryStore) AddContacts(_ context.Context, campaignID int64, contacts []Contact) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return 0, ErrCampaignNotFound
	}
	for _, in := range contacts {
		m.nextCID++
		contact := Contact{
			ID:          m.nextCID,
			CampaignID:  campaignID,
			PhoneNumber: in.PhoneNumber,
			Name:        in.Name,
			ExtraData:   in.ExtraData,
			Status:      ContactPending,
		}
		m.contacts[contact.ID] = &contact
		c.TotalContacts++
	}
	return len(contacts), nil
}

func (m *MemoryStore) Contacts(_ context.Context, campaignID int64) ([]Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contactsLocked(campaignID), nil
}

func (m *MemoryStore) contactsLocked(campaignID int64) []Contact {
	var out []Contact
	for _, c := range m.contacts {
		if c.CampaignID == campaignID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) CountCalling(_ context.Context, campaignID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.contacts {
		if c.CampaignID == campaignID && c.Status == ContactCalling {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ClaimNext(_ context.Context, campaignID int64, now time.Time) (Contact, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *Contact
	for _, c := range m.contacts {
		if c.CampaignID != campaignID || c.Status != ContactPending {
			continue
		}
		if next == nil || c.ID < next.ID {
			next = c
		}
	}
	if next == nil {
		return Contact{}, false, nil
	}
	next.Status = ContactCalling
	next.Attempts++
	next.LastAttemptAt = &now
	return *next, true, nil
}

func (m *MemoryStore) SetContactCall(_ context.Context, contactID int64, callID string) error {
	return m.updateContact(contactID, func(c *Contact) { c.CallID = callID })
}

func (m *MemoryStore) CompleteContact(_ context.Context, contactID int64, now time.Time) error {
	return m.updateContact(contactID, func(c *Contact) {
		c.Status = ContactCompleted
		c.CompletedAt = &now
	})
}

func (m *MemoryStore) FailContact(_ context.Context, contactID int64, reason string) error {
	return m.updateContact(contactID, func(c *Contact) {
		c.Status = ContactFailed
		c.ErrorMessage = reason
	})
}

func (m *MemoryStore) updateContact(id int64, fn func(*Contact)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return fmt.Errorf("campaign: contact %d not found", id)
	}
	fn(c)
	return nil
}

func (m *MemoryStore) RefreshStats(_ context.Context, campaignID int64) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return Stats{}, ErrCampaignNotFound
	}
	var stats Stats
	for _, contact := range m.contactsLocked(campaignID) {
		stats.add(contact.Status, 1)
	}
	stats.finish()
	c.TotalContacts = stats.Total
	c.CompletedContacts = stats.Completed
	c.FailedContacts = stats.Failed
	c.UpdatedAt = time.Now().UTC()
	return stats, nil
}
