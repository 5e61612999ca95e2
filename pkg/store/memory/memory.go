package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/veesix-networks/hotspotd/pkg/models"
	"github.com/veesix-networks/hotspotd/pkg/store"
)

type notificationKey struct {
	sessionID string
	threshold int
}

// Store keeps everything in process memory. It has the same semantics as
// the SQL stores and backs tests and the "memory" driver.
type Store struct {
	mu            sync.RWMutex
	plans         map[string]*models.Plan
	sessions      map[string]*models.Session
	snapshots     map[string][]*models.AccountingSnapshot
	notifications map[notificationKey]time.Time
}

func New() *Store {
	return &Store{
		plans:         make(map[string]*models.Plan),
		sessions:      make(map[string]*models.Session),
		snapshots:     make(map[string][]*models.AccountingSnapshot),
		notifications: make(map[notificationKey]time.Time),
	}
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return nil
}

func copySession(sess *models.Session) *models.Session {
	c := *sess
	if sess.EndedAt != nil {
		t := *sess.EndedAt
		c.EndedAt = &t
	}
	return &c
}

func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("%w: duplicate session id %s", store.ErrStore, sess.ID)
	}
	if _, ok := s.plans[sess.PlanID]; !ok {
		return fmt.Errorf("%w: unknown plan %s", store.ErrStore, sess.PlanID)
	}
	if sess.EndedAt == nil {
		for _, other := range s.sessions {
			if other.EndedAt == nil && other.UserID == sess.UserID && other.NASID == sess.NASID {
				return fmt.Errorf("%w: user %s on %s", store.ErrActiveSessionExists, sess.UserID, sess.NASID)
			}
		}
	}

	c := copySession(sess)
	c.StartedAt = c.StartedAt.Truncate(time.Millisecond)
	s.sessions[sess.ID] = c
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copySession(sess), nil
}

func (s *Store) FindActive(ctx context.Context, userID, nasID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		if sess.EndedAt == nil && sess.UserID == userID && sess.NASID == nasID {
			return copySession(sess), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) FindByAcctSessionID(ctx context.Context, nasID, acctSessionID string) (*models.Session, error) {
	return s.findByAcctSessionID(nasID, acctSessionID, false)
}

func (s *Store) FindActiveByAcctSessionID(ctx context.Context, nasID, acctSessionID string) (*models.Session, error) {
	return s.findByAcctSessionID(nasID, acctSessionID, true)
}

func (s *Store) findByAcctSessionID(nasID, acctSessionID string, activeOnly bool) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *models.Session
	for _, sess := range s.sessions {
		if sess.NASID != nasID || sess.AcctSessionID != acctSessionID {
			continue
		}
		if activeOnly && sess.EndedAt != nil {
			continue
		}
		if found == nil || sess.StartedAt.After(found.StartedAt) {
			found = sess
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return copySession(found), nil
}

func (s *Store) ActiveSessions(ctx context.Context) ([]*models.ActiveSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ActiveSession
	for _, sess := range s.sessions {
		if sess.EndedAt != nil {
			continue
		}
		p, ok := s.plans[sess.PlanID]
		if !ok {
			continue
		}
		out = append(out, &models.ActiveSession{
			Session:      *copySession(sess),
			PlanName:     p.Name,
			PlanDuration: p.Duration(),
			DataCapBytes: p.DataCapBytes,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateCounters(ctx context.Context, id string, inputOctets, outputOctets uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	sess.InputOctets = max(sess.InputOctets, inputOctets)
	sess.OutputOctets = max(sess.OutputOctets, outputOctets)
	return nil
}

func (s *Store) AppendSnapshot(ctx context.Context, snap *models.AccountingSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[snap.SessionID]; !ok {
		return fmt.Errorf("%w: snapshot for unknown session %s", store.ErrStore, snap.SessionID)
	}
	c := *snap
	c.SessionTime = c.SessionTime.Truncate(time.Second)
	s.snapshots[snap.SessionID] = append(s.snapshots[snap.SessionID], &c)
	return nil
}

func (s *Store) Snapshots(ctx context.Context, sessionID string) ([]*models.AccountingSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.AccountingSnapshot, 0, len(s.snapshots[sessionID]))
	for _, snap := range s.snapshots[sessionID] {
		c := *snap
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) CloseSession(ctx context.Context, id string, endedAt time.Time, reason models.EndReason) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if sess.EndedAt != nil {
		return false, nil
	}
	t := endedAt.Truncate(time.Millisecond)
	sess.EndedAt = &t
	sess.EndReason = reason
	return true, nil
}

func (s *Store) RecordNotification(ctx context.Context, sessionID string, thresholdMinutes int, sentAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := notificationKey{sessionID, thresholdMinutes}
	if _, exists := s.notifications[key]; exists {
		return false, nil
	}
	s.notifications[key] = sentAt
	return true, nil
}

func (s *Store) HasNotification(ctx context.Context, sessionID string, thresholdMinutes int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.notifications[notificationKey{sessionID, thresholdMinutes}]
	return exists, nil
}

func (s *Store) CreatePlan(ctx context.Context, p *models.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID]; exists {
		return fmt.Errorf("%w: duplicate plan id %s", store.ErrStore, p.ID)
	}
	for _, other := range s.plans {
		if other.Name == p.Name {
			return fmt.Errorf("%w: duplicate plan name %s", store.ErrStore, p.Name)
		}
	}
	c := *p
	s.plans[p.ID] = &c
	return nil
}

func (s *Store) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *Store) GetPlanByName(ctx context.Context, name string) (*models.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.Name == name {
			c := *p
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

var _ store.Store = (*Store)(nil)
