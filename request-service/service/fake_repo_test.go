package service_test

import (
	"context"
	"slices"
	"sort"
	"sync"

	"fadedreams/roadassist/request-service/domain"
)

// memRepo is an in-memory domain.Repository. Reads and writes copy so the
// service cannot alter stored state without an explicit write.
type memRepo struct {
	mu        sync.Mutex
	requests  map[string]*domain.ServiceRequest
	providers map[string]*domain.ServiceProvider
	staff     map[string]*domain.StaffMember
	profiles  map[string]*domain.UserProfile
	drafts    map[string]*domain.Draft
	outbox    []*domain.OutboxEvent
	timeline  []*domain.TimelineEntry
	streams   []*fakeStream

	updateErr error
	outboxErr error

	// afterGet runs, without the lock held, once GetRequest has taken its
	// copy. It lets tests interleave a second writer.
	afterGet func(id string)
}

func newMemRepo() *memRepo {
	return &memRepo{
		requests:  map[string]*domain.ServiceRequest{},
		providers: map[string]*domain.ServiceProvider{},
		staff:     map[string]*domain.StaffMember{},
		profiles:  map[string]*domain.UserProfile{},
		drafts:    map[string]*domain.Draft{},
	}
}

func cloneRequest(r *domain.ServiceRequest) *domain.ServiceRequest {
	c := *r
	if r.AssignedStaffID != nil {
		id := *r.AssignedStaffID
		c.AssignedStaffID = &id
	}
	if r.CancellationRequestedAt != nil {
		t := *r.CancellationRequestedAt
		c.CancellationRequestedAt = &t
	}
	if r.CancellationResolvedAt != nil {
		t := *r.CancellationResolvedAt
		c.CancellationResolvedAt = &t
	}
	c.DisplayStatus = ""
	return &c
}

func (m *memRepo) stored(id string) *domain.ServiceRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRequest(m.requests[id])
}

func (m *memRepo) outboxTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var types []string
	for _, e := range m.outbox {
		types = append(types, e.EventType)
	}
	return types
}

func (m *memRepo) CreateRequest(_ context.Context, req *domain.ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.RequestID == req.RequestID {
			return domain.ErrDuplicate
		}
	}
	m.requests[req.ID] = cloneRequest(req)
	return nil
}

func (m *memRepo) GetRequest(_ context.Context, id string) (*domain.ServiceRequest, error) {
	req, err := m.getRequest(id)
	if err == nil && m.afterGet != nil {
		m.afterGet(id)
	}
	return req, err
}

func (m *memRepo) getRequest(id string) (*domain.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.requests[id]; ok {
		return cloneRequest(r), nil
	}
	for _, r := range m.requests {
		if r.RequestID == id {
			return cloneRequest(r), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memRepo) ListRequests(_ context.Context, f domain.RequestFilter) ([]*domain.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.ServiceRequest{}
	for _, r := range m.requests {
		if f.RequesterID != "" && r.RequesterID != f.RequesterID {
			continue
		}
		if f.AssignedStaffID != "" && r.AssignedTo() != f.AssignedStaffID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
			continue
		}
		out = append(out, cloneRequest(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memRepo) UpdateRequest(_ context.Context, req *domain.ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	stored, ok := m.requests[req.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != req.Version {
		return domain.ErrConflict
	}
	req.Version++
	m.requests[req.ID] = cloneRequest(req)
	for _, s := range m.streams {
		s.push(req.ID, cloneRequest(req))
	}
	return nil
}

func (m *memRepo) WatchRequests(_ context.Context, docID string) (domain.ChangeStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &fakeStream{docID: docID, events: make(chan *domain.ServiceRequest, 64)}
	m.streams = append(m.streams, s)
	return s, nil
}

func (m *memRepo) CreateProvider(_ context.Context, p *domain.ServiceProvider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *p
	m.providers[p.ID] = &c
	return nil
}

func (m *memRepo) GetProvider(_ context.Context, id string) (*domain.ServiceProvider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *memRepo) ListProviders(_ context.Context) ([]*domain.ServiceProvider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.ServiceProvider{}
	for _, p := range m.providers {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memRepo) UpdateProvider(_ context.Context, p *domain.ServiceProvider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[p.ID]; !ok {
		return domain.ErrNotFound
	}
	c := *p
	m.providers[p.ID] = &c
	return nil
}

func (m *memRepo) DeleteProvider(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.providers, id)
	return nil
}

func (m *memRepo) CreateStaff(_ context.Context, s *domain.StaffMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.staff {
		if existing.Email == s.Email {
			return domain.ErrDuplicate
		}
	}
	c := *s
	m.staff[s.ID] = &c
	return nil
}

func (m *memRepo) GetStaff(_ context.Context, id string) (*domain.StaffMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.staff[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (m *memRepo) GetStaffByEmail(_ context.Context, email string) (*domain.StaffMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.staff {
		if s.Email == email {
			c := *s
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memRepo) ListStaff(_ context.Context) ([]*domain.StaffMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.StaffMember{}
	for _, s := range m.staff {
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memRepo) UpdateStaff(_ context.Context, s *domain.StaffMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.staff[s.ID]; !ok {
		return domain.ErrNotFound
	}
	for _, existing := range m.staff {
		if existing.ID != s.ID && existing.Email == s.Email {
			return domain.ErrDuplicate
		}
	}
	c := *s
	m.staff[s.ID] = &c
	return nil
}

func (m *memRepo) DeleteStaff(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.staff[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.staff, id)
	return nil
}

func (m *memRepo) GetProfile(_ context.Context, userID string) (*domain.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *memRepo) SaveProfile(_ context.Context, p *domain.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *p
	m.profiles[p.UserID] = &c
	return nil
}

func (m *memRepo) GetDraft(_ context.Context, userID string) (*domain.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *d
	return &c, nil
}

func (m *memRepo) SaveDraft(_ context.Context, d *domain.Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *d
	m.drafts[d.UserID] = &c
	return nil
}

func (m *memRepo) DeleteDraft(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, userID)
	return nil
}

func (m *memRepo) SaveOutboxEvent(_ context.Context, e *domain.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outboxErr != nil {
		return m.outboxErr
	}
	m.outbox = append(m.outbox, e)
	return nil
}

func (m *memRepo) GetUnprocessedOutboxEvents(_ context.Context, limit int) ([]*domain.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.OutboxEvent
	for _, e := range m.outbox {
		if !e.Processed && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memRepo) MarkOutboxEventProcessed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.outbox {
		if e.ID == id {
			e.Processed = true
		}
	}
	return nil
}

func (m *memRepo) ListTimeline(_ context.Context, requestDocID string) ([]*domain.TimelineEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.TimelineEntry{}
	for _, e := range m.timeline {
		if e.RequestDocID == requestDocID {
			out = append(out, e)
		}
	}
	return out, nil
}

// fakeStream delivers updates pushed by memRepo.UpdateRequest.
type fakeStream struct {
	docID   string
	events  chan *domain.ServiceRequest
	current *domain.ServiceRequest
	closed  bool
	mu      sync.Mutex
}

func (s *fakeStream) push(docID string, req *domain.ServiceRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.docID != "" && s.docID != docID) {
		return
	}
	s.events <- req
}

func (s *fakeStream) Next(ctx context.Context) bool {
	select {
	case req, ok := <-s.events:
		if !ok {
			return false
		}
		s.current = req
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *fakeStream) Decode(val any) error {
	change := val.(*domain.RequestChange)
	change.OperationType = "update"
	change.FullDocument = s.current
	return nil
}

func (s *fakeStream) Err() error { return nil }

func (s *fakeStream) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}
