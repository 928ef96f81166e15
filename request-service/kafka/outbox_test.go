package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fadedreams/roadassist/request-service/domain"
)

type fakeOutbox struct {
	mu      sync.Mutex
	events  []*domain.OutboxEvent
	marked  []string
	limit   int
	getErr  error
	markErr error
}

func (f *fakeOutbox) SaveOutboxEvent(_ context.Context, e *domain.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeOutbox) GetUnprocessedOutboxEvents(_ context.Context, limit int) ([]*domain.OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = limit
	if f.getErr != nil {
		return nil, f.getErr
	}
	var out []*domain.OutboxEvent
	for _, e := range f.events {
		if !e.Processed {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeOutbox) MarkOutboxEventProcessed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, id)
	for _, e := range f.events {
		if e.ID == id {
			e.Processed = true
		}
	}
	return nil
}

func (f *fakeOutbox) markedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.marked)
}

type fakePublisher struct {
	published []string
	failOn    string
}

func (f *fakePublisher) PublishOutboxEvent(_ context.Context, e *domain.OutboxEvent) error {
	if e.ID == f.failOn {
		return errors.New("broker unavailable")
	}
	f.published = append(f.published, e.ID)
	return nil
}

func newTestProcessor(repo *fakeOutbox, pub *fakePublisher) *OutboxProcessor {
	return NewOutboxProcessor(repo, pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func outboxOf(ids ...string) *fakeOutbox {
	repo := &fakeOutbox{}
	for _, id := range ids {
		repo.events = append(repo.events, &domain.OutboxEvent{ID: id})
	}
	return repo
}

func Test_ProcessOutboxEvents_PublishesAndMarks(t *testing.T) {
	repo := outboxOf("e1", "e2", "e3")
	pub := &fakePublisher{}

	require.NoError(t, newTestProcessor(repo, pub).processOutboxEvents(context.Background()))

	assert.Equal(t, []string{"e1", "e2", "e3"}, pub.published)
	assert.Equal(t, []string{"e1", "e2", "e3"}, repo.marked)
	assert.Equal(t, outboxBatchSize, repo.limit)
}

func Test_ProcessOutboxEvents_StopsAtFailure(t *testing.T) {
	repo := outboxOf("e1", "e2", "e3")
	pub := &fakePublisher{failOn: "e2"}
	p := newTestProcessor(repo, pub)

	require.NoError(t, p.processOutboxEvents(context.Background()))
	assert.Equal(t, []string{"e1"}, pub.published)
	assert.Equal(t, []string{"e1"}, repo.marked)

	pub.failOn = ""
	require.NoError(t, p.processOutboxEvents(context.Background()))
	assert.Equal(t, []string{"e1", "e2", "e3"}, pub.published, "retried in order")
}

func Test_ProcessOutboxEvents_Errors(t *testing.T) {
	repo := outboxOf("e1")
	repo.getErr = errors.New("mongo down")
	assert.Error(t, newTestProcessor(repo, &fakePublisher{}).processOutboxEvents(context.Background()))

	repo = outboxOf("e1", "e2")
	repo.markErr = errors.New("write failed")
	pub := &fakePublisher{}
	require.NoError(t, newTestProcessor(repo, pub).processOutboxEvents(context.Background()))
	assert.Equal(t, []string{"e1", "e2"}, pub.published, "mark failure does not stop the batch")
}

func Test_Start_StopsOnCancel(t *testing.T) {
	repo := outboxOf("e1")
	pub := &fakePublisher{}
	p := newTestProcessor(repo, pub)
	p.interval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	assert.Eventually(t, func() bool { return repo.markedCount() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
