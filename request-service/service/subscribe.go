package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"fadedreams/roadassist/internal/auth"
	"fadedreams/roadassist/request-service/domain"
)

// subscriptionBuffer is how many undelivered updates a subscriber may lag.
const subscriptionBuffer = 16

// Subscribe streams the requests the caller may view: one request when
// requestID is set, otherwise every request in the caller's scope. The
// current state is sent first, followed by each change as stored. The channel
// closes when ctx is done or the change stream fails.
func (s *Service) Subscribe(ctx context.Context, sess auth.Session, requestID string) (<-chan *domain.ServiceRequest, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceSubscribe")
	defer span.End()
	span.SetAttributes(attribute.String("requestID", requestID))

	if err := requireRole(sess); err != nil {
		return nil, s.fail(ctx, span, "Permission denied", err)
	}

	var docID string
	if requestID != "" {
		req, err := s.load(ctx, sess, requestID, auth.ActionViewRequest, "")
		if err != nil {
			return nil, s.fail(ctx, span, "Failed to subscribe", err, "requestID", requestID, "userID", sess.UserID)
		}
		docID = req.ID
	}

	// The stream is opened before the snapshot is read so no change falls
	// between the two.
	stream, err := s.repo.WatchRequests(ctx, docID)
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to open change stream", err)
	}

	var snapshot []*domain.ServiceRequest
	if docID != "" {
		req, err := s.GetRequest(ctx, sess, docID)
		if err != nil {
			stream.Close(context.Background())
			return nil, s.fail(ctx, span, "Failed to read snapshot", err)
		}
		snapshot = []*domain.ServiceRequest{req}
	} else {
		snapshot, err = s.ListRequests(ctx, sess, ListFilter{})
		if err != nil {
			stream.Close(context.Background())
			return nil, s.fail(ctx, span, "Failed to read snapshot", err)
		}
	}

	out := make(chan *domain.ServiceRequest, subscriptionBuffer)
	go s.pump(ctx, sess, stream, snapshot, out)

	s.logger.Info("Subscription opened", "userID", sess.UserID, "requestID", requestID)
	return out, nil
}

func (s *Service) pump(ctx context.Context, sess auth.Session, stream domain.ChangeStream, snapshot []*domain.ServiceRequest, out chan<- *domain.ServiceRequest) {
	defer close(out)
	defer stream.Close(context.Background())

	send := func(req *domain.ServiceRequest) bool {
		select {
		case out <- req:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for _, req := range snapshot {
		if !send(req) {
			return
		}
	}

	for stream.Next(ctx) {
		var change domain.RequestChange
		if err := stream.Decode(&change); err != nil {
			s.logger.Error("Failed to decode change event", "error", err)
			continue
		}
		req := change.FullDocument
		if req == nil {
			continue
		}
		if auth.Authorize(sess, auth.ActionViewRequest, targetOf(req)) != nil {
			continue
		}
		if !send(req.Present()) {
			return
		}
	}

	if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		s.logger.Error("Change stream failed", "userID", sess.UserID, "error", fmt.Errorf("change stream: %w", err))
	}
	s.logger.Info("Subscription closed", "userID", sess.UserID)
}
