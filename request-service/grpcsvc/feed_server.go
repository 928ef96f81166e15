// Package grpcsvc serves the request feed over gRPC. Messages are
// google.protobuf.Struct values, so no generated code is needed.
package grpcsvc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"fadedreams/roadassist/internal/auth"
	"fadedreams/roadassist/request-service/domain"
)

// SubscribeMethod is the full method name of the feed stream.
const SubscribeMethod = "/roadassist.RequestFeed/Subscribe"

// FeedService is the server API of roadassist.RequestFeed.
type FeedService interface {
	Subscribe(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// FeedServiceDesc describes roadassist.RequestFeed for grpc.Server.RegisterService.
var FeedServiceDesc = grpc.ServiceDesc{
	ServiceName: "roadassist.RequestFeed",
	HandlerType: (*FeedService)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "roadassist/request_feed",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(FeedService).Subscribe(m, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// Subscriber opens a feed of requests for a session.
type Subscriber interface {
	ResolveSession(ctx context.Context, id auth.Identity) (auth.Session, error)
	Subscribe(ctx context.Context, sess auth.Session, requestID string) (<-chan *domain.ServiceRequest, error)
}

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(raw string) (auth.Identity, error)
}

type FeedServer struct {
	svc      Subscriber
	verifier TokenVerifier
	logger   *slog.Logger
}

func NewFeedServer(svc Subscriber, verifier TokenVerifier, logger *slog.Logger) *FeedServer {
	return &FeedServer{
		svc:      svc,
		verifier: verifier,
		logger:   logger,
	}
}

// NewServer returns a traced grpc.Server with the feed registered.
func NewServer(feed *FeedServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	s := grpc.NewServer(opts...)
	s.RegisterService(&FeedServiceDesc, feed)
	return s
}

// Subscribe streams the snapshot and then every change visible to the caller.
// The request may carry "requestId" to follow a single request.
func (s *FeedServer) Subscribe(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx, span := otel.Tracer("request-service").Start(stream.Context(), "StreamRequests")
	defer span.End()

	sess, err := s.authenticate(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Unauthenticated")
		s.logger.Warn("Rejected feed subscription", "error", err)
		return status.Error(grpccodes.Unauthenticated, err.Error())
	}

	requestID := in.GetFields()["requestId"].GetStringValue()
	span.SetAttributes(attribute.String("requestID", requestID), attribute.String("userID", sess.UserID))

	updates, err := s.svc.Subscribe(ctx, sess, requestID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to subscribe")
		return toStatus(err)
	}

	sent := 0
	for req := range updates {
		msg, err := toStruct(req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to convert request")
			s.logger.Error("Failed to convert request", "requestID", req.RequestID, "error", err)
			return status.Error(grpccodes.Internal, "failed to convert request")
		}
		if err := stream.Send(msg); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to send request")
			s.logger.Info("Failed to send request", "userID", sess.UserID, "error", err)
			return err
		}
		sent++
	}
	span.SetAttributes(attribute.Int("sentCount", sent))

	if err := ctx.Err(); err != nil {
		return status.FromContextError(err).Err()
	}
	return nil
}

func (s *FeedServer) authenticate(ctx context.Context) (auth.Session, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	var raw string
	if values := md.Get("authorization"); len(values) > 0 {
		raw = values[0]
	}
	identity, err := s.verifier.Verify(raw)
	if err != nil {
		return auth.Session{}, err
	}
	return s.svc.ResolveSession(ctx, identity)
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, auth.ErrPermissionDenied):
		return status.Error(grpccodes.PermissionDenied, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(grpccodes.NotFound, err.Error())
	}
	return status.Error(grpccodes.Internal, "failed to subscribe")
}

// toStruct converts req through its JSON form so field names match the HTTP API.
func toStruct(req *domain.ServiceRequest) (*structpb.Struct, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

// Subscribe opens the feed on cc. The token is sent as authorization metadata.
func Subscribe(ctx context.Context, cc grpc.ClientConnInterface, token, requestID string) (grpc.ServerStreamingClient[structpb.Struct], error) {
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	stream, err := cc.NewStream(ctx, &FeedServiceDesc.Streams[0], SubscribeMethod)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	req, err := structpb.NewStruct(map[string]any{"requestId": requestID})
	if err != nil {
		return nil, err
	}
	if err := x.ClientStream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
