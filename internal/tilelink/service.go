package tilelink

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"
	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilenode"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "tilemesh.tilelink.v1.TileLink"

// Publisher is the publisher header value stamped on events registered over TileLink
const Publisher = "tilelink"

// Backend is the set of tile operations the service forwards to.
// tilenode's Node implements it.
type Backend interface {
	Publish(ctx context.Context, pos tilelog.Position, event *tilelog.Event) (*tilelog.Event, error)
	Join(ctx context.Context, playerID string, pos tilelog.Position) error
	Leave(ctx context.Context, playerID string, pos tilelog.Position) error
	Fetch(ctx context.Context, playerID string, pos tilelog.Position) ([]*tilelog.Event, error)
}

type service struct {
	backend Backend
}

type unaryCall func(s *service, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: unaryHandler("Register", (*service).register)},
		{MethodName: "AddConsumer", Handler: unaryHandler("AddConsumer", (*service).addConsumer)},
		{MethodName: "Fetch", Handler: unaryHandler("Fetch", (*service).fetch)},
		{MethodName: "RemoveConsumer", Handler: unaryHandler("RemoveConsumer", (*service).removeConsumer)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tilemesh/tilelink/v1/tilelink.proto",
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryHandler(method string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		svc := srv.(*service)
		if interceptor == nil {
			return call(svc, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(svc, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func (s *service) register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	pos, err := decodePosition(req)
	if err != nil {
		return nil, toStatus(err)
	}
	event, err := decodeEvent(req.GetFields()[fieldEvent].GetStructValue())
	if err != nil {
		return nil, toStatus(err)
	}
	if _, ok := event.Headers[tilelog.PublisherHeader]; ok {
		return nil, toStatus(fmt.Errorf("%w: %q", tilelog.ErrReservedHeader, tilelog.PublisherHeader))
	}
	event.Headers[tilelog.PublisherHeader] = Publisher
	if event.ID == "" {
		event = tilelog.NewEventWithHeaders(event.Kind, event.Payload, event.Headers)
	}

	stored, err := s.backend.Publish(ctx, pos, event)
	if err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldEvent: structpb.NewStructValue(encodeEvent(stored)),
	}}, nil
}

func (s *service) addConsumer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	pos, consumerID, err := decodeConsumerRequest(req)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.backend.Join(ctx, consumerID, pos); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

func (s *service) fetch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	pos, consumerID, err := decodeConsumerRequest(req)
	if err != nil {
		return nil, toStatus(err)
	}
	events, err := s.backend.Fetch(ctx, consumerID, pos)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeEvents(events), nil
}

func (s *service) removeConsumer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	pos, consumerID, err := decodeConsumerRequest(req)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.backend.Leave(ctx, consumerID, pos); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

// toStatus converts backend errors into gRPC status errors
func toStatus(err error) error {
	switch {
	case errors.Is(err, tilelog.ErrUnknownConsumer):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, errBadRequest),
		errors.Is(err, tilelog.ErrNilEvent),
		errors.Is(err, tilelog.ErrInvalidPosition),
		errors.Is(err, tilelog.ErrReservedHeader),
		errors.Is(err, tilelog.ErrEventTooLarge),
		errors.Is(err, tilenode.ErrEmptyPlayerID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, tilenode.ErrNodeNotStarted),
		errors.Is(err, tilenode.ErrNodeClosed),
		errors.Is(err, tilelog.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
