package tilelink

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"
)

// Client calls a remote TileLink service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for target. The connection is plaintext unless opts
// override the transport credentials.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(DefaultMaxMessageSize),
			grpc.MaxCallSendMsgSize(DefaultMaxMessageSize),
		),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create TileLink client for %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Register publishes an event on the remote tile at pos.
func (c *Client) Register(ctx context.Context, pos tilelog.Position, event *tilelog.Event) (*tilelog.Event, error) {
	if event == nil {
		return nil, tilelog.ErrNilEvent
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "Register", registerRequest(pos, event), out); err != nil {
		return nil, err
	}
	return decodeEvent(out.GetFields()[fieldEvent].GetStructValue())
}

// AddConsumer joins consumerID to the remote tile at pos.
func (c *Client) AddConsumer(ctx context.Context, pos tilelog.Position, consumerID string) error {
	return c.invoke(ctx, "AddConsumer", consumerRequest(pos, consumerID), new(structpb.Struct))
}

// Fetch retrieves the consumer's pending events from the remote tile at pos.
func (c *Client) Fetch(ctx context.Context, pos tilelog.Position, consumerID string) ([]*tilelog.Event, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "Fetch", consumerRequest(pos, consumerID), out); err != nil {
		return nil, err
	}
	return decodeEvents(out)
}

// RemoveConsumer removes consumerID from the remote tile at pos.
func (c *Client) RemoveConsumer(ctx context.Context, pos tilelog.Position, consumerID string) error {
	return c.invoke(ctx, "RemoveConsumer", consumerRequest(pos, consumerID), new(structpb.Struct))
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in, out *structpb.Struct) error {
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return fromStatus(method, err)
	}
	return nil
}

// fromStatus maps gRPC status codes back onto the tile log errors
func fromStatus(method string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("tilelink %s: %w", method, err)
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("tilelink %s: %w: %s", method, tilelog.ErrUnknownConsumer, st.Message())
	case codes.Canceled:
		return fmt.Errorf("tilelink %s: %w", method, context.Canceled)
	case codes.DeadlineExceeded:
		return fmt.Errorf("tilelink %s: %w", method, context.DeadlineExceeded)
	default:
		return fmt.Errorf("tilelink %s: %w", method, err)
	}
}
