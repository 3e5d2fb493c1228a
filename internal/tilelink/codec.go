package tilelink

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"
)

// Field names of the Struct messages
const (
	fieldX        = "x"
	fieldY        = "y"
	fieldConsumer = "consumerId"
	fieldID       = "id"
	fieldSeq      = "seq"
	fieldKind     = "kind"
	fieldPayload  = "payload"
	fieldHeaders  = "headers"
	fieldTime     = "timestamp"
	fieldEvent    = "event"
	fieldEvents   = "events"
)

// errBadRequest marks request decoding failures
var errBadRequest = errors.New("malformed request")

func positionFields(pos tilelog.Position) map[string]*structpb.Value {
	return map[string]*structpb.Value{
		fieldX: structpb.NewNumberValue(float64(pos.X)),
		fieldY: structpb.NewNumberValue(float64(pos.Y)),
	}
}

func consumerRequest(pos tilelog.Position, consumerID string) *structpb.Struct {
	fields := positionFields(pos)
	fields[fieldConsumer] = structpb.NewStringValue(consumerID)
	return &structpb.Struct{Fields: fields}
}

func registerRequest(pos tilelog.Position, event *tilelog.Event) *structpb.Struct {
	fields := positionFields(pos)
	fields[fieldEvent] = structpb.NewStructValue(encodeEvent(event))
	return &structpb.Struct{Fields: fields}
}

func decodeInt32(s *structpb.Struct, name string) (int32, error) {
	v, ok := s.GetFields()[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", errBadRequest, name)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: %q is not a number", errBadRequest, name)
	}
	f := n.NumberValue
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %q is not a 32-bit integer", errBadRequest, name)
	}
	return int32(f), nil
}

func decodePosition(s *structpb.Struct) (tilelog.Position, error) {
	x, err := decodeInt32(s, fieldX)
	if err != nil {
		return tilelog.Position{}, err
	}
	y, err := decodeInt32(s, fieldY)
	if err != nil {
		return tilelog.Position{}, err
	}
	return tilelog.Position{X: x, Y: y}, nil
}

func decodeConsumerRequest(s *structpb.Struct) (tilelog.Position, string, error) {
	pos, err := decodePosition(s)
	if err != nil {
		return tilelog.Position{}, "", err
	}
	consumerID := s.GetFields()[fieldConsumer].GetStringValue()
	if consumerID == "" {
		return tilelog.Position{}, "", fmt.Errorf("%w: missing %q", errBadRequest, fieldConsumer)
	}
	return pos, consumerID, nil
}

func encodeEvent(e *tilelog.Event) *structpb.Struct {
	headers := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(e.Headers))}
	for k, v := range e.Headers {
		headers.Fields[k] = structpb.NewStringValue(v)
	}

	fields := positionFields(e.Tile)
	fields[fieldID] = structpb.NewStringValue(e.ID)
	fields[fieldSeq] = structpb.NewNumberValue(float64(e.Seq))
	fields[fieldKind] = structpb.NewStringValue(e.Kind)
	fields[fieldPayload] = structpb.NewStringValue(base64.StdEncoding.EncodeToString(e.Payload))
	fields[fieldTime] = structpb.NewStringValue(e.Timestamp.UTC().Format(time.RFC3339Nano))
	fields[fieldHeaders] = structpb.NewStructValue(headers)
	return &structpb.Struct{Fields: fields}
}

func decodeEvent(s *structpb.Struct) (*tilelog.Event, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: missing event", errBadRequest)
	}
	fields := s.GetFields()

	payload, err := base64.StdEncoding.DecodeString(fields[fieldPayload].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", errBadRequest, err)
	}
	if len(payload) == 0 {
		payload = nil
	}

	headers := make(map[string]string)
	for k, v := range fields[fieldHeaders].GetStructValue().GetFields() {
		headers[k] = v.GetStringValue()
	}

	event := &tilelog.Event{
		ID:      fields[fieldID].GetStringValue(),
		Kind:    fields[fieldKind].GetStringValue(),
		Payload: payload,
		Headers: headers,
	}

	// Tile, Seq and Timestamp are only present on events read back from a tile
	if _, ok := fields[fieldX]; ok {
		pos, err := decodePosition(s)
		if err != nil {
			return nil, err
		}
		event.Tile = pos
	}
	if v, ok := fields[fieldSeq]; ok {
		event.Seq = int64(v.GetNumberValue())
	}
	if ts := fields[fieldTime].GetStringValue(); ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: timestamp: %v", errBadRequest, err)
		}
		event.Timestamp = parsed
	}

	return event, nil
}

func encodeEvents(events []*tilelog.Event) *structpb.Struct {
	values := make([]*structpb.Value, len(events))
	for i, e := range events {
		values[i] = structpb.NewStructValue(encodeEvent(e))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldEvents: structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

func decodeEvents(s *structpb.Struct) ([]*tilelog.Event, error) {
	values := s.GetFields()[fieldEvents].GetListValue().GetValues()
	events := make([]*tilelog.Event, 0, len(values))
	for _, v := range values {
		event, err := decodeEvent(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}
