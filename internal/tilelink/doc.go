// Package tilelink exposes tile operations over gRPC.
//
// The service is tilemesh.tilelink.v1.TileLink with four unary methods that map
// one to one onto the tile log: Register, AddConsumer, Fetch and RemoveConsumer.
// Requests and responses are google.protobuf.Struct messages, so the service is
// declared with a plain grpc.ServiceDesc and needs no generated code.
//
// Error mapping: an unknown consumer is codes.NotFound, malformed requests are
// codes.InvalidArgument and a stopped or closed node is codes.Unavailable. The
// Client maps codes.NotFound back to tilelog.ErrUnknownConsumer.
package tilelink
