// Package network carries consensus messages between participants.
//
// This package implements:
//   - HTTPTransport: JSON over HTTP POST to each peer's /message route
//   - ZmqTransport: ZeroMQ transport with ROUTER/DEALER pattern
//   - GRPCTransport: unary gRPC delivery with a JSON codec
//   - Loopback: in-process hub used by simulations and tests
package network
