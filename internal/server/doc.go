// Package server implements the real-time notification layer for the voting
// platform: WebSocket connection management, room-scoped broadcasting,
// heartbeat-based liveness detection, and the operational HTTP API consumed
// by the REST backend and the blockchain poller.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, rooms, rate limiting, and HTTP handlers to keep
// the codebase maintainable and testable as the project grows.
package server
