// Package testhelpers provides common utilities and helper functions for
// testing the notification server.
//
// This package contains reusable test utilities that are shared across unit
// and integration tests. It provides functions for dialing WebSocket
// connections, reading protocol frames, signing test tokens, and asserting
// response properties to reduce code duplication in test files.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

// ServerMessage is the decoded form of a protocol frame sent by the server.
type ServerMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// SignToken creates a signed HS256 bearer token for the given subject and
// role, valid for one hour.
func SignToken(t *testing.T, secret, subject, role string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return signed
}

// ConnectWebSocket dials a WebSocket connection to the specified URL with an
// allowed origin header. It returns the connection or an error if the
// handshake fails. The HTTP response is returned so callers can inspect the
// status code of rejected handshakes.
func ConnectWebSocket(url string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", "http://localhost:3000")

	return dialer.Dial(url, headers)
}

// MustConnect dials a WebSocket connection and fails the test if the
// handshake does not succeed. The connection is closed during test cleanup.
func MustConnect(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, resp, err := ConnectWebSocket(url)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// ReadServerMessage reads and decodes the next protocol frame, failing the
// test if nothing arrives within the deadline.
func ReadServerMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) ServerMessage {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	var msg ServerMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read server message: %v", err)
	}
	return msg
}

// ExpectNoMessage asserts that the connection stays silent for the given
// duration.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(wait))
	var msg ServerMessage
	if err := conn.ReadJSON(&msg); err == nil {
		t.Fatalf("Expected no message, got type %q data %v", msg.Type, msg.Data)
	}
}

// SendClientMessage writes a protocol frame to the server.
func SendClientMessage(t *testing.T, conn *websocket.Conn, msgType, room string) {
	t.Helper()

	frame := map[string]string{"type": msgType}
	if room != "" {
		frame["room"] = room
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("Failed to send %s message: %v", msgType, err)
	}
}

// JoinRoom sends a join frame and waits for the joined acknowledgement.
func JoinRoom(t *testing.T, conn *websocket.Conn, room string) {
	t.Helper()

	SendClientMessage(t, conn, "join", room)
	msg := ReadServerMessage(t, conn, 2*time.Second)
	if msg.Type != "joined" {
		t.Fatalf("Expected joined acknowledgement for %s, got type %q data %v", room, msg.Type, msg.Data)
	}
}

// PostJSON executes a POST request with a JSON body and an optional bearer
// token, returning the response.
func PostJSON(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	return resp
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	return resp
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// DecodeJSONBody decodes the response body into a generic map and closes it.
func DecodeJSONBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
	return body
}
