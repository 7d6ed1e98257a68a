// Package gateway is the WebSocket-facing edge service. It terminates
// client connections, performs the hello/challenge/auth/welcome handshake,
// and multiplexes each authenticated client onto the daemon's NDJSON
// protocol over a Unix domain socket (internal/daemon).
package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

// handshakeStep tags each of the four frames exchanged before a connection
// is admitted to normal traffic.
type handshakeStep string

const (
	stepHello     handshakeStep = "hello"
	stepChallenge handshakeStep = "challenge"
	stepAuth      handshakeStep = "auth"
	stepWelcome   handshakeStep = "welcome"
)

type handshakeFrame struct {
	Step      handshakeStep `json:"step"`
	Nonce     string        `json:"nonce,omitempty"`
	MAC       string        `json:"mac,omitempty"`
	ClientID  string        `json:"client_id,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Error     string        `json:"error,omitempty"`
}

const nonceSize = 24
const handshakeTimeout = 10 * time.Second

func newNonce() (string, error) {
	b := make([]byte, nonceSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// signNonce computes the client's proof of possession of the shared token:
// HMAC-SHA256(token, nonce), hex-encoded.
func signNonce(token, nonce string) string {
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write([]byte(nonce))
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyMAC(token, nonce, mac string) bool {
	expected := signNonce(token, nonce)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(mac)) == 1
}

// wsConn is the minimal surface handshake() needs from a websocket
// connection, satisfied by *websocket.Conn via the adapter in server.go.
type wsConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
}

// handshake runs the four-step hello -> challenge -> auth -> welcome
// exchange and returns the authenticated
// client's declared identity.
func handshake(conn wsConn, token string) (clientID string, err error) {
	var hello handshakeFrame
	if err := conn.ReadJSON(&hello); err != nil {
		return "", fmt.Errorf("read hello: %w", err)
	}
	if hello.Step != stepHello {
		return "", fmt.Errorf("expected hello, got %q", hello.Step)
	}

	nonce, err := newNonce()
	if err != nil {
		return "", err
	}
	if err := conn.WriteJSON(handshakeFrame{Step: stepChallenge, Nonce: nonce}); err != nil {
		return "", fmt.Errorf("write challenge: %w", err)
	}

	var auth handshakeFrame
	if err := conn.ReadJSON(&auth); err != nil {
		return "", fmt.Errorf("read auth: %w", err)
	}
	if auth.Step != stepAuth {
		return "", fmt.Errorf("expected auth, got %q", auth.Step)
	}
	if !verifyMAC(token, nonce, auth.MAC) {
		_ = conn.WriteJSON(handshakeFrame{Step: stepWelcome, Error: "auth_failed"})
		return "", fmt.Errorf("handshake auth failed for client %q", auth.ClientID)
	}

	if err := conn.WriteJSON(handshakeFrame{Step: stepWelcome, ClientID: auth.ClientID}); err != nil {
		return "", fmt.Errorf("write welcome: %w", err)
	}
	return auth.ClientID, nil
}
