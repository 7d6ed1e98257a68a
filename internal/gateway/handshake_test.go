package gateway

import (
	"encoding/json"
	"errors"
	"testing"
)

// pipeConn is an in-memory wsConn used to unit test handshake() without a
// real websocket.
type pipeConn struct {
	toServer   chan []byte
	fromServer chan []byte
}

func newPipeConn() *pipeConn {
	return &pipeConn{toServer: make(chan []byte, 4), fromServer: make(chan []byte, 4)}
}

func (p *pipeConn) ReadJSON(v any) error {
	b, ok := <-p.toServer
	if !ok {
		return errors.New("closed")
	}
	return json.Unmarshal(b, v)
}

func (p *pipeConn) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.fromServer <- b
	return nil
}

func mustMarshal(t *testing.T, f handshakeFrame) []byte {
	t.Helper()
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func mustUnmarshal(t *testing.T, b []byte, f *handshakeFrame) {
	t.Helper()
	if err := json.Unmarshal(b, f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
}

func TestHandshakeSuccess(t *testing.T) {
	token := "shared-secret"
	conn := newPipeConn()

	go func() {
		conn.toServer <- mustMarshal(t, handshakeFrame{Step: stepHello, ClientID: "cli-1"})
		challengeBytes := <-conn.fromServer
		var challenge handshakeFrame
		mustUnmarshal(t, challengeBytes, &challenge)
		mac := signNonce(token, challenge.Nonce)
		conn.toServer <- mustMarshal(t, handshakeFrame{Step: stepAuth, ClientID: "cli-1", MAC: mac})
	}()

	clientID, err := handshake(conn, token)
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if clientID != "cli-1" {
		t.Fatalf("expected client id cli-1, got %q", clientID)
	}

	welcomeBytes := <-conn.fromServer
	var welcome handshakeFrame
	mustUnmarshal(t, welcomeBytes, &welcome)
	if welcome.Step != stepWelcome || welcome.Error != "" {
		t.Fatalf("unexpected welcome frame: %+v", welcome)
	}
}

func TestHandshakeRejectsBadMAC(t *testing.T) {
	conn := newPipeConn()
	go func() {
		conn.toServer <- mustMarshal(t, handshakeFrame{Step: stepHello, ClientID: "cli-1"})
		<-conn.fromServer
		conn.toServer <- mustMarshal(t, handshakeFrame{Step: stepAuth, ClientID: "cli-1", MAC: "wrong"})
	}()

	if _, err := handshake(conn, "shared-secret"); err == nil {
		t.Fatal("expected handshake to fail on bad MAC")
	}
}

func TestHandshakeRejectsOutOfOrderSteps(t *testing.T) {
	conn := newPipeConn()
	go func() {
		conn.toServer <- mustMarshal(t, handshakeFrame{Step: stepAuth, ClientID: "cli-1"})
	}()

	if _, err := handshake(conn, "shared-secret"); err == nil {
		t.Fatal("expected handshake to fail when auth arrives before hello")
	}
}

func TestSignAndVerifyNonceRoundTrip(t *testing.T) {
	mac := signNonce("tok", "abc123")
	if !verifyMAC("tok", "abc123", mac) {
		t.Fatal("expected verifyMAC to accept a MAC it just produced")
	}
	if verifyMAC("tok", "abc123", mac+"x") {
		t.Fatal("expected verifyMAC to reject a tampered MAC")
	}
}
