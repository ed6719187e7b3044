package rpc_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pretyflaco/openagents-sub005/pkg/rpc"
	"github.com/pretyflaco/openagents-sub005/pkg/wire"
)

// fakePeer simulates the external app-server process: reads request
// lines off clientToServer and writes {id, result} response lines onto
// serverToClient, standing in for a real codex-app-server subprocess.
func fakePeer(t *testing.T, clientToServer io.Reader, serverToClient io.Writer) {
	t.Helper()
	scanner := bufio.NewScanner(clientToServer)
	go func() {
		for scanner.Scan() {
			var msg wire.Message
			if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
				continue
			}
			if msg.ID == nil || msg.Method == "" {
				continue
			}
			resp := wire.Message{ID: msg.ID, Result: json.RawMessage(`{"status":"ok"}`)}
			line, _ := json.Marshal(resp)
			line = append(line, '\n')
			_, _ = serverToClient.Write(line)
		}
	}()
}

func TestRequest_MatchesResponseByID(t *testing.T) {
	clientToServer, writeToServer := io.Pipe()
	serverToClient, writeToClient := io.Pipe()

	fakePeer(t, clientToServer, writeToClient)

	client := rpc.New(serverToClient, writeToServer, 8, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := client.Request(ctx, "thread/start", map[string]any{"x": 1})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(result, &decoded))
	assert.Equal(t, "ok", decoded["status"])
}

func TestNotify_DeliversToNotificationsChannel(t *testing.T) {
	serverToClient, writeToClient := io.Pipe()
	_, writeToServer := io.Pipe()

	client := rpc.New(serverToClient, writeToServer, 8, 8)

	notif := wire.Message{Method: "turn/started", Params: json.RawMessage(`{"thread_id":"t1"}`)}
	line, err := json.Marshal(notif)
	require.NoError(t, err)
	line = append(line, '\n')

	go func() { _, _ = writeToClient.Write(line) }()

	select {
	case msg := <-client.Notifications():
		assert.Equal(t, "turn/started", msg.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestServerRequest_AnsweredWithUniversalStub(t *testing.T) {
	serverToClient, writeToClient := io.Pipe()
	fromClient, writeToServer := io.Pipe()

	client := rpc.New(serverToClient, writeToServer, 8, 8)

	acks := make(chan []byte, 1)
	go func() {
		line, _ := bufio.NewReader(fromClient).ReadBytes('\n')
		acks <- line
	}()

	id := wire.NewIntID(99)
	req := wire.Message{ID: &id, Method: "permission/elevate"}
	line, err := json.Marshal(req)
	require.NoError(t, err)
	line = append(line, '\n')

	go func() { _, _ = writeToClient.Write(line) }()

	select {
	case ack := <-acks:
		assert.Contains(t, string(ack), `"status":"unsupported"`)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the stub acknowledgement")
	}

	select {
	case msg := <-client.ServerRequests():
		assert.Equal(t, "permission/elevate", msg.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server request")
	}
}

func TestID_StringRepresentation(t *testing.T) {
	assert.Equal(t, "abc", wire.NewStringID("abc").String())
	assert.Equal(t, "42", wire.NewIntID(42).String())
}
