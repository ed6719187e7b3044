package appserver_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pretyflaco/openagents-sub005/pkg/appserver"
	"github.com/pretyflaco/openagents-sub005/pkg/rpc"
	"github.com/pretyflaco/openagents-sub005/pkg/wire"
)

// fakeAppServer answers every request line with a canned result keyed by
// method, simulating the real codex-app-server subprocess.
func fakeAppServer(t *testing.T, in io.Reader, out io.Writer, results map[string]string) {
	t.Helper()
	scanner := bufio.NewScanner(in)
	go func() {
		for scanner.Scan() {
			var msg wire.Message
			if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
				continue
			}
			if msg.ID == nil {
				continue
			}
			result, ok := results[msg.Method]
			if !ok {
				result = `{}`
			}
			resp := wire.Message{ID: msg.ID, Result: json.RawMessage(result)}
			line, _ := json.Marshal(resp)
			line = append(line, '\n')
			_, _ = out.Write(line)
		}
	}()
}

func newTestClient(t *testing.T, results map[string]string) *appserver.Client {
	t.Helper()
	clientToServer, writeToServer := io.Pipe()
	serverToClient, writeToClient := io.Pipe()
	fakeAppServer(t, clientToServer, writeToClient, results)

	transport := rpc.New(serverToClient, writeToServer, 8, 8)
	return appserver.WrapTransport(transport)
}

func TestInitialize_IsIdempotent(t *testing.T) {
	client := newTestClient(t, map[string]string{"initialize": `{"status":"ok"}`})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, client.Initialize(ctx, appserver.ClientInfo{Name: "openagentsd", Version: "1.0.0"}))
	require.NoError(t, client.Initialize(ctx, appserver.ClientInfo{Name: "openagentsd", Version: "1.0.0"}))
}

func TestThreadStart_DecodesResult(t *testing.T) {
	client := newTestClient(t, map[string]string{
		"thread/start": `{"threadId":"th-1"}`,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out, err := client.ThreadStart(ctx, appserver.ThreadStartRequest{WorkspaceRoot: "/work"})
	require.NoError(t, err)
	assert.Equal(t, "th-1", out.ThreadID)
}

func TestSkillsList_DecodesResult(t *testing.T) {
	client := newTestClient(t, map[string]string{
		"skills/list": `{"skills":["a","b"]}`,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out, err := client.SkillsList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out.Skills)
}
