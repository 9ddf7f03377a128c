package visualise

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastDeliversFrameToConnectedClient(t *testing.T) {
	b := New(nil)
	srv := httptest.NewServer(b)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return b.numClients() == 1 }, time.Second, 10*time.Millisecond)

	b.Broadcast([]byte("frame-1"))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "frame-1", string(msg))
}

func TestBroadcastWithNoClientsDoesNotPanic(t *testing.T) {
	b := New(nil)
	assert.NotPanics(t, func() { b.Broadcast([]byte("nobody's listening")) })
}
