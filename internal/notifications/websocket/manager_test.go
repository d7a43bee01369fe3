package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHandleConnection_GreetsUnderConcurrentClose(t *testing.T) {
	manager := NewManager(nil, zap.NewNop())
	var panics atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recover() != nil {
				panics.Add(1)
			}
		}()
		done := make(chan struct{})
		go func() {
			defer close(done)
			manager.Close()
		}()
		_, _ = manager.HandleConnection(w, r, uuid.New(), "TENANT")
		<-done
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	for i := 0; i < 50; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		_ = conn.Close()
	}

	manager.Close()
	assert.Zero(t, panics.Load())
	assert.Zero(t, manager.ConnectionCount())
}

func TestHandleConnection_SendsGreeting(t *testing.T) {
	manager := NewManager(nil, zap.NewNop())
	defer manager.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = manager.HandleConnection(w, r, uuid.New(), "LANDLORD")
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeStatus, msg.Type)
	assert.Equal(t, 1, manager.ConnectionCount())
}
