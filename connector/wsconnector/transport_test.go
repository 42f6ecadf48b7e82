package wsconnector_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/graphsync/connector"
	"github.com/evalgo/graphsync/connector/wsconnector"
	"github.com/evalgo/graphsync/subject"
)

type widget struct{ name string }

func (w *widget) SubjectType() string { return "widget" }

var upgrader = websocket.Upgrader{}

func newTestServer(t *testing.T, onConn func(conn *websocket.Conn)) (url string, closeFn func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		onConn(conn)
	}))
	return "ws" + strings.TrimPrefix(srv.URL, "http"), srv.Close
}

func TestTransport_StartListeningCompletesBufferOnSnapshot(t *testing.T) {
	url, closeSrv := newTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		require.NoError(t, conn.WriteJSON(map[string]any{
			"type":      "snapshot_complete",
			"timestamp": time.Now(),
		}))
		time.Sleep(50 * time.Millisecond)
	})
	defer closeSrv()

	tr := wsconnector.New(wsconnector.Config{URL: url})
	buffer := connector.NewBuffer()

	handle, err := tr.StartListening(context.Background(), buffer)
	require.NoError(t, err)
	defer handle.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, buffer.Await(ctx))
}

func TestTransport_DispatchesPropertyChangedToHandler(t *testing.T) {
	var mu sync.Mutex
	var received wsconnector.PropertyChangedPayload
	gotOne := make(chan struct{})

	url, closeSrv := newTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		require.NoError(t, conn.WriteJSON(map[string]any{
			"type":      "property_changed",
			"timestamp": time.Now(),
			"payload": map[string]any{
				"externalId":       "ext-1",
				"property":         "name",
				"newValue":         "hello",
				"changedTimestamp": time.Now(),
			},
		}))
		time.Sleep(50 * time.Millisecond)
	})
	defer closeSrv()

	tr := wsconnector.New(wsconnector.Config{
		URL: url,
		Handlers: wsconnector.Handlers{
			OnPropertyChanged: func(p wsconnector.PropertyChangedPayload) {
				mu.Lock()
				received = p
				mu.Unlock()
				close(gotOne)
			},
		},
	})
	buffer := connector.NewBuffer()
	handle, err := tr.StartListening(context.Background(), buffer)
	require.NoError(t, err)
	defer handle.Close()

	select {
	case <-gotOne:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for property_changed dispatch")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "ext-1", received.ExternalID)
	require.Equal(t, "name", received.Property)
}

func TestTransport_WriteChangesInBatchesReportsUnresolvedAsFailed(t *testing.T) {
	accepted := make(chan struct{}, 4)
	url, closeSrv := newTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			accepted <- struct{}{}
		}
	})
	defer closeSrv()

	resolved := &widget{name: "resolved"}
	unresolved := &widget{name: "unresolved"}

	tr := wsconnector.New(wsconnector.Config{
		URL: url,
		Resolver: func(s subject.Subject) (string, bool) {
			if s == subject.Subject(resolved) {
				return "ext-resolved", true
			}
			return "", false
		},
	})
	buffer := connector.NewBuffer()
	handle, err := tr.StartListening(context.Background(), buffer)
	require.NoError(t, err)
	defer handle.Close()

	time.Sleep(20 * time.Millisecond) // let the dial settle before writing

	batch := []subject.PropertyChange{
		{
			Property: subject.PropertyReference{Subject: resolved, Name: "value"},
			NewValue: 1,
		},
		{
			Property: subject.PropertyReference{Subject: unresolved, Name: "value"},
			NewValue: 2,
		},
	}

	failed, err := tr.WriteChangesInBatches(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, subject.Subject(unresolved), failed[0].Property.Subject)

	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("server never received the resolved change")
	}
}
