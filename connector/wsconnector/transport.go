package wsconnector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/evalgo/graphsync/connector"
	"github.com/evalgo/graphsync/subject"
)

var errNotConnected = errors.New("wsconnector: no active connection")

// Resolver maps a local subject to the external identifier the remote
// system expects on the wire; it is typically registry.TryGetExternalId.
type Resolver func(s subject.Subject) (externalID string, ok bool)

// Handlers dispatches inbound wire events to the rest of the engine.
type Handlers struct {
	OnPropertyChanged func(PropertyChangedPayload)
	OnSubjectAdded    func(SubjectEdgePayload)
	OnSubjectRemoved  func(SubjectEdgePayload)
}

// Config configures a Transport.
type Config struct {
	URL         string
	DialTimeout time.Duration
	Resolver    Resolver
	Handlers    Handlers
	Logger      *logrus.Entry
}

// Transport is a demo connector.Transport implementation speaking a small
// JSON-over-WebSocket protocol, grounded on this module's WebSocket
// coordination client's dial/read-loop structure.
type Transport struct {
	cfg Config

	mu   sync.RWMutex
	conn *websocket.Conn
}

// New constructs a Transport from cfg.
func New(cfg Config) *Transport {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Transport{cfg: cfg}
}

// StartListening dials the remote WebSocket endpoint and begins dispatching
// inbound envelopes. It satisfies connector.Transport.
func (t *Transport) StartListening(ctx context.Context, buffer *connector.Buffer) (io.Closer, error) {
	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	h := &handle{conn: conn, onClose: func() {
		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()
	}}
	go t.readLoop(conn, buffer)
	return h, nil
}

func (t *Transport) readLoop(conn *websocket.Conn, buffer *connector.Buffer) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := parseEnvelope(data)
		if err != nil {
			t.cfg.Logger.WithError(err).Warn("wsconnector: malformed envelope, skipping")
			continue
		}
		t.dispatch(conn, buffer, env)
	}
}

func (t *Transport) dispatch(conn *websocket.Conn, buffer *connector.Buffer, env *Envelope) {
	switch env.Type {
	case MessageTypeSnapshotComplete:
		buffer.CompleteInitialization()

	case MessageTypePropertyChanged:
		var p PropertyChangedPayload
		if err := unmarshalPayload(env, &p); err != nil {
			t.cfg.Logger.WithError(err).Warn("wsconnector: bad property_changed payload")
			return
		}
		if t.cfg.Handlers.OnPropertyChanged != nil {
			t.cfg.Handlers.OnPropertyChanged(p)
		}

	case MessageTypeSubjectAdded:
		var p SubjectEdgePayload
		if err := unmarshalPayload(env, &p); err != nil {
			t.cfg.Logger.WithError(err).Warn("wsconnector: bad subject_added payload")
			return
		}
		if t.cfg.Handlers.OnSubjectAdded != nil {
			t.cfg.Handlers.OnSubjectAdded(p)
		}

	case MessageTypeSubjectRemoved:
		var p SubjectEdgePayload
		if err := unmarshalPayload(env, &p); err != nil {
			t.cfg.Logger.WithError(err).Warn("wsconnector: bad subject_removed payload")
			return
		}
		if t.cfg.Handlers.OnSubjectRemoved != nil {
			t.cfg.Handlers.OnSubjectRemoved(p)
		}

	case MessageTypePing:
		pong, err := newEnvelope(MessageTypePong, struct{}{})
		if err == nil {
			conn.WriteJSON(pong)
		}
	}
}

// WriteChangesInBatches satisfies changequeue.Writer: it serializes each
// change to a property_changed envelope and writes it over the active
// connection. A change whose subject has no known external-id is reported
// as failed rather than silently dropped.
func (t *Transport) WriteChangesInBatches(ctx context.Context, batch []subject.PropertyChange) ([]subject.PropertyChange, error) {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil {
		return batch, errNotConnected
	}

	var failed []subject.PropertyChange
	for _, c := range batch {
		externalID, ok := t.cfg.Resolver(c.Property.Subject)
		if !ok {
			failed = append(failed, c)
			continue
		}
		env, err := newEnvelope(MessageTypePropertyChanged, PropertyChangedPayload{
			ExternalID:       externalID,
			Property:         c.Property.Name,
			NewValue:         c.NewValue,
			ChangedTimestamp: c.ChangedTimestamp,
		})
		if err != nil {
			failed = append(failed, c)
			continue
		}
		if err := conn.WriteJSON(env); err != nil {
			failed = append(failed, c)
			continue
		}
	}
	return failed, nil
}

func unmarshalPayload(env *Envelope, out any) error {
	return json.Unmarshal(env.Payload, out)
}

type handle struct {
	conn    *websocket.Conn
	onClose func()
}

func (h *handle) Close() error {
	h.onClose()
	return h.conn.Close()
}
