// Package ws implements the device pairing link over WebSocket.
//
// Each device runs an HTTP listener with a /ws endpoint and, when a peer
// URL is configured, dials the peer until a connection is established.
// A single connection carries both delivery modes as typed frames:
//
//	context  - durable last-value-wins snapshot delivery
//	message  - transient point-to-point delivery, expects a reply
//	reply    - response to a message, correlated by frame id
//
// The durable context slot is persisted to disk so the latest unconsumed
// write survives process restarts and is pushed on (re)connect. Redelivery
// of an already-consumed slot is harmless because the merge on the
// receiving side is idempotent.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/calebh/auralog/internal/transport"
)

// frame is the wire unit on the WebSocket connection.
type frame struct {
	Type    string          `json:"type"` // context, message, reply
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

const (
	frameContext = "context"
	frameMessage = "message"
	frameReply   = "reply"
)

// Config holds link configuration.
type Config struct {
	// ListenAddr is the local address to accept the peer on (":7465").
	// Empty disables the listener (dial-only link).
	ListenAddr string

	// PeerURL is the peer's WebSocket endpoint ("ws://host:7465/ws").
	// Empty disables dialing (accept-only link).
	PeerURL string

	// SlotPath is the file persisting the durable context slot.
	SlotPath string

	// DialInterval is how often to retry dialing the peer (default: 3s).
	DialInterval time.Duration

	// ReplyTimeout bounds the wait for a transient reply (default: 10s).
	ReplyTimeout time.Duration

	// WriteTimeout bounds a single frame write (default: 5s).
	WriteTimeout time.Duration

	// Logger for link activity (default: stderr logger).
	Logger *log.Logger
}

func (c *Config) setDefaults() {
	if c.DialInterval == 0 {
		c.DialInterval = 3 * time.Second
	}
	if c.ReplyTimeout == 0 {
		c.ReplyTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.New(os.Stderr, "[transport] ", log.LstdFlags)
	}
}

// Link is a transport.Channel over a WebSocket peer connection.
type Link struct {
	cfg    Config
	logger *log.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	handler transport.Handler
	pending map[string]chan frame

	slotMu    sync.Mutex
	slot      []byte
	slotDirty bool

	listener net.Listener
	server   *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ transport.Channel = (*Link)(nil)

// New creates a link with the given configuration. Use Start to activate.
func New(cfg Config) *Link {
	cfg.setDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Link{
		cfg:     cfg,
		logger:  cfg.Logger,
		pending: make(map[string]chan frame),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start activates the link: loads the persisted context slot, starts the
// listener, and begins dialing the peer. Returns an error wrapping
// transport.ErrActivationFailed if the listener cannot be created.
func (l *Link) Start() error {
	if err := l.loadSlot(); err != nil {
		l.logger.Printf("Warning: failed to load context slot: %v", err)
	}

	if l.cfg.ListenAddr != "" {
		ln, err := net.Listen("tcp", l.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("%w: listen on %s: %v", transport.ErrActivationFailed, l.cfg.ListenAddr, err)
		}
		l.listener = ln

		mux := http.NewServeMux()
		mux.HandleFunc("/ws", l.handleWS)
		mux.HandleFunc("/health", l.handleHealth)

		l.server = &http.Server{
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.logger.Printf("Listening on %s", ln.Addr())
			if err := l.server.Serve(ln); err != nil && err != http.ErrServerClosed {
				l.logger.Printf("Server error: %v", err)
			}
		}()
	}

	if l.cfg.PeerURL != "" {
		l.wg.Add(1)
		go l.dialLoop()
	}

	return nil
}

// Stop shuts the link down and waits for its goroutines.
func (l *Link) Stop() error {
	l.cancel()

	l.mu.Lock()
	if l.conn != nil {
		_ = l.conn.Close(websocket.StatusGoingAway, "link shutting down")
		l.conn = nil
	}
	l.mu.Unlock()

	if l.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	l.wg.Wait()
	return nil
}

// Addr returns the bound listener address, for tests and status output.
func (l *Link) Addr() string {
	if l.listener == nil {
		return ""
	}
	return l.listener.Addr().String()
}

// SendDurable implements transport.Channel.
//
// The payload is persisted as the context slot first, then pushed if the
// peer is currently connected. A persistence or write failure is returned
// so the caller can fall back to the transient channel; the slot stays
// dirty either way and is retried on the next (re)connect.
func (l *Link) SendDurable(ctx context.Context, payload []byte) error {
	l.slotMu.Lock()
	l.slot = append([]byte(nil), payload...)
	l.slotDirty = true
	persistErr := l.persistSlot()
	l.slotMu.Unlock()
	if persistErr != nil {
		return persistErr
	}

	conn := l.currentConn()
	if conn == nil {
		// Queued; delivered once reachability resumes.
		return nil
	}

	if err := l.writeFrame(ctx, conn, frame{Type: frameContext, Payload: payload}); err != nil {
		return fmt.Errorf("context write failed: %w", err)
	}
	l.slotMu.Lock()
	l.slotDirty = false
	l.slotMu.Unlock()
	return nil
}

// SendTransient implements transport.Channel.
func (l *Link) SendTransient(ctx context.Context, payload []byte) ([]byte, error) {
	conn := l.currentConn()
	if conn == nil {
		return nil, transport.ErrNotReachable
	}

	id := uuid.NewString()
	ch := make(chan frame, 1)

	l.mu.Lock()
	l.pending[id] = ch
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.pending, id)
		l.mu.Unlock()
	}()

	if err := l.writeFrame(ctx, conn, frame{Type: frameMessage, ID: id, Payload: payload}); err != nil {
		return nil, fmt.Errorf("message write failed: %w", err)
	}

	select {
	case f := <-ch:
		if f.Error != "" {
			return nil, errors.New(f.Error)
		}
		return f.Payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.ctx.Done():
		return nil, transport.ErrNotReachable
	case <-time.After(l.cfg.ReplyTimeout):
		return nil, transport.ErrTimeout
	}
}

// SetHandler implements transport.Channel.
func (l *Link) SetHandler(h transport.Handler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

// Pairing implements transport.Channel.
func (l *Link) Pairing() transport.Pairing {
	l.mu.Lock()
	defer l.mu.Unlock()
	return transport.Pairing{
		Paired:    l.cfg.PeerURL != "" || l.cfg.ListenAddr != "",
		Reachable: l.conn != nil,
	}
}

// dialLoop keeps trying to establish the peer connection.
func (l *Link) dialLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.DialInterval)
	defer ticker.Stop()

	// First attempt without waiting for the ticker.
	l.dialOnce()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if l.currentConn() == nil {
				l.dialOnce()
			}
		}
	}
}

// dialOnce attempts a single dial and, on success, runs the read loop
// until the connection drops.
func (l *Link) dialOnce() {
	ctx, cancel := context.WithTimeout(l.ctx, l.cfg.DialInterval)
	conn, _, err := websocket.Dial(ctx, l.cfg.PeerURL, nil)
	cancel()
	if err != nil {
		return
	}

	l.logger.Printf("Connected to peer %s", l.cfg.PeerURL)
	l.adoptConn(conn)
	l.readLoop(conn)
}

// handleWS accepts the peer's inbound connection.
func (l *Link) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		l.logger.Printf("Accept failed: %v", err)
		return
	}

	l.logger.Printf("Peer connected from %s", r.RemoteAddr)
	l.adoptConn(conn)
	l.readLoop(conn)
}

func (l *Link) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	p := l.Pairing()
	_ = json.NewEncoder(w).Encode(map[string]bool{
		"paired":    p.Paired,
		"reachable": p.Reachable,
	})
}

// adoptConn installs conn as the active peer connection, closing any
// previous one, and flushes the pending context slot.
func (l *Link) adoptConn(conn *websocket.Conn) {
	l.mu.Lock()
	if l.conn != nil && l.conn != conn {
		_ = l.conn.Close(websocket.StatusPolicyViolation, "superseded by new peer connection")
	}
	l.conn = conn
	l.mu.Unlock()

	l.flushSlot(conn)
}

// flushSlot pushes the persisted context slot if one is pending.
func (l *Link) flushSlot(conn *websocket.Conn) {
	l.slotMu.Lock()
	dirty := l.slotDirty
	payload := l.slot
	l.slotMu.Unlock()
	if !dirty {
		return
	}

	if err := l.writeFrame(l.ctx, conn, frame{Type: frameContext, Payload: payload}); err != nil {
		l.logger.Printf("Failed to flush context slot: %v", err)
		return
	}
	l.slotMu.Lock()
	l.slotDirty = false
	l.slotMu.Unlock()
}

// readLoop consumes frames from conn until it drops.
func (l *Link) readLoop(conn *websocket.Conn) {
	defer l.dropConn(conn)

	for {
		_, data, err := conn.Read(l.ctx)
		if err != nil {
			if l.ctx.Err() == nil {
				l.logger.Printf("Peer connection lost: %v", err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			l.logger.Printf("Dropping malformed frame: %v", err)
			continue
		}

		// Handlers block on the consumer's serialization point, so
		// context and message frames are serviced off the read loop.
		// Only reply correlation stays inline: with the loop free, a
		// reply to an in-flight transient send is always read even
		// while a merge is still being processed.
		switch f.Type {
		case frameContext:
			go l.dispatch(f.Payload)

		case frameMessage:
			go func(f frame) {
				reply, err := l.dispatchWithReply(f.Payload)
				rf := frame{Type: frameReply, ID: f.ID, Payload: reply}
				if err != nil {
					rf.Error = err.Error()
				}
				if err := l.writeFrame(l.ctx, conn, rf); err != nil {
					l.logger.Printf("Failed to send reply: %v", err)
				}
			}(f)

		case frameReply:
			l.mu.Lock()
			ch, ok := l.pending[f.ID]
			l.mu.Unlock()
			if ok {
				ch <- f
			}

		default:
			l.logger.Printf("Dropping frame with unknown type %q", f.Type)
		}
	}
}

// dropConn clears conn if it is still the active connection.
func (l *Link) dropConn(conn *websocket.Conn) {
	_ = conn.CloseNow()
	l.mu.Lock()
	if l.conn == conn {
		l.conn = nil
	}
	l.mu.Unlock()
}

func (l *Link) dispatch(payload []byte) {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h == nil {
		l.logger.Println("Warning: inbound context dropped, no handler registered")
		return
	}
	if _, err := h(payload); err != nil {
		l.logger.Printf("Inbound context handler error: %v", err)
	}
}

func (l *Link) dispatchWithReply(payload []byte) ([]byte, error) {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h == nil {
		return nil, errors.New("no handler registered")
	}
	return h(payload)
}

func (l *Link) currentConn() *websocket.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

// writeFrame serializes and writes a single frame with a write deadline.
// Writes are serialized; reply frames from the read loop and sends from
// the coordinator share the connection.
func (l *Link) writeFrame(ctx context.Context, conn *websocket.Conn, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	wctx, cancel := context.WithTimeout(ctx, l.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

// loadSlot restores the persisted context slot. A slot left over from a
// previous run is marked dirty and redelivered; the receiving merge is
// idempotent, so over-delivery is safe and under-delivery is not.
func (l *Link) loadSlot() error {
	if l.cfg.SlotPath == "" {
		return nil
	}
	data, err := os.ReadFile(l.cfg.SlotPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	l.slotMu.Lock()
	l.slot = data
	l.slotDirty = true
	l.slotMu.Unlock()
	return nil
}

// persistSlot writes the slot file atomically. Callers hold slotMu.
func (l *Link) persistSlot() error {
	if l.cfg.SlotPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.cfg.SlotPath), 0755); err != nil {
		return fmt.Errorf("failed to create slot directory: %w", err)
	}
	tmp := l.cfg.SlotPath + ".tmp"
	if err := os.WriteFile(tmp, l.slot, 0600); err != nil {
		return fmt.Errorf("failed to write context slot: %w", err)
	}
	if err := os.Rename(tmp, l.cfg.SlotPath); err != nil {
		return fmt.Errorf("failed to replace context slot: %w", err)
	}
	return nil
}
