// Package brokertest provides an in-memory venue websocket server, a capturing
// publisher and a map resolver for adapter tests.
package brokertest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mdstream/internal/application/port"
	"mdstream/internal/domain/model"
)

type Frame struct {
	Conn int
	Type int
	Data []byte
}

// Server accepts one venue connection at a time and records every frame it receives.
type Server struct {
	*httptest.Server

	// Handshake runs on each new connection before frames are recorded.
	Handshake func(conn *websocket.Conn, r *http.Request) error

	Frames chan Frame

	mu     sync.Mutex
	conn   *websocket.Conn
	conns  int
	header []http.Header
	uris   []string
	drop   chan struct{}
}

func NewServer(t *testing.T) *Server {
	s := &Server{Frames: make(chan Frame, 256), drop: make(chan struct{}, 1)}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if s.Handshake != nil {
			if err := s.Handshake(conn, r); err != nil {
				return
			}
		}
		s.mu.Lock()
		s.conns++
		n := s.conns
		s.conn = conn
		s.header = append(s.header, r.Header.Clone())
		s.uris = append(s.uris, r.RequestURI)
		s.mu.Unlock()

		readErr := make(chan error, 1)
		go func() {
			for {
				mt, b, err := conn.ReadMessage()
				if err != nil {
					readErr <- err
					return
				}
				s.Frames <- Frame{Conn: n, Type: mt, Data: b}
			}
		}()
		select {
		case <-s.drop:
		case <-readErr:
		}
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *Server) WSURL() string { return "ws" + strings.TrimPrefix(s.URL, "http") }

// Conns is the number of connections that completed the handshake.
func (s *Server) Conns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

// Header returns the request headers of connection n (1-based).
func (s *Server) Header(n int) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 1 || n > len(s.header) {
		return nil
	}
	return s.header[n-1]
}

// RequestURI returns the request URI of connection n (1-based).
func (s *Server) RequestURI(n int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 1 || n > len(s.uris) {
		return ""
	}
	return s.uris[n-1]
}

// Send pushes a frame to the current connection.
func (s *Server) Send(t *testing.T, mt int, data []byte) {
	t.Helper()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		t.Fatal("no venue connection")
	}
	if err := conn.WriteMessage(mt, data); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

// Drop closes the current connection from the server side.
func (s *Server) Drop() { s.drop <- struct{}{} }

// Next waits for the next frame of connection conn.
func (s *Server) Next(t *testing.T, conn int, timeout time.Duration) Frame {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case f := <-s.Frames:
			if f.Conn == conn {
				return f
			}
		case <-deadline:
			t.Fatalf("no frame on connection %d within %s", conn, timeout)
			return Frame{}
		}
	}
}

// Quiet reports whether connection conn sends nothing for d.
func (s *Server) Quiet(conn int, d time.Duration) bool {
	deadline := time.After(d)
	for {
		select {
		case f := <-s.Frames:
			if f.Conn == conn {
				return false
			}
		case <-deadline:
			return true
		}
	}
}

// Publisher captures published messages.
type Publisher struct {
	mu  sync.Mutex
	got []port.Message
	ch  chan port.Message
}

func NewPublisher() *Publisher { return &Publisher{ch: make(chan port.Message, 256)} }

func (p *Publisher) Publish(topic string, payload map[string]any) {
	msg := port.Message{Topic: topic, Payload: payload, Ts: time.Now()}
	p.mu.Lock()
	p.got = append(p.got, msg)
	p.mu.Unlock()
	select {
	case p.ch <- msg:
	default:
	}
}

// Wait returns the next message on topic.
func (p *Publisher) Wait(t *testing.T, topic string, timeout time.Duration) port.Message {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case m := <-p.ch:
			if m.Topic == topic {
				return m
			}
		case <-deadline:
			t.Fatalf("nothing published on %s within %s", topic, timeout)
			return port.Message{}
		}
	}
}

func (p *Publisher) All() []port.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]port.Message(nil), p.got...)
}

// Resolver is a static (symbol, exchange) → instrument map.
type Resolver map[string]model.Instrument

func (r Resolver) Add(symbol, exchange, token, venueExchange string) Resolver {
	r[model.PairKey(symbol, exchange)] = model.Instrument{Token: token, VenueExchange: venueExchange}
	return r
}

func (r Resolver) Resolve(_ context.Context, symbol, exchange string) (model.Instrument, error) {
	if inst, ok := r[model.PairKey(symbol, exchange)]; ok {
		return inst, nil
	}
	return model.Instrument{}, port.ErrSymbolNotFound
}
