package fdc3

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wireFrame is the physical frame exchanged over a wsPort's WebSocket
// connection. One WebSocket connection can host several logical ports —
// the discovery/bootstrap port plus one per successfully validated
// proxy on the same page — so every frame is tagged with the portID it
// belongs to, the same way the teacher's phoenixMessage tags every frame
// with a Phoenix Channel topic. Every frame wsPort writes, envelope or
// WCP message alike, carries Kind "message"; readLoop ignores frames of
// any other kind.
type wireFrame struct {
	PortID  string          `json:"portId"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// wsPort implements Port over a WebSocket connection shared by possibly
// several logical ports (see wireFrame). It is the cross-process analogue
// of a browser MessagePort: where MessagePort is a transferable in-page
// object, wsPort fakes the same "fresh port per handshake" semantics by
// multiplexing on portID over one physical socket.
type wsPort struct {
	url    string
	portID string

	mu   sync.Mutex // guards conn writes
	conn *websocket.Conn

	msgHandler   func(payload []byte)
	disconnectFn func(error)

	done chan struct{}
}

func newWSPort(url, portID string) *wsPort {
	return &wsPort{
		url:    url,
		portID: portID,
		done:   make(chan struct{}),
	}
}

// dialWSPort connects as a client, used by ProxyAgent when the hosted
// application and the root agent run in different processes.
func dialWSPort(ctx context.Context, rawURL, portID string) (*wsPort, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		// *.localhost doesn't resolve via Go's net package the way it
		// does in browsers and curl (RFC 6761); dev setups that connect
		// to "root.localhost:4300" need this to work at all.
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err == nil && isLocalhost(host) {
				addr = net.JoinHostPort("127.0.0.1", port)
			}
			return (&net.Dialer{}).DialContext(ctx, network, addr)
		},
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, &HandshakeError{Stage: "dial", Reason: err.Error()}
	}

	p := newWSPort(rawURL, portID)
	p.conn = conn
	go p.readLoop()
	return p, nil
}

// adoptWSConn wraps a server-side upgraded connection, used by the HTTP
// server (server.go) when a browser-tab proxy connects inbound.
func adoptWSConn(conn *websocket.Conn, portID string) *wsPort {
	p := newWSPort("", portID)
	p.conn = conn
	go p.readLoop()
	return p
}

// retag rebinds this port to a new logical portID — used by ProxyAgent
// once WCP3Handshake hands back the portID the root minted for this
// specific connection, replacing the "bootstrap" id used for discovery.
func (p *wsPort) retag(portID string) {
	p.portID = portID
}

func (p *wsPort) Send(env any) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.writeFrame(wireFrame{PortID: p.portID, Kind: "message", Payload: payload})
}

func (p *wsPort) SetMessageHandler(fn func(payload []byte)) {
	p.msgHandler = fn
}

func (p *wsPort) OnDisconnect(fn func(error)) {
	p.disconnectFn = fn
}

func (p *wsPort) Close() error {
	select {
	case <-p.done:
		return nil
	default:
		close(p.done)
	}
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (p *wsPort) readLoop() {
	for {
		select {
		case <-p.done:
			return
		default:
		}

		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-p.done:
			default:
				if p.disconnectFn != nil {
					p.disconnectFn(err)
				}
			}
			return
		}

		var frame wireFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.PortID != p.portID {
			continue // belongs to a sibling logical port on the same socket
		}
		if frame.Kind == "message" && p.msgHandler != nil {
			p.msgHandler(frame.Payload)
		}
	}
}

func (p *wsPort) writeFrame(f wireFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return ErrPortClosed
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// isLocalhost returns true if host is "localhost" or a subdomain of it,
// per RFC 6761.
func isLocalhost(host string) bool {
	return host == "localhost" || strings.HasSuffix(host, ".localhost")
}
