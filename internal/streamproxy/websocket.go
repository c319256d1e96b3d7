// SPDX-License-Identifier: GPL-3.0-or-later

package streamproxy

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// bridgeWebSocket performs a server-side WebSocket handshake on client and
// a client-side WebSocket handshake over the already-dialed upstream
// connection, then forwards frames between the two until either peer
// closes or errors.
func bridgeWebSocket(ctx context.Context, client, upstream net.Conn) error {
	serverConn, err := acceptWebSocket(client)
	if err != nil {
		return fmt.Errorf("streamproxy: websocket accept: %w", err)
	}
	defer serverConn.Close()

	upstreamConn, err := dialWebSocket(ctx, upstream)
	if err != nil {
		return fmt.Errorf("streamproxy: websocket dial: %w", err)
	}
	defer upstreamConn.Close()

	done := make(chan error, 2)
	go func() { done <- forwardMessages(upstreamConn, serverConn) }()
	go func() { done <- forwardMessages(serverConn, upstreamConn) }()

	select {
	case err := <-done:
		serverConn.Close()
		upstreamConn.Close()
		return err
	case <-ctx.Done():
		serverConn.Close()
		upstreamConn.Close()
		<-done
		return ctx.Err()
	}
}

// forwardMessages reads WebSocket messages from src and writes each one to
// dst until src errors (including a normal close frame).
func forwardMessages(dst, src *websocket.Conn) error {
	for {
		messageType, data, err := src.ReadMessage()
		if err != nil {
			return err
		}
		if err := dst.WriteMessage(messageType, data); err != nil {
			return err
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// acceptWebSocket reads the client's HTTP upgrade request directly off
// conn and completes the WebSocket handshake, without running a full
// [http.Server]: the stream proxy operates purely on accepted [net.Conn]
// values, so it hands gorilla/websocket a minimal [http.ResponseWriter]
// that hijacks back to the same conn.
func acceptWebSocket(conn net.Conn) (*websocket.Conn, error) {
	br := bufio.NewReader(conn)
	req, err := http.ReadRequest(br)
	if err != nil {
		return nil, err
	}

	rw := &hijackResponseWriter{
		conn:   conn,
		header: make(http.Header),
		brw:    bufio.NewReadWriter(br, bufio.NewWriter(conn)),
	}
	return upgrader.Upgrade(rw, req, nil)
}

// hijackResponseWriter is the smallest possible [http.ResponseWriter] that
// also implements [http.Hijacker], so gorilla/websocket can complete its
// handshake directly on a [net.Conn] with no surrounding [http.Server].
type hijackResponseWriter struct {
	conn   net.Conn
	header http.Header
	brw    *bufio.ReadWriter
}

var _ http.ResponseWriter = (*hijackResponseWriter)(nil)
var _ http.Hijacker = (*hijackResponseWriter)(nil)

func (w *hijackResponseWriter) Header() http.Header { return w.header }

func (w *hijackResponseWriter) Write(p []byte) (int, error) { return w.conn.Write(p) }

func (w *hijackResponseWriter) WriteHeader(statusCode int) {}

func (w *hijackResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.conn, w.brw, nil
}

// dialWebSocket performs a client-side WebSocket handshake reusing the
// already-dialed upstream connection in place of opening a new one:
// gorilla/websocket's [websocket.Dialer.NetDialContext] hook lets us hand
// back an existing [net.Conn] instead of letting the dialer open its own.
func dialWebSocket(ctx context.Context, upstream net.Conn) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return upstream, nil
		},
	}
	conn, _, err := dialer.DialContext(ctx, "ws://upstream/", nil)
	return conn, err
}
