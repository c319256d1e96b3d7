// SPDX-License-Identifier: GPL-3.0-or-later

package streamproxy

import (
	"context"
	"io"
	"net"
)

// copyBidirectional streams bytes between client and upstream in both
// directions concurrently and returns once the first direction finishes,
// closing both connections to unblock the other direction's pending I/O.
//
// This is a raced join rather than a full half-close: the source leaves
// neither side's remaining writes observable once one direction finishes,
// so closing the other direction outright is a legitimate simplification
// for an L4 proxy where both legs are torn down together.
func copyBidirectional(ctx context.Context, client, upstream net.Conn) error {
	done := make(chan error, 2)

	go func() { _, err := io.Copy(upstream, client); closeWrite(upstream); done <- err }()
	go func() { _, err := io.Copy(client, upstream); closeWrite(client); done <- err }()

	select {
	case err := <-done:
		client.Close()
		upstream.Close()
		return err
	case <-ctx.Done():
		client.Close()
		upstream.Close()
		<-done
		return ctx.Err()
	}
}

// halfCloseWriter is implemented by [*net.TCPConn]: it lets the writer half
// of a connection signal EOF to the peer without tearing down the reader
// half, so any bytes already in flight on the opposing direction still have
// a chance to flush before the hard close that follows.
type halfCloseWriter interface {
	CloseWrite() error
}

// closeWrite half-closes the write side of conn when it supports it. Best
// effort: the hard close that follows covers any connection type that
// doesn't.
func closeWrite(conn net.Conn) {
	if hc, ok := conn.(halfCloseWriter); ok {
		_ = hc.CloseWrite()
	}
}
