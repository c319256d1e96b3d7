// SPDX-License-Identifier: GPL-3.0-or-later

package streamproxy

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// copyBidirectional forwards bytes written on either leg to the other.
func TestCopyBidirectionalForwardsBothDirections(t *testing.T) {
	clientSide, clientProxySide := net.Pipe()
	upstreamProxySide, upstreamSide := net.Pipe()

	done := make(chan error, 1)
	go func() {
		done <- copyBidirectional(context.Background(), clientProxySide, upstreamProxySide)
	}()

	go func() {
		_, _ = clientSide.Write([]byte("hello upstream"))
	}()
	buf := make([]byte, 32)
	n, err := upstreamSide.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello upstream", string(buf[:n]))

	go func() {
		_, _ = upstreamSide.Write([]byte("hello client"))
	}()
	n, err = clientSide.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello client", string(buf[:n]))

	clientSide.Close()
	upstreamSide.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("copyBidirectional did not return after both legs closed")
	}
}

// Closing one leg unblocks the other leg's pending read with an error,
// since copyBidirectional tears down both connections on first completion.
func TestCopyBidirectionalFirstFinishTearsDownBoth(t *testing.T) {
	clientSide, clientProxySide := net.Pipe()
	upstreamProxySide, upstreamSide := net.Pipe()
	defer clientSide.Close()
	defer upstreamSide.Close()

	done := make(chan error, 1)
	go func() {
		done <- copyBidirectional(context.Background(), clientProxySide, upstreamProxySide)
	}()

	clientSide.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("copyBidirectional did not return after one leg closed")
	}

	_, err := upstreamSide.Write([]byte("x"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

// A cancelled context tears down both legs even with no traffic in flight.
func TestCopyBidirectionalContextCancellation(t *testing.T) {
	clientSide, clientProxySide := net.Pipe()
	upstreamProxySide, upstreamSide := net.Pipe()
	defer clientSide.Close()
	defer upstreamSide.Close()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- copyBidirectional(ctx, clientProxySide, upstreamProxySide)
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("copyBidirectional did not return after context cancellation")
	}
}
