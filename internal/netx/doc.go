// SPDX-License-Identifier: GPL-3.0-or-later

// Package netx provides composable primitives for the proxy's connection
// pipeline: dialing upstream backends, observing connection I/O for
// structured logging, and tying connection lifetime to a context.
//
// # Core Abstraction
//
// The package is built around a single interface:
//
//	type Func[A, B any] interface {
//		Call(ctx context.Context, input A) (B, error)
//	}
//
// Each Func represents an atomic network operation with exactly one success
// mode and one failure mode. The stream proxy calls [ConnectFunc],
// [ObserveConnFunc], and [CancelWatchFunc] directly from its per-connection
// handler rather than composing them into a pipeline: TLS termination is a
// separate concern handled by the sibling tlsterm package, built in the
// same style.
//
// # Available Primitives
//
//   - [ConnectFunc]: dials the selected backend over TCP
//   - [ObserveConnFunc]: observes connections for logging I/O operations
//   - [CancelWatchFunc]: closes a connection (or, via [WatchListenerClose],
//     a listener) on context cancellation
//
// # Connection Lifecycle
//
// Dial operations ([ConnectFunc]) create connections and transfer ownership
// to the next stage on success. On error, they close the connection.
//
// # Observability
//
// All primitives support structured logging via [SLogger] (compatible with
// [log/slog]). By default logging is disabled: set the Logger field to a
// custom [*slog.Logger] to enable it. Error classification is configurable
// via [ErrClassifier]; [DefaultErrClassifier] wires in
// github.com/bassosimone/errclass's OS-errno classifier.
//
// Primitives emit two kinds of structured log events:
//
//   - Span events (*Start/*Done pairs): operation lifecycle, timing, and
//     success/failure.
//   - Wire observations (read, write, set deadline): per-I/O events at
//     [slog.LevelDebug].
//
// Use [NewSpanID] to generate a unique, time-ordered identifier (UUIDv7) for
// each proxied connection, then store it in the context with [WithSpanID]:
// [ConnectFunc] and [ObserveConnFunc] read it back with [SpanIDFromContext],
// so the dial, read, write, and close events of that connection carry the
// same spanID field.
//
// # Timeout and Context Philosophy
//
// This package is context-transparent: operations never modify the context
// they receive. The caller controls timeouts externally via
// [context.WithTimeout] or [context.WithDeadline]. The stream proxy applies
// per-phase deadlines (handshake, dial) this way.
//
// [CancelWatchFunc] binds the context lifecycle to the connection: when the
// context is done, the connection is closed immediately, causing any
// in-progress I/O to fail. The supervisor uses [WatchListenerClose] so
// accept loops stop promptly on shutdown.
package netx
