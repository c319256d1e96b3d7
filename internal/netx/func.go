// SPDX-License-Identifier: GPL-3.0-or-later

package netx

import "context"

// Func is a generic operation that accepts an input and returns a result.
// [ConnectFunc], [ObserveConnFunc], and [CancelWatchFunc] all implement it;
// the stream proxy calls each directly rather than through the interface,
// but sharing one shape keeps their construction, field layout, and
// structured-logging conventions uniform.
//
// Resource cleanup contract: when a Func receives a closeable resource as input
// and returns an error, it is responsible for closing that resource before returning.
// This ensures that composed pipelines do not leak resources on partial failure.
// The tlsterm package's Terminator.Call, which closes its input conn on
// error, is an example of this pattern.
type Func[A, B any] interface {
	Call(ctx context.Context, input A) (B, error)
}
