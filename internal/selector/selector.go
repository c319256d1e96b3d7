// SPDX-License-Identifier: GPL-3.0-or-later

// Package selector implements the load-balancing algorithms that pick one
// [backend.Backend] out of a [backend.Snapshot] for a given connection.
package selector

import (
	"github.com/hippalus/umay/internal/backend"
)

// Selector picks one backend out of snap for a connection identified by
// key (used only by key-aware selectors such as [*ConsistentHash]; other
// selectors ignore it).
//
// Implementations must be safe for concurrent use: the balancer calls
// Select once per accepted connection, potentially from many goroutines
// at once.
type Selector interface {
	Select(snap backend.Snapshot, key string) (backend.Backend, bool)
}
