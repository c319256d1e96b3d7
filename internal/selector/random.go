// SPDX-License-Identifier: GPL-3.0-or-later

package selector

import (
	"math/rand/v2"

	"github.com/hippalus/umay/internal/backend"
)

// Random picks a uniformly random backend from the snapshot on every call.
//
// The zero value is ready to use.
type Random struct{}

var _ Selector = Random{}

// Select implements [Selector].
func (Random) Select(snap backend.Snapshot, key string) (backend.Backend, bool) {
	if snap.Empty() {
		return backend.Backend{}, false
	}
	return snap.At(rand.IntN(snap.Len())), true
}
