//go:build !linux

package hostmem

import "github.com/cockroachdb/errors"

// ErrMmapUnsupported is returned by NewMmap on hosts without a memfd-backed mmap backend
var ErrMmapUnsupported = errors.New("the mmap host backend is only available on linux")

// NewMmap is unavailable on this host; use NewSimulated instead
func NewMmap(layout Layout, directSize uint64) (AddressSpace, error) {
	return nil, ErrMmapUnsupported
}
