// Package shm contains platform-specific helpers for mapping the supervisor's shared region.
package shm

import "errors"

// ErrUnsupportedPlatform is returned by MapFile on platforms without a mapping implementation.
var ErrUnsupportedPlatform = errors.New("shared memory mapping not supported on this platform")

// MappedRegion represents a file-backed memory mapping.
type MappedRegion struct {
	Addr []byte
	Path string
	fd   int
}

// MapOptions defines options for mapping the backing file.
type MapOptions struct {
	Path string
	// Size is the minimum file length. Shorter files are grown, longer ones are left alone
	// and only the first Size bytes are mapped.
	Size int
	Mode uint32
}

// Function implementations are provided in platform-specific files (platform_unix.go, platform_other.go).
