//go:build !unix

package shm

// MapFile maps the backing file (unsupported on this platform).
func MapFile(opts MapOptions) (*MappedRegion, error) {
	// TODO: implement using CreateFileMapping, MapViewOfFile on windows
	return nil, ErrUnsupportedPlatform
}

// UnmapRegion releases a mapping (unsupported on this platform).
func UnmapRegion(region *MappedRegion) error {
	return nil
}
