package shm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/valyala/bytebufferpool"

	internalshm "github.com/srediag/boinc-supervisor/internal/shm"
)

// RegionSize is the total size of the shared region.
const RegionSize = NumChannels * SlotSize

var (
	// ErrSetup wraps every failure to establish the region.
	ErrSetup = errors.New("shared region setup failed")
	// ErrNoSpace is returned when the filesystem cannot hold a new backing file.
	ErrNoSpace = errors.New("not enough space left for the backing file")
)

// OpenOptions defines options for opening the shared region.
type OpenOptions struct {
	// Path of the backing file. It is created if missing.
	Path string
}

// Region is the memory shared with the client process.
//
// Every byte of the region belongs as much to the peer as to this process: the peer may
// write any slot at any moment and nothing here can prevent it. Slots handed out by
// Channel are the only access path, and callers must treat whatever they read as
// possibly half-written.
//
// A Region is not safe for concurrent use within this process.
type Region struct {
	mapped *internalshm.MappedRegion
	mem    []byte
	slots  [NumChannels]Slot
}

// Open maps the backing file at opts.Path, creating it and growing it to RegionSize as needed.
func Open(ctx context.Context, opts OpenOptions) (*Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrSetup)
	}
	if !internalshm.CanCreate(opts.Path, RegionSize) {
		return nil, fmt.Errorf("%w: %w: path:%s size:%d", ErrSetup, ErrNoSpace, opts.Path, RegionSize)
	}
	mapped, err := internalshm.MapFile(internalshm.MapOptions{
		Path: opts.Path,
		Size: RegionSize,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSetup, err)
	}
	r, err := NewRegionFromBytes(mapped.Addr)
	if err != nil {
		_ = internalshm.UnmapRegion(mapped)
		return nil, fmt.Errorf("%w: %w", ErrSetup, err)
	}
	r.mapped = mapped
	return r, nil
}

// NewRegionFromBytes lays the channel slots over mem, which must be RegionSize bytes.
// The caller keeps ownership of mem.
func NewRegionFromBytes(mem []byte) (*Region, error) {
	if len(mem) != RegionSize {
		return nil, fmt.Errorf("region must be %d bytes, got %d", RegionSize, len(mem))
	}
	r := &Region{mem: mem}
	for i := range r.slots {
		off := i * SlotSize
		s, err := NewSlot(mem[off : off+SlotSize])
		if err != nil {
			return nil, err
		}
		r.slots[i] = s
	}
	return r, nil
}

// Channel returns the slot of channel id. id must be valid.
// Slots must not be used after Close: the memory behind them is gone and any access panics.
func (r *Region) Channel(id ChannelID) Slot {
	return r.slots[id]
}

// Path returns the backing file path, or "" for a region not backed by a file.
func (r *Region) Path() string {
	if r.mapped == nil {
		return ""
	}
	return r.mapped.Path
}

// Close releases the mapping. It is safe to call more than once.
func (r *Region) Close() error {
	if r.mapped == nil {
		return nil
	}
	err := internalshm.UnmapRegion(r.mapped)
	r.mapped = nil
	r.mem = nil
	r.slots = [NumChannels]Slot{}
	return err
}

// Dump writes the state of every channel to w without draining any of them.
func (r *Region) Dump(w io.Writer) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	for i, s := range r.slots {
		id := ChannelID(i)
		msg, full, err := s.Peek()
		switch {
		case !full:
			fmt.Fprintf(buf, "%d %s: empty\n", i, id)
		case err != nil:
			fmt.Fprintf(buf, "%d %s: flag:%d error: %v\n", i, id, s.buf[flagOffset], err)
		default:
			fmt.Fprintf(buf, "%d %s: flag:%d %q\n", i, id, s.buf[flagOffset], msg)
		}
	}
	_, err := buf.WriteTo(w)
	return err
}
