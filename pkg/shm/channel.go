package shm

import (
	"fmt"
	"strconv"
)

// ChannelID selects one slot of the region. The numbering is fixed by the client runtime.
type ChannelID uint8

const (
	ProcessControlRequest ChannelID = iota
	ProcessControlReply
	GraphicsRequest
	GraphicsReply
	Heartbeat
	AppStatus
	TrickleUp
	TrickleDown

	// NumChannels is the number of slots in the region.
	NumChannels = 8
)

var channelNames = [NumChannels]string{
	"ProcessControlRequest",
	"ProcessControlReply",
	"GraphicsRequest",
	"GraphicsReply",
	"Heartbeat",
	"AppStatus",
	"TrickleUp",
	"TrickleDown",
}

// Valid reports whether id addresses a slot of the region.
func (id ChannelID) Valid() bool {
	return id < NumChannels
}

// Inbound reports whether the channel is written by the client and read by the supervisor.
func (id ChannelID) Inbound() bool {
	switch id {
	case ProcessControlReply, GraphicsReply, Heartbeat, AppStatus, TrickleUp:
		return true
	}
	return false
}

func (id ChannelID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("ChannelID(%d)", uint8(id))
	}
	return channelNames[id]
}

// ParseChannelID maps a role name as printed by String, or a decimal index, to its id.
func ParseChannelID(name string) (ChannelID, error) {
	for i, n := range channelNames {
		if n == name {
			return ChannelID(i), nil
		}
	}
	if n, err := strconv.Atoi(name); err == nil && n >= 0 && n < NumChannels {
		return ChannelID(n), nil
	}
	return 0, fmt.Errorf("unknown channel %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (id ChannelID) MarshalText() ([]byte, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("invalid channel id %d", uint8(id))
	}
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ChannelID) UnmarshalText(text []byte) error {
	v, err := ParseChannelID(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
