package network

import (
	"fmt"
	"net"
	"time"
)

// MaxDatagramSize is the largest UDP payload the link reads
const MaxDatagramSize = 65507

// Drop reasons reported to the Recorder
const (
	DropLength = "length"
	DropDecode = "decode"
)

// Frame is a datagram received on the link together with its decoded
// payload
type Frame struct {
	Profile   string
	Packet    []byte
	Payload   []byte
	Valid     bool
	Source    *net.UDPAddr
	Timestamp time.Time
}

// String returns a string representation of the frame
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{Profile: %s, Source: %s, Packet: %d bytes, Payload: %d bytes, Valid: %t}",
		f.Profile, f.Source, len(f.Packet), len(f.Payload), f.Valid)
}
