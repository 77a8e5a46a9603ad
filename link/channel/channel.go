// Package channel provides an in-memory link that stores outbound datagrams
// in a channel. It implements types.PacketHandler, so two endpoints can be
// joined back to back in tests and samples without touching a socket
package channel

import (
	"github.com/lumenet/reliable/buffer"
)

// PacketInfo holds all the information about an outbound datagram
type PacketInfo struct {
	Index    int
	Sequence uint16
	Datagram buffer.View
}

// Endpoint is a link endpoint that queues outbound datagrams in a channel
// and hands inbound payloads to a user-supplied process function
type Endpoint struct {
	process func(index int, sequence uint16, payload []byte) bool

	// C carries the datagrams queued by TransmitPacket
	C chan PacketInfo
}

// New creates a new channel endpoint with the given queue size. A nil
// process function admits every inbound payload
func New(size int, process func(index int, sequence uint16, payload []byte) bool) *Endpoint {
	return &Endpoint{
		process: process,
		C:       make(chan PacketInfo, size),
	}
}

// TransmitPacket implements types.PacketHandler.TransmitPacket. The datagram
// is copied, since the caller may reuse its buffer
func (e *Endpoint) TransmitPacket(index int, sequence uint16, datagram []byte) {
	d := make(buffer.View, len(datagram))
	copy(d, datagram)

	e.C <- PacketInfo{
		Index:    index,
		Sequence: sequence,
		Datagram: d,
	}
}

// ProcessPacket implements types.PacketHandler.ProcessPacket
func (e *Endpoint) ProcessPacket(index int, sequence uint16, payload []byte) bool {
	if e.process == nil {
		return true
	}
	return e.process(index, sequence, payload)
}

// DeliverTo drains the queued datagrams into the given receive function,
// stopping at the first error. It returns once the queue is empty
func (e *Endpoint) DeliverTo(receive func(datagram []byte) error) error {
	for {
		select {
		case p := <-e.C:
			if err := receive(p.Datagram); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}
