package types

// PacketHandler is the capability through which an endpoint reaches the rest
// of the system. An endpoint invokes TransmitPacket for every outbound
// datagram it builds, and ProcessPacket for every inbound packet that parsed
// successfully, including packets recovered by fragment reassembly.
//
// Both methods are invoked inline on the caller's goroutine, within Send and
// Receive respectively. They must not call back into the same endpoint
type PacketHandler interface {
	// TransmitPacket delivers an outbound datagram. A single Send may
	// produce several datagrams when the payload is fragmented
	TransmitPacket(index int, sequence uint16, datagram []byte)

	// ProcessPacket delivers an inbound payload. Returning false rejects
	// the packet: it is dropped silently, without being recorded in the
	// received buffer or generating an ack
	ProcessPacket(index int, sequence uint16, payload []byte) bool
}

// HandlerFuncs adapts a pair of functions to the PacketHandler interface.
// A nil Process admits every packet
type HandlerFuncs struct {
	Transmit func(index int, sequence uint16, datagram []byte)
	Process  func(index int, sequence uint16, payload []byte) bool
}

// TransmitPacket implements PacketHandler.TransmitPacket
func (h HandlerFuncs) TransmitPacket(index int, sequence uint16, datagram []byte) {
	if h.Transmit != nil {
		h.Transmit(index, sequence, datagram)
	}
}

// ProcessPacket implements PacketHandler.ProcessPacket
func (h HandlerFuncs) ProcessPacket(index int, sequence uint16, payload []byte) bool {
	if h.Process == nil {
		return true
	}
	return h.Process(index, sequence, payload)
}
