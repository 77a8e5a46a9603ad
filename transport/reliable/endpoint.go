// Package reliable implements one side of a reliability session over an
// unreliable, unordered datagram transport. An endpoint assigns 16-bit
// sequence numbers to outbound packets, feeds ack/ack_bits state back to its
// peer, fragments payloads larger than the configured threshold, and keeps
// exponentially smoothed estimates of round-trip time, packet loss and
// bandwidth.
//
// The endpoint does not retransmit: it reports which sent sequences the peer
// acknowledged, and re-sending lost payloads is the caller's responsibility
package reliable

import (
	"github.com/sirupsen/logrus"

	"github.com/lumenet/reliable/buffer"
	"github.com/lumenet/reliable/header"
	"github.com/lumenet/reliable/sequence"
	"github.com/lumenet/reliable/types"
)

// Counter indices into the array returned by Counters
const (
	CounterPacketsSent = iota
	CounterPacketsReceived
	CounterPacketsAcked
	CounterPacketsStale
	CounterPacketsInvalid
	CounterPacketsTooLargeToSend
	CounterPacketsTooLargeToReceive
	CounterFragmentsSent
	CounterFragmentsReceived
	CounterFragmentsInvalid
	NumCounters
)

// sentPacketData records an outbound packet until it is acked or displaced
// by a newer sequence
type sentPacketData struct {
	time  float64
	acked bool
	size  int
}

// receivedPacketData records an inbound packet for ack generation and
// bandwidth accounting
type receivedPacketData struct {
	time float64
	size int
}

// Endpoint is one side of a reliability session. It assumes exclusive access
// by one goroutine at a time: no operation blocks, and the packet handler is
// invoked inline within Send and Receive. Independent endpoints share no
// state and may run in parallel
type Endpoint struct {
	config  Config
	handler types.PacketHandler

	time     float64
	sequence uint16
	acks     []uint16

	sentPackets     *sequence.Buffer[sentPacketData]
	receivedPackets *sequence.Buffer[receivedPacketData]
	reassembly      *sequence.Buffer[reassemblyData]

	rtt               float32
	packetLoss        float32
	sentBandwidth     float32
	receivedBandwidth float32
	ackedBandwidth    float32

	counters [NumCounters]uint64
}

// NewEndpoint creates an endpoint with the given configuration and start
// time. The handler must not be nil and must not call back into the endpoint
func NewEndpoint(config Config, time float64, handler types.PacketHandler) (*Endpoint, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, types.ErrInvalidOptionValue
	}

	return &Endpoint{
		config:          config,
		handler:         handler,
		time:            time,
		acks:            make([]uint16, 0, config.AckBufferSize),
		sentPackets:     sequence.NewBuffer[sentPacketData](config.SentPacketsBufferSize),
		receivedPackets: sequence.NewBuffer[receivedPacketData](config.ReceivedPacketsBufferSize),
		reassembly:      sequence.NewBuffer[reassemblyData](config.FragmentReassemblyBufferSize),
	}, nil
}

// NextPacketSequence returns the sequence the next Send will use
func (e *Endpoint) NextPacketSequence() uint16 {
	return e.sequence
}

// Acks returns the sequences acked by the peer since the last ClearAcks, in
// the order they were discovered. The slice is owned by the endpoint and is
// invalidated by ClearAcks and Reset
func (e *Endpoint) Acks() []uint16 {
	return e.acks
}

// ClearAcks empties the ack list without touching any other state
func (e *Endpoint) ClearAcks() {
	e.acks = e.acks[:0]
}

// Counters returns a snapshot of the endpoint's event counters
func (e *Endpoint) Counters() [NumCounters]uint64 {
	return e.counters
}

// Send assigns the next sequence to the payload, records it in the sent
// buffer, and hands one or more datagrams to the handler: a single packet
// when the payload fits below the fragmentation threshold, a run of
// fragments otherwise. It returns the number of payload bytes accepted
func (e *Endpoint) Send(payload []byte) (int, error) {
	if len(payload) > e.config.MaxPacketSize {
		e.counters[CounterPacketsTooLargeToSend]++
		return 0, types.ErrExceededMaxPacketSize
	}

	numFragments := 1
	if len(payload) > e.config.FragmentAbove {
		numFragments = (len(payload) + e.config.FragmentSize - 1) / e.config.FragmentSize
		if numFragments > e.config.MaxFragments {
			return 0, types.ErrFragmentCountExceeded
		}
	}

	seq := e.sequence
	e.sequence++

	ack, ackBits := e.receivedPackets.AckBits()
	h := header.Packet{Sequence: seq, Ack: ack, AckBits: ackBits}

	// Insert cannot fail here: seq is always the newest sequence
	e.sentPackets.Insert(sentPacketData{
		time: e.time,
		size: len(payload) + e.config.PacketHeaderSize,
	}, seq)

	if len(payload) <= e.config.FragmentAbove {
		datagram := make(buffer.View, 0, h.Size()+len(payload))
		datagram = h.AppendTo(datagram)
		datagram = append(datagram, payload...)
		e.handler.TransmitPacket(e.config.Index, seq, datagram)
	} else {
		e.sendFragments(h, payload, numFragments)
	}

	e.counters[CounterPacketsSent]++
	return len(payload), nil
}

// sendFragments slices the payload into numFragments datagrams. Only
// fragment 0 carries the packet header, so the ack state of a fragmented
// packet reaches the peer exactly once
func (e *Endpoint) sendFragments(h header.Packet, payload []byte, numFragments int) {
	for id := 0; id < numFragments; id++ {
		fh := header.Fragment{Sequence: h.Sequence, ID: uint8(id), Count: numFragments}

		start := id * e.config.FragmentSize
		end := start + e.config.FragmentSize
		if end > len(payload) {
			end = len(payload)
		}

		datagram := make(buffer.View, 0, fh.Size()+h.Size()+(end-start))
		datagram = fh.AppendTo(datagram)
		if id == 0 {
			datagram = h.AppendTo(datagram)
		}
		datagram = append(datagram, payload[start:end]...)

		e.handler.TransmitPacket(e.config.Index, h.Sequence, datagram)
		e.counters[CounterFragmentsSent]++
	}
}

// Receive accepts one inbound datagram, dispatching on the prefix byte to
// the single-packet or fragment path
func (e *Endpoint) Receive(datagram []byte) error {
	if len(datagram) == 0 {
		e.counters[CounterPacketsInvalid]++
		return types.ErrInvalidHeader
	}
	if len(datagram) > e.config.MaxPacketSize {
		e.counters[CounterPacketsTooLargeToReceive]++
		return types.ErrExceededMaxPacketSize
	}

	e.counters[CounterPacketsReceived]++

	if header.IsFragment(datagram) {
		return e.receiveFragment(datagram)
	}
	return e.receivePacket(datagram)
}

// receivePacket handles a regular packet: datagrams straight off the wire
// and packets rebuilt by fragment reassembly both land here
func (e *Endpoint) receivePacket(datagram []byte) error {
	h, n, err := header.ParsePacket(datagram)
	if err != nil {
		e.counters[CounterPacketsInvalid]++
		return err
	}

	if !e.receivedPackets.CheckSequence(h.Sequence) {
		e.counters[CounterPacketsStale]++
		logrus.Debugf("reliable: endpoint %v dropped stale packet %v", e.config.Index, h.Sequence)
		return types.ErrStalePacket
	}

	payload := buffer.View(datagram)
	payload.TrimFront(n)
	if !e.handler.ProcessPacket(e.config.Index, h.Sequence, payload) {
		return nil
	}

	e.receivedPackets.Insert(receivedPacketData{
		time: e.time,
		size: len(datagram) + e.config.PacketHeaderSize,
	}, h.Sequence)

	e.processAcks(h.Ack, h.AckBits)
	return nil
}

// processAcks walks the inbound ack window and marks the matching sent
// sequences acked. Each newly acked packet contributes an RTT sample
func (e *Endpoint) processAcks(ack uint16, ackBits uint32) {
	for i := uint16(0); i < sequence.AckBitsetSize; i, ackBits = i+1, ackBits>>1 {
		if ackBits&1 == 0 {
			continue
		}

		ackedSequence := ack - i
		sent := e.sentPackets.Get(ackedSequence)
		if sent == nil || sent.acked || len(e.acks) >= e.config.AckBufferSize {
			continue
		}

		e.acks = append(e.acks, ackedSequence)
		sent.acked = true
		e.counters[CounterPacketsAcked]++

		e.updateRTT(float32((e.time - sent.time) * 1000.0))
	}
}

func (e *Endpoint) updateRTT(sample float32) {
	if (e.rtt == 0 && sample > 0) || abs32(e.rtt-sample) < 0.00001 {
		e.rtt = sample
	} else {
		e.rtt += (sample - e.rtt) * e.config.RTTSmoothingFactor
	}
}

// receiveFragment deposits one fragment into its reassembly entry, creating
// the entry when fragment 0 arrives. When the last outstanding fragment
// lands, the packet is rebuilt and fed back through the single-packet path
func (e *Endpoint) receiveFragment(datagram []byte) error {
	fh, ph, n, err := header.ParseFragment(datagram)
	if err != nil {
		e.counters[CounterFragmentsInvalid]++
		return err
	}

	entry := e.reassembly.Get(fh.Sequence)
	if entry == nil {
		// Only fragment 0 carries the embedded packet header, so it
		// must be the one that opens the entry
		if fh.ID != 0 {
			e.counters[CounterFragmentsInvalid]++
			return types.ErrInvalidFragment
		}
		if !e.reassembly.CheckSequence(fh.Sequence) {
			e.counters[CounterPacketsStale]++
			return types.ErrStalePacket
		}

		e.reassembly.Insert(reassemblyData{
			sequence:   fh.Sequence,
			ack:        ph.Ack,
			ackBits:    ph.AckBits,
			numTotal:   fh.Count,
			headerSize: n - fh.Size(),
			buf:        buffer.NewView(fh.Count * e.config.FragmentSize),
		}, fh.Sequence)
		entry = e.reassembly.Get(fh.Sequence)
	} else if entry.numTotal != fh.Count {
		e.counters[CounterFragmentsInvalid]++
		return types.ErrInvalidFragment
	}

	if entry.fragmentReceived(fh.ID) {
		e.counters[CounterFragmentsInvalid]++
		return types.ErrDuplicateFragment
	}

	payload := buffer.View(datagram)
	payload.TrimFront(n)

	// Every fragment except the last must carry exactly FragmentSize bytes
	last := int(fh.ID) == entry.numTotal-1
	if len(payload) == 0 || len(payload) > e.config.FragmentSize || (!last && len(payload) != e.config.FragmentSize) {
		e.counters[CounterFragmentsInvalid]++
		return types.ErrInvalidFragment
	}

	entry.markFragmentReceived(fh.ID)
	entry.numReceived++
	copy(entry.buf[int(fh.ID)*e.config.FragmentSize:], payload)
	if last {
		entry.packetBytes = (entry.numTotal-1)*e.config.FragmentSize + len(payload)
	}
	e.counters[CounterFragmentsReceived]++

	if entry.numReceived < entry.numTotal {
		return nil
	}

	logrus.Debugf("reliable: endpoint %v reassembled packet %v (%v bytes, header %v)",
		e.config.Index, entry.sequence, entry.packetBytes, entry.headerSize)

	h := header.Packet{Sequence: entry.sequence, Ack: entry.ack, AckBits: entry.ackBits}
	packet := make(buffer.View, 0, h.Size()+entry.packetBytes)
	packet = h.AppendTo(packet)
	packet = append(packet, entry.buf[:entry.packetBytes]...)

	e.reassembly.Remove(entry.sequence)

	return e.receivePacket(packet)
}

// Reset returns the endpoint to its initial state: buffers emptied, the next
// sequence rewound to 0, estimators and counters zeroed. The configuration
// and handler are kept
func (e *Endpoint) Reset() {
	e.sequence = 0
	e.acks = e.acks[:0]

	e.sentPackets.Reset()
	e.receivedPackets.Reset()
	e.reassembly.Reset()

	e.rtt = 0
	e.packetLoss = 0
	e.sentBandwidth = 0
	e.receivedBandwidth = 0
	e.ackedBandwidth = 0
	e.counters = [NumCounters]uint64{}
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
