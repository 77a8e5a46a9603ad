package reliable_test

import (
	"bytes"
	"math"
	"testing"

	"github.com/lumenet/reliable/checker"
	"github.com/lumenet/reliable/header"
	"github.com/lumenet/reliable/link/channel"
	"github.com/lumenet/reliable/transport/reliable"
	"github.com/lumenet/reliable/types"
)

func newEndpoint(t *testing.T, config reliable.Config, time float64, handler types.PacketHandler) *reliable.Endpoint {
	t.Helper()
	e, err := reliable.NewEndpoint(config, time, handler)
	if err != nil {
		t.Fatalf("NewEndpoint failed: %v", err)
	}
	return e
}

// testPayload builds a payload with a recognizable byte pattern
func testPayload(size int) []byte {
	p := make([]byte, size)
	for i := range p {
		p[i] = byte(i)
	}
	return p
}

func TestSendSequences(t *testing.T) {
	ch := channel.New(16, nil)
	e := newEndpoint(t, reliable.DefaultConfig(), 0, ch)

	for want := uint16(0); want < 8; want++ {
		if got := e.NextPacketSequence(); got != want {
			t.Fatalf("Bad next sequence, got %v, want %v", got, want)
		}
		n, err := e.Send(testPayload(32))
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		if n != 32 {
			t.Fatalf("Bad accepted count, got %v, want 32", n)
		}

		p := <-ch.C
		if p.Sequence != want {
			t.Fatalf("Bad transmitted sequence, got %v, want %v", p.Sequence, want)
		}
		payload := checker.Packet(t, p.Datagram,
			checker.Sequence(want),
			checker.Ack(0xFFFF),
			checker.AckBits(0),
		)
		if !bytes.Equal(payload, testPayload(32)) {
			t.Fatalf("Transmitted payload does not match")
		}
	}
}

func TestAckEndToEnd(t *testing.T) {
	chA := channel.New(16, nil)
	chB := channel.New(16, nil)

	configA := reliable.DefaultConfig()
	configA.Index = 1
	configB := reliable.DefaultConfig()
	configB.Index = 2

	a := newEndpoint(t, configA, 0, chA)
	b := newEndpoint(t, configB, 0, chB)

	if _, err := a.Send(testPayload(100)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := chA.DeliverTo(b.Receive); err != nil {
		t.Fatalf("Deliver to b failed: %v", err)
	}

	// b's next packet must carry the receipt of a's sequence 0
	if _, err := b.Send(testPayload(100)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	p := <-chB.C
	checker.Packet(t, p.Datagram,
		checker.Sequence(0),
		checker.Ack(0),
		checker.AckBits(1),
	)
	if err := a.Receive(p.Datagram); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	acks := a.Acks()
	if len(acks) != 1 || acks[0] != 0 {
		t.Fatalf("Bad acks, got %v, want [0]", acks)
	}
	if got := b.Acks(); len(got) != 0 {
		t.Fatalf("Bad acks on b, got %v, want none", got)
	}

	// The same ack delivered twice must not be reported twice
	if err := a.Receive(p.Datagram); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if acks := a.Acks(); len(acks) != 1 {
		t.Fatalf("Duplicate ack was reported, got %v", acks)
	}

	a.ClearAcks()
	if acks := a.Acks(); len(acks) != 0 {
		t.Fatalf("Bad acks after ClearAcks, got %v", acks)
	}
}

func TestFragmentationEndToEnd(t *testing.T) {
	tests := []struct {
		name          string
		size          int
		wantFragments int
		wantLastSize  int
	}{
		{"two full fragments", 2048, 2, 1024},
		{"remainder fragment", 4092, 4, 1020},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chA := channel.New(16, nil)

			var received [][]byte
			chB := channel.New(16, func(index int, sequence uint16, payload []byte) bool {
				p := make([]byte, len(payload))
				copy(p, payload)
				received = append(received, p)
				return true
			})

			a := newEndpoint(t, reliable.DefaultConfig(), 0, chA)
			b := newEndpoint(t, reliable.DefaultConfig(), 0, chB)

			payload := testPayload(tt.size)
			if _, err := a.Send(payload); err != nil {
				t.Fatalf("Send failed: %v", err)
			}

			var datagrams []channel.PacketInfo
			for len(chA.C) > 0 {
				datagrams = append(datagrams, <-chA.C)
			}
			if len(datagrams) != tt.wantFragments {
				t.Fatalf("Bad fragment count, got %v, want %v", len(datagrams), tt.wantFragments)
			}

			for i, d := range datagrams {
				fragmentPayload := checker.Fragment(t, d.Datagram,
					checker.FragmentSequence(0),
					checker.FragmentID(uint8(i)),
					checker.FragmentCount(tt.wantFragments),
				)
				want := 1024
				if i == tt.wantFragments-1 {
					want = tt.wantLastSize
				}
				if len(fragmentPayload) != want {
					t.Fatalf("Bad fragment %v payload size, got %v, want %v", i, len(fragmentPayload), want)
				}
				if err := b.Receive(d.Datagram); err != nil {
					t.Fatalf("Receive of fragment %v failed: %v", i, err)
				}
			}

			if len(received) != 1 {
				t.Fatalf("Bad processed packet count, got %v, want 1", len(received))
			}
			if !bytes.Equal(received[0], payload) {
				t.Fatalf("Reassembled payload does not match the original")
			}

			counters := a.Counters()
			if counters[reliable.CounterPacketsSent] != 1 {
				t.Fatalf("Bad packets sent counter, got %v, want 1", counters[reliable.CounterPacketsSent])
			}
			if counters[reliable.CounterFragmentsSent] != uint64(tt.wantFragments) {
				t.Fatalf("Bad fragments sent counter, got %v, want %v", counters[reliable.CounterFragmentsSent], tt.wantFragments)
			}
			counters = b.Counters()
			if counters[reliable.CounterFragmentsReceived] != uint64(tt.wantFragments) {
				t.Fatalf("Bad fragments received counter, got %v, want %v", counters[reliable.CounterFragmentsReceived], tt.wantFragments)
			}
		})
	}
}

func TestFragmentErrors(t *testing.T) {
	ch := channel.New(16, nil)
	e := newEndpoint(t, reliable.DefaultConfig(), 0, ch)

	packet := header.Packet{Sequence: 0, Ack: 0xFFFF, AckBits: 0}

	fragment := func(id uint8, count int) []byte {
		d := header.Fragment{Sequence: 0, ID: id, Count: count}.AppendTo(nil)
		if id == 0 {
			d = packet.AppendTo(d)
		}
		return append(d, testPayload(1024)...)
	}

	// A fragment other than 0 cannot open a reassembly entry
	if err := e.Receive(fragment(1, 2)); err != types.ErrInvalidFragment {
		t.Fatalf("Out-of-order first fragment, got %v, want %v", err, types.ErrInvalidFragment)
	}

	if err := e.Receive(fragment(0, 2)); err != nil {
		t.Fatalf("Receive of fragment 0 failed: %v", err)
	}

	// Same fragment again
	if err := e.Receive(fragment(0, 2)); err != types.ErrDuplicateFragment {
		t.Fatalf("Duplicate fragment, got %v, want %v", err, types.ErrDuplicateFragment)
	}

	// A fragment disagreeing with the entry's count
	if err := e.Receive(fragment(1, 3)); err != types.ErrInvalidFragment {
		t.Fatalf("Count mismatch, got %v, want %v", err, types.ErrInvalidFragment)
	}

	// A short fragment that is not the last of its packet
	short := header.Fragment{Sequence: 5, ID: 0, Count: 3}.AppendTo(nil)
	short = header.Packet{Sequence: 5, Ack: 0xFFFF, AckBits: 0}.AppendTo(short)
	short = append(short, testPayload(100)...)
	if err := e.Receive(short); err != types.ErrInvalidFragment {
		t.Fatalf("Short non-final fragment, got %v, want %v", err, types.ErrInvalidFragment)
	}
}

func TestStaleRejection(t *testing.T) {
	ch := channel.New(16, nil)
	e := newEndpoint(t, reliable.DefaultConfig(), 0, ch)

	packet := func(sequence uint16) []byte {
		d := header.Packet{Sequence: sequence, Ack: 0xFFFF, AckBits: 0}.AppendTo(nil)
		return append(d, testPayload(16)...)
	}

	if err := e.Receive(packet(0)); err != nil {
		t.Fatalf("Receive(0) failed: %v", err)
	}
	if err := e.Receive(packet(300)); err != nil {
		t.Fatalf("Receive(300) failed: %v", err)
	}
	if err := e.Receive(packet(0)); err != types.ErrStalePacket {
		t.Fatalf("Receive of stale sequence, got %v, want %v", err, types.ErrStalePacket)
	}

	if got := e.Counters()[reliable.CounterPacketsStale]; got != 1 {
		t.Fatalf("Bad stale counter, got %v, want 1", got)
	}
}

func TestRTTSmoothing(t *testing.T) {
	ch := channel.New(16, nil)
	e := newEndpoint(t, reliable.DefaultConfig(), 0, ch)

	if _, err := e.Send(testPayload(32)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if _, err := e.Send(testPayload(32)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	ack := func(peerSequence, ack uint16) []byte {
		d := header.Packet{Sequence: peerSequence, Ack: ack, AckBits: 1}.AppendTo(nil)
		return append(d, 0)
	}

	// First ack arrives 100ms after the send and becomes the RTT directly
	e.Update(0.1)
	if err := e.Receive(ack(0, 0)); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if rtt := e.RTT(); math.Abs(float64(rtt)-100.0) > 1e-3 {
		t.Fatalf("Bad rtt after first ack, got %v, want 100", rtt)
	}

	// Second sample of 200ms is folded in with the smoothing factor
	e.Update(0.2)
	if err := e.Receive(ack(1, 1)); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	want := 100.0 + 0.0025*(200.0-100.0)
	if rtt := e.RTT(); math.Abs(float64(rtt)-want) > 1e-3 {
		t.Fatalf("Bad rtt after second ack, got %v, want %v", rtt, want)
	}
}

func TestProcessRejection(t *testing.T) {
	admit := false
	ch := channel.New(16, func(index int, sequence uint16, payload []byte) bool {
		return admit
	})
	e := newEndpoint(t, reliable.DefaultConfig(), 0, ch)

	d := header.Packet{Sequence: 0, Ack: 0xFFFF, AckBits: 0}.AppendTo(nil)
	d = append(d, testPayload(16)...)

	// Rejected packets leave no trace: the next outbound header still
	// reports an empty receive state
	if err := e.Receive(d); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if _, err := e.Send(testPayload(16)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	p := <-ch.C
	checker.Packet(t, p.Datagram, checker.Ack(0xFFFF), checker.AckBits(0))

	admit = true
	if err := e.Receive(d); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if _, err := e.Send(testPayload(16)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	p = <-ch.C
	checker.Packet(t, p.Datagram, checker.Ack(0), checker.AckBits(1))
}

func TestSizeLimits(t *testing.T) {
	ch := channel.New(16, nil)

	config := reliable.DefaultConfig()
	e := newEndpoint(t, config, 0, ch)

	if err := e.Receive(nil); err != types.ErrInvalidHeader {
		t.Fatalf("Receive of empty datagram, got %v, want %v", err, types.ErrInvalidHeader)
	}
	if _, err := e.Send(testPayload(config.MaxPacketSize + 1)); err != types.ErrExceededMaxPacketSize {
		t.Fatalf("Oversized send, got %v, want %v", err, types.ErrExceededMaxPacketSize)
	}
	if err := e.Receive(testPayload(config.MaxPacketSize + 1)); err != types.ErrExceededMaxPacketSize {
		t.Fatalf("Oversized receive, got %v, want %v", err, types.ErrExceededMaxPacketSize)
	}

	counters := e.Counters()
	if counters[reliable.CounterPacketsTooLargeToSend] != 1 {
		t.Fatalf("Bad too-large-to-send counter, got %v, want 1", counters[reliable.CounterPacketsTooLargeToSend])
	}
	if counters[reliable.CounterPacketsTooLargeToReceive] != 1 {
		t.Fatalf("Bad too-large-to-receive counter, got %v, want 1", counters[reliable.CounterPacketsTooLargeToReceive])
	}

	// A payload needing more fragments than allowed is rejected before any
	// state changes
	config.MaxFragments = 4
	e = newEndpoint(t, config, 0, ch)
	if _, err := e.Send(testPayload(8 * 1024)); err != types.ErrFragmentCountExceeded {
		t.Fatalf("Fragment overflow, got %v, want %v", err, types.ErrFragmentCountExceeded)
	}
	if got := e.NextPacketSequence(); got != 0 {
		t.Fatalf("Sequence advanced on failed send, got %v, want 0", got)
	}
}

func TestEstimators(t *testing.T) {
	ch := channel.New(1024, nil)
	e := newEndpoint(t, reliable.DefaultConfig(), 0, ch)

	// Fill the sent buffer well past its capacity with unacked packets so
	// the sampled window is fully populated
	for i := 0; i < 300; i++ {
		e.Update(float64(i) * 0.01)
		if _, err := e.Send(testPayload(100)); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		for len(ch.C) > 0 {
			<-ch.C
		}
	}

	e.Update(10.0)
	if loss := e.PacketLoss(); loss <= 0 || loss > 100 {
		t.Fatalf("Bad packet loss, got %v, want within (0, 100]", loss)
	}
	sent, received, acked := e.Bandwidth()
	if sent <= 0 {
		t.Fatalf("Bad sent bandwidth, got %v, want > 0", sent)
	}
	if received != 0 || acked != 0 {
		t.Fatalf("Bad received/acked bandwidth, got %v/%v, want 0/0", received, acked)
	}
}

func TestReset(t *testing.T) {
	chA := channel.New(16, nil)
	chB := channel.New(16, nil)

	a := newEndpoint(t, reliable.DefaultConfig(), 0, chA)
	b := newEndpoint(t, reliable.DefaultConfig(), 0, chB)

	for i := 0; i < 4; i++ {
		if _, err := a.Send(testPayload(64)); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	if err := chA.DeliverTo(b.Receive); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if _, err := b.Send(testPayload(64)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := chB.DeliverTo(a.Receive); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	a.Reset()

	if got := a.NextPacketSequence(); got != 0 {
		t.Fatalf("Bad sequence after reset, got %v, want 0", got)
	}
	if acks := a.Acks(); len(acks) != 0 {
		t.Fatalf("Bad acks after reset, got %v", acks)
	}
	if rtt := a.RTT(); rtt != 0 {
		t.Fatalf("Bad rtt after reset, got %v, want 0", rtt)
	}
	if counters := a.Counters(); counters != ([reliable.NumCounters]uint64{}) {
		t.Fatalf("Bad counters after reset, got %v", counters)
	}

	// The endpoint is usable again from sequence 0
	if _, err := a.Send(testPayload(64)); err != nil {
		t.Fatalf("Send after reset failed: %v", err)
	}
	p := <-chA.C
	checker.Packet(t, p.Datagram, checker.Sequence(0), checker.Ack(0xFFFF), checker.AckBits(0))
}
