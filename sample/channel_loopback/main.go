// Command channel_loopback joins two endpoints back to back through
// in-memory channels and pushes fragmented payloads between them. It is a
// socket-free demonstration of sequencing, fragmentation, reassembly and ack
// feedback
package main

import (
	"flag"

	"github.com/sirupsen/logrus"

	"github.com/lumenet/reliable/link/channel"
	"github.com/lumenet/reliable/transport/reliable"
)

func main() {
	rounds := flag.Int("rounds", 10, "number of exchange rounds")
	payloadSize := flag.Int("payload", 4092, "payload bytes per send")
	flag.Parse()

	process := func(side string) func(index int, sequence uint16, payload []byte) bool {
		return func(index int, sequence uint16, payload []byte) bool {
			logrus.Infof("%s processed packet %v (%v bytes)", side, sequence, len(payload))
			return true
		}
	}

	chA := channel.New(64, process("a"))
	chB := channel.New(64, process("b"))

	configA := reliable.DefaultConfig()
	configA.Name, configA.Index = "a", 1
	configB := reliable.DefaultConfig()
	configB.Name, configB.Index = "b", 2

	a, err := reliable.NewEndpoint(configA, 0, chA)
	if err != nil {
		logrus.Fatalf("new endpoint a: %v", err)
	}
	b, err := reliable.NewEndpoint(configB, 0, chB)
	if err != nil {
		logrus.Fatalf("new endpoint b: %v", err)
	}

	payload := make([]byte, *payloadSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	now := 0.0
	for round := 0; round < *rounds; round++ {
		now += 0.1
		a.Update(now)
		b.Update(now)

		if _, err := a.Send(payload); err != nil {
			logrus.Fatalf("a send: %v", err)
		}
		if _, err := b.Send(payload); err != nil {
			logrus.Fatalf("b send: %v", err)
		}

		// a's fragments land on b and vice versa; each delivery also
		// carries the ack state of the previous round
		if err := chA.DeliverTo(b.Receive); err != nil {
			logrus.Fatalf("deliver to b: %v", err)
		}
		if err := chB.DeliverTo(a.Receive); err != nil {
			logrus.Fatalf("deliver to a: %v", err)
		}

		logrus.Infof("round %v: a acked %v, b acked %v", round, a.Acks(), b.Acks())
		a.ClearAcks()
		b.ClearAcks()
	}

	logrus.Infof("a: rtt=%.2fms loss=%.2f%%", a.RTT(), a.PacketLoss())
	logrus.Infof("b: rtt=%.2fms loss=%.2f%%", b.RTT(), b.PacketLoss())
}
