package reliable

import (
	"math"
)

// Update advances the endpoint clock and refreshes the packet loss and
// bandwidth estimators. RTT is maintained inside Receive as acks arrive.
//
// The estimators work over the older half of the sent (and received) buffer
// windows, so every sampled packet has had time to be acked before it is
// judged
func (e *Endpoint) Update(now float64) {
	e.time = now
	e.updatePacketLoss()
	e.updateBandwidth()
}

// RTT returns the smoothed round-trip time in milliseconds
func (e *Endpoint) RTT() float32 {
	return e.rtt
}

// PacketLoss returns the smoothed packet loss as a percentage
func (e *Endpoint) PacketLoss() float32 {
	return e.packetLoss
}

// Bandwidth returns the smoothed sent, received and acked bandwidth in kbps
func (e *Endpoint) Bandwidth() (sent, received, acked float32) {
	return e.sentBandwidth, e.receivedBandwidth, e.ackedBandwidth
}

// smooth folds a new sample into a smoothed value. Samples within epsilon of
// the current value are adopted directly so the estimate settles instead of
// oscillating
func smooth(value *float32, sample float32, factor float32) {
	if abs32(*value-sample) > 0.00001 {
		*value += (sample - *value) * factor
	} else {
		*value = sample
	}
}

func (e *Endpoint) updatePacketLoss() {
	base := e.sentPackets.Sequence() - uint16(e.config.SentPacketsBufferSize) + 1
	numSamples := e.config.SentPacketsBufferSize / 2

	// A packet in the sample window counts as dropped once it has gone
	// unacked for longer than two round trips
	staleness := 2 * float64(e.rtt) / 1000.0

	numDropped := 0
	for i := 0; i < numSamples; i++ {
		sent := e.sentPackets.Get(base + uint16(i))
		if sent != nil && !sent.acked && e.time-sent.time > staleness {
			numDropped++
		}
	}

	loss := float32(numDropped) / float32(numSamples) * 100.0
	smooth(&e.packetLoss, loss, e.config.PacketLossSmoothingFactor)
}

func (e *Endpoint) updateBandwidth() {
	sentBase := e.sentPackets.Sequence() - uint16(e.config.SentPacketsBufferSize) + 1
	sentSamples := e.config.SentPacketsBufferSize / 2

	bytesSent := 0
	bytesAcked := 0
	sentStart, sentFinish := math.MaxFloat64, 0.0
	ackedStart, ackedFinish := math.MaxFloat64, 0.0
	for i := 0; i < sentSamples; i++ {
		sent := e.sentPackets.Get(sentBase + uint16(i))
		if sent == nil {
			continue
		}
		bytesSent += sent.size
		sentStart = math.Min(sentStart, sent.time)
		sentFinish = math.Max(sentFinish, sent.time)
		if sent.acked {
			bytesAcked += sent.size
			ackedStart = math.Min(ackedStart, sent.time)
			ackedFinish = math.Max(ackedFinish, sent.time)
		}
	}
	if sentFinish > sentStart {
		sample := float32(float64(bytesSent) / (sentFinish - sentStart) * 8.0 / 1000.0)
		smooth(&e.sentBandwidth, sample, e.config.BandwidthSmoothingFactor)
	}
	if ackedFinish > ackedStart {
		sample := float32(float64(bytesAcked) / (ackedFinish - ackedStart) * 8.0 / 1000.0)
		smooth(&e.ackedBandwidth, sample, e.config.BandwidthSmoothingFactor)
	}

	receivedBase := e.receivedPackets.Sequence() - uint16(e.config.ReceivedPacketsBufferSize) + 1
	receivedSamples := e.config.ReceivedPacketsBufferSize / 2

	bytesReceived := 0
	receivedStart, receivedFinish := math.MaxFloat64, 0.0
	for i := 0; i < receivedSamples; i++ {
		received := e.receivedPackets.Get(receivedBase + uint16(i))
		if received == nil {
			continue
		}
		bytesReceived += received.size
		receivedStart = math.Min(receivedStart, received.time)
		receivedFinish = math.Max(receivedFinish, received.time)
	}
	if receivedFinish > receivedStart {
		sample := float32(float64(bytesReceived) / (receivedFinish - receivedStart) * 8.0 / 1000.0)
		smooth(&e.receivedBandwidth, sample, e.config.BandwidthSmoothingFactor)
	}
}
