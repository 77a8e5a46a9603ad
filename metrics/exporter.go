// Package metrics exposes endpoint quality statistics and event counters as
// Prometheus metrics. Endpoints are registered under an id together with the
// values of the collector's variable labels; one set of metric descriptions
// serves all registered endpoints
package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lumenet/reliable/transport/reliable"
)

type info struct {
	description *prometheus.Desc
	supplier    func(e *reliable.Endpoint, labelValues []string) prometheus.Metric
}

type entry struct {
	endpoint *reliable.Endpoint
	labels   []string
}

// Collector is a prometheus.Collector over a set of endpoints.
//
// Endpoints are single-threaded cooperative: the caller must ensure the
// goroutine driving an endpoint and the scrape goroutine do not overlap, for
// example by pausing the drive loop around Gather
type Collector struct {
	mu        sync.Mutex
	endpoints map[string]entry
	infos     []info
}

// NewCollector creates a collector. endpointLabels are the variable label
// names whose values are supplied when adding an endpoint; constLabels are
// fixed for the whole process
func NewCollector(prefix string, endpointLabels []string, constLabels prometheus.Labels) *Collector {
	c := &Collector{
		endpoints: make(map[string]entry),
	}
	c.addMetrics(prefix, endpointLabels, constLabels)
	return c
}

// Add registers an endpoint under the given id, with one label value per
// endpoint label declared at construction. Re-adding an id replaces it
func (c *Collector) Add(id string, e *reliable.Endpoint, labels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endpoints[id] = entry{endpoint: e, labels: labels}
}

// Remove drops the endpoint registered under the given id
func (c *Collector) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.endpoints, id)
}

// Describe implements prometheus.Collector.Describe
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	for _, info := range c.infos {
		descs <- info.description
	}
}

// Collect implements prometheus.Collector.Collect
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.endpoints {
		for _, info := range c.infos {
			metrics <- info.supplier(e.endpoint, e.labels)
		}
	}
}

func (c *Collector) addMetrics(prefix string, variableLabels []string, constLabels prometheus.Labels) {
	gauge := func(name, help string, value func(e *reliable.Endpoint) float64) info {
		description := prometheus.NewDesc(fmt.Sprintf("%s_%s", prefix, name), help, variableLabels, constLabels)
		return info{
			description: description,
			supplier: func(e *reliable.Endpoint, labelValues []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(description, prometheus.GaugeValue, value(e), labelValues...)
			},
		}
	}
	counter := func(name, help string, index int) info {
		description := prometheus.NewDesc(fmt.Sprintf("%s_%s", prefix, name), help, variableLabels, constLabels)
		return info{
			description: description,
			supplier: func(e *reliable.Endpoint, labelValues []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(description, prometheus.CounterValue, float64(e.Counters()[index]), labelValues...)
			},
		}
	}

	c.infos = []info{
		gauge("rtt_milliseconds", "Smoothed round-trip time.", func(e *reliable.Endpoint) float64 {
			return float64(e.RTT())
		}),
		gauge("packet_loss_percent", "Smoothed packet loss.", func(e *reliable.Endpoint) float64 {
			return float64(e.PacketLoss())
		}),
		gauge("sent_bandwidth_kbps", "Smoothed outbound bandwidth.", func(e *reliable.Endpoint) float64 {
			sent, _, _ := e.Bandwidth()
			return float64(sent)
		}),
		gauge("received_bandwidth_kbps", "Smoothed inbound bandwidth.", func(e *reliable.Endpoint) float64 {
			_, received, _ := e.Bandwidth()
			return float64(received)
		}),
		gauge("acked_bandwidth_kbps", "Smoothed bandwidth of acked packets.", func(e *reliable.Endpoint) float64 {
			_, _, acked := e.Bandwidth()
			return float64(acked)
		}),
		counter("packets_sent_total", "Packets accepted by Send.", reliable.CounterPacketsSent),
		counter("packets_received_total", "Datagrams accepted by Receive.", reliable.CounterPacketsReceived),
		counter("packets_acked_total", "Sent packets acknowledged by the peer.", reliable.CounterPacketsAcked),
		counter("packets_stale_total", "Inbound packets dropped as too old.", reliable.CounterPacketsStale),
		counter("packets_invalid_total", "Inbound packets with malformed headers.", reliable.CounterPacketsInvalid),
		counter("packets_too_large_to_send_total", "Payloads rejected by Send for size.", reliable.CounterPacketsTooLargeToSend),
		counter("packets_too_large_to_receive_total", "Datagrams rejected by Receive for size.", reliable.CounterPacketsTooLargeToReceive),
		counter("fragments_sent_total", "Fragments transmitted.", reliable.CounterFragmentsSent),
		counter("fragments_received_total", "Fragments accepted into reassembly.", reliable.CounterFragmentsReceived),
		counter("fragments_invalid_total", "Fragments rejected as malformed or duplicate.", reliable.CounterFragmentsInvalid),
	}
}
