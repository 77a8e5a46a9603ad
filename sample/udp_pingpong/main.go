// Command udp_pingpong runs one side of a reliability session over a real
// UDP socket. Start two copies pointed at each other:
//
//	udp_pingpong -listen 127.0.0.1:44444 -peer 127.0.0.1:55555
//	udp_pingpong -listen 127.0.0.1:55555 -peer 127.0.0.1:44444
//
// Each side sends a payload every interval, reports the acks it collects,
// and, when -metrics is given, serves its quality statistics to Prometheus
package main

import (
	"flag"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/lumenet/reliable/metrics"
	"github.com/lumenet/reliable/transport/reliable"
	"github.com/lumenet/reliable/types"
)

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:44444", "local UDP address")
	peerAddr := flag.String("peer", "127.0.0.1:55555", "peer UDP address")
	metricsAddr := flag.String("metrics", "", "serve Prometheus metrics on this address")
	configPath := flag.String("config", "", "endpoint configuration YAML")
	interval := flag.Duration("interval", 100*time.Millisecond, "send interval")
	payloadSize := flag.Int("payload", 1200, "payload bytes per send")
	flag.Parse()

	config := reliable.DefaultConfig()
	if *configPath != "" {
		var err error
		if config, err = reliable.LoadConfig(*configPath); err != nil {
			logrus.Fatalf("load config: %v", err)
		}
	}
	if config.Name == "" {
		config.Name = xid.New().String()
	}

	local, err := net.ResolveUDPAddr("udp", *listenAddr)
	if err != nil {
		logrus.Fatalf("resolve listen address: %v", err)
	}
	peer, err := net.ResolveUDPAddr("udp", *peerAddr)
	if err != nil {
		logrus.Fatalf("resolve peer address: %v", err)
	}
	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		logrus.Fatalf("listen: %v", err)
	}
	defer conn.Close()

	start := time.Now()

	handler := types.HandlerFuncs{
		Transmit: func(index int, sequence uint16, datagram []byte) {
			if _, err := conn.WriteToUDP(datagram, peer); err != nil {
				logrus.Errorf("transmit %v: %v", sequence, err)
			}
		},
		Process: func(index int, sequence uint16, payload []byte) bool {
			logrus.Debugf("process %v: %v bytes", sequence, len(payload))
			return true
		},
	}

	// The endpoint is single threaded: the reader goroutine, the send
	// ticker and the metrics scrape all take this mutex
	var mu sync.Mutex

	endpoint, err := reliable.NewEndpoint(config, 0, handler)
	if err != nil {
		logrus.Fatalf("new endpoint: %v", err)
	}

	if *metricsAddr != "" {
		collector := metrics.NewCollector("reliable", []string{"endpoint"}, nil)
		collector.Add(config.Name, endpoint, []string{config.Name})
		prometheus.MustRegister(lockedCollector{mu: &mu, inner: collector})

		go func() {
			http.Handle("/metrics", promhttp.Handler())
			logrus.Fatal(http.ListenAndServe(*metricsAddr, nil))
		}()
	}

	go func() {
		buf := make([]byte, config.MaxPacketSize)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				logrus.Errorf("read: %v", err)
				return
			}
			datagram := make([]byte, n)
			copy(datagram, buf[:n])

			mu.Lock()
			if err := endpoint.Receive(datagram); err != nil {
				logrus.Debugf("receive: %v", err)
			}
			mu.Unlock()
		}
	}()

	logrus.Infof("endpoint %q sending from %v to %v", config.Name, *listenAddr, *peerAddr)

	payload := make([]byte, *payloadSize)
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	lastReport := time.Now()
	for range ticker.C {
		mu.Lock()
		endpoint.Update(time.Since(start).Seconds())

		if _, err := endpoint.Send(payload); err != nil {
			logrus.Errorf("send: %v", err)
		}

		acks := endpoint.Acks()
		if len(acks) > 0 {
			logrus.Debugf("acked: %v", acks)
			endpoint.ClearAcks()
		}

		if time.Since(lastReport) >= time.Second {
			sent, received, acked := endpoint.Bandwidth()
			logrus.Infof("rtt=%.2fms loss=%.2f%% bandwidth sent=%.1f received=%.1f acked=%.1f kbps",
				endpoint.RTT(), endpoint.PacketLoss(), sent, received, acked)
			lastReport = time.Now()
		}
		mu.Unlock()
	}
}

// lockedCollector serializes metric scrapes against the goroutines driving
// the endpoint, which is single threaded by contract
type lockedCollector struct {
	mu    *sync.Mutex
	inner prometheus.Collector
}

func (c lockedCollector) Describe(descs chan<- *prometheus.Desc) {
	c.inner.Describe(descs)
}

func (c lockedCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Collect(ch)
}
