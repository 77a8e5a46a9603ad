package reliable

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lumenet/reliable/header"
	"github.com/lumenet/reliable/types"
)

// Config carries the tunables of an endpoint. Both sides of a session must
// agree on FragmentSize (reassembly offsets depend on it) and should agree on
// PacketHeaderSize so bandwidth accounting matches
type Config struct {
	// Name identifies the endpoint in logs and metric labels
	Name string `yaml:"name"`

	// Index is an opaque id passed through to the packet handler
	Index int `yaml:"index"`

	// MaxPacketSize bounds outbound payloads and inbound datagrams
	MaxPacketSize int `yaml:"max_packet_size"`

	// FragmentAbove is the payload size above which packets are fragmented
	FragmentAbove int `yaml:"fragment_above"`

	// MaxFragments caps the number of fragments a single packet may need
	MaxFragments int `yaml:"max_fragments"`

	// FragmentSize is the bytes of payload carried per fragment
	FragmentSize int `yaml:"fragment_size"`

	// AckBufferSize caps the acks accumulated between ClearAcks calls
	AckBufferSize int `yaml:"ack_buffer_size"`

	SentPacketsBufferSize        int `yaml:"sent_packets_buffer_size"`
	ReceivedPacketsBufferSize    int `yaml:"received_packets_buffer_size"`
	FragmentReassemblyBufferSize int `yaml:"fragment_reassembly_buffer_size"`

	// Smoothing factors are the alpha in x += alpha * (sample - x)
	RTTSmoothingFactor        float32 `yaml:"rtt_smoothing_factor"`
	PacketLossSmoothingFactor float32 `yaml:"packet_loss_smoothing_factor"`
	BandwidthSmoothingFactor  float32 `yaml:"bandwidth_smoothing_factor"`

	// PacketHeaderSize is the wire overhead attributed to each packet for
	// bandwidth accounting. The default accounts for IPv4 plus UDP
	PacketHeaderSize int `yaml:"packet_header_size"`
}

// DefaultConfig returns the stock endpoint configuration
func DefaultConfig() Config {
	return Config{
		Index:                        1,
		MaxPacketSize:                16 * 1024,
		FragmentAbove:                1024,
		MaxFragments:                 16,
		FragmentSize:                 1024,
		AckBufferSize:                256,
		SentPacketsBufferSize:        256,
		ReceivedPacketsBufferSize:    256,
		FragmentReassemblyBufferSize: 64,
		RTTSmoothingFactor:           0.0025,
		PacketLossSmoothingFactor:    0.1,
		BandwidthSmoothingFactor:     0.1,
		PacketHeaderSize:             28,
	}
}

// LoadConfig reads a YAML file and overlays it on the default configuration
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, err
	}
	if err := config.validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

func (c Config) validate() error {
	switch {
	case c.MaxPacketSize <= 0,
		c.FragmentAbove <= 0,
		c.FragmentSize <= 0,
		c.MaxFragments <= 0 || c.MaxFragments > header.MaxFragments,
		c.AckBufferSize <= 0,
		c.SentPacketsBufferSize <= 0,
		c.ReceivedPacketsBufferSize <= 0,
		c.FragmentReassemblyBufferSize <= 0,
		c.RTTSmoothingFactor <= 0 || c.RTTSmoothingFactor > 1,
		c.PacketLossSmoothingFactor <= 0 || c.PacketLossSmoothingFactor > 1,
		c.BandwidthSmoothingFactor <= 0 || c.BandwidthSmoothingFactor > 1,
		c.PacketHeaderSize < 0:
		return types.ErrInvalidOptionValue
	}
	return nil
}
