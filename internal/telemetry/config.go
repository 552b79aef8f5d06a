package telemetry

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Exporter protocols.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// Config controls OTLP export of spans and metrics.
type Config struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
	Protocol string `koanf:"protocol"`
	// Insecure disables TLS. Only loopback endpoints may be insecure.
	Insecure bool `koanf:"insecure"`

	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`

	// SampleRate is the root-span sampling ratio in [0, 1].
	SampleRate float64 `koanf:"sample_rate"`

	Metrics        bool          `koanf:"metrics"`
	MetricInterval time.Duration `koanf:"metric_interval"`

	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// NewDefaultConfig returns defaults for a local collector. Export stays off
// until enabled.
func NewDefaultConfig() *Config {
	return &Config{
		Endpoint:        "localhost:4317",
		Protocol:        ProtocolGRPC,
		Insecure:        true,
		ServiceName:     "askd",
		ServiceVersion:  "0.1.0",
		SampleRate:      1,
		Metrics:         true,
		MetricInterval:  15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate checks an enabled config. A disabled config is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required"))
	}
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service_name is required"))
	}
	switch c.Protocol {
	case "", ProtocolGRPC, ProtocolHTTP:
	default:
		errs = append(errs, fmt.Errorf("protocol must be %q or %q, got %q", ProtocolGRPC, ProtocolHTTP, c.Protocol))
	}
	if c.Insecure && c.Endpoint != "" && !isLoopback(c.Endpoint) {
		errs = append(errs, fmt.Errorf("insecure export to non-loopback endpoint %q", c.Endpoint))
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("sample_rate must be within [0, 1], got %g", c.SampleRate))
	}
	if c.Metrics && c.MetricInterval <= 0 {
		errs = append(errs, errors.New("metric_interval must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) protocol() string {
	if c.Protocol == "" {
		return ProtocolGRPC
	}
	return c.Protocol
}

// hostPort strips any URL scheme; the OTLP exporters want host:port.
func hostPort(endpoint string) string {
	if i := strings.Index(endpoint, "://"); i >= 0 {
		endpoint = endpoint[i+3:]
	}
	return strings.TrimSuffix(endpoint, "/")
}

func isLoopback(endpoint string) bool {
	host := hostPort(endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
