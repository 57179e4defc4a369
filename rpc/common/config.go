package common

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Shared enums
// --------------------------------------------------------------------------

// TransportKind selects how the physical connection and its streams are built
type TransportKind string

const (
	TransportTCP  TransportKind = "tcp"  // tcp socket + secure channel + yamux
	TransportUnix TransportKind = "unix" // unix socket + secure channel + yamux
	TransportQUIC TransportKind = "quic" // quic (tls 1.3 built in) + native streams
)

// SecurityMode selects the secure channel variant of a connection
type SecurityMode string

const (
	SecurityTLS   SecurityMode = "tls"
	SecurityNoise SecurityMode = "noise"
)

// StorageEngine selects the backend behind the local store
type StorageEngine string

const (
	EngineMaple  StorageEngine = "maple"  // sharded in-memory map
	EngineBadger StorageEngine = "badger" // embedded on-disk lsm
)

// --------------------------------------------------------------------------
// Sub configurations
// --------------------------------------------------------------------------

// SocketConf holds socket level settings for stream sockets
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds tcp specific socket settings
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// TLSConf holds the certificate material for the tls secure channel.
// On the server CertFile/KeyFile are required, CAFile enables mutual tls.
// On the client CAFile verifies the server, CertFile/KeyFile are the
// optional client identity.
type TLSConf struct {
	CertFile   string
	KeyFile    string
	CAFile     string
	ServerName string
}

// SecurityConf configures the secure channel
type SecurityConf struct {
	Mode             SecurityMode
	TLS              TLSConf
	HandshakeTimeout time.Duration
}

// MuxConf configures the stream multiplexer
type MuxConf struct {
	AcceptBacklog     int
	MaxStreams        int
	MaxStreamWindowKB int
	KeepAliveInterval time.Duration
	StreamOpenTimeout time.Duration
}

// FrameConf configures the frame codec of every stream
type FrameConf struct {
	Compression          string // none, gzip, lz4, zstd
	CompressionThreshold int
	MaxFrameSize         int
}

// StorageConf configures the storage backend of the server
type StorageConf struct {
	Engine  StorageEngine
	DataDir string
}

// PubSubConf configures the broadcast engine
type PubSubConf struct {
	DeliveryBuffer int
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerTransportConfig holds listener settings
type ServerTransportConfig struct {
	Kind           TransportKind
	Endpoint       string
	MaxConnections int
	SocketConf
	TCPConf
}

// ServerConfig holds all configuration parameters of a pKV server.
type ServerConfig struct {
	Transport ServerTransportConfig
	Security  SecurityConf
	Mux       MuxConf
	Frame     FrameConf
	Storage   StorageConf
	PubSub    PubSubConf

	// Logging configuration
	LogLevel string
}

// DefaultServerConfig returns a server config with every value set to its default
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Transport: ServerTransportConfig{
			Kind:           TransportTCP,
			Endpoint:       "0.0.0.0:9527",
			MaxConnections: 1024,
			TCPConf:        TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
		},
		Security: SecurityConf{
			Mode:             SecurityNoise,
			HandshakeTimeout: 10 * time.Second,
		},
		Mux:   DefaultMuxConf(),
		Frame: DefaultFrameConf(),
		Storage: StorageConf{
			Engine:  EngineMaple,
			DataDir: "data",
		},
		PubSub:   PubSubConf{DeliveryBuffer: 128},
		LogLevel: "info",
	}
}

// DefaultMuxConf returns the default multiplexer settings
func DefaultMuxConf() MuxConf {
	return MuxConf{
		AcceptBacklog:     256,
		MaxStreams:        1000,
		MaxStreamWindowKB: 256,
		KeepAliveInterval: 30 * time.Second,
		StreamOpenTimeout: 30 * time.Second,
	}
}

// DefaultFrameConf returns the default frame codec settings
func DefaultFrameConf() FrameConf {
	return FrameConf{
		Compression:          "gzip",
		CompressionThreshold: 1436,
		MaxFrameSize:         (1 << 28) - 1,
	}
}

// Validate checks the configuration for contradicting settings
func (c *ServerConfig) Validate() error {
	if c.Transport.Endpoint == "" {
		return fmt.Errorf("no endpoint configured")
	}
	if err := validateSecurity(c.Transport.Kind, c.Security, true); err != nil {
		return err
	}
	switch c.Storage.Engine {
	case EngineMaple:
	case EngineBadger:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("the badger engine requires a data directory")
		}
	default:
		return fmt.Errorf("invalid storage engine %q (expected maple or badger)", c.Storage.Engine)
	}
	if c.PubSub.DeliveryBuffer < 1 {
		return fmt.Errorf("delivery buffer must be at least 1")
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder
	addSection, addField := formatHelpers(&sb)

	addSection("Transport")
	addField("Kind", string(c.Transport.Kind))
	addField("Endpoint", c.Transport.Endpoint)
	addField("Max Connections", strconv.Itoa(c.Transport.MaxConnections))
	if c.Transport.Kind == TransportTCP {
		addField("TCP NoDelay", strconv.FormatBool(c.Transport.TCPNoDelay))
		addField("TCP KeepAlive", fmt.Sprintf("%d sec", c.Transport.TCPKeepAliveSec))
	}

	addSecurity(addSection, addField, c.Transport.Kind, c.Security)
	addMux(addSection, addField, c.Transport.Kind, c.Mux)
	addFrame(addSection, addField, c.Frame)

	addSection("Storage")
	addField("Engine", string(c.Storage.Engine))
	if c.Storage.Engine == EngineBadger {
		addField("Data Directory", c.Storage.DataDir)
	}

	addSection("PubSub")
	addField("Delivery Buffer", strconv.Itoa(c.PubSub.DeliveryBuffer))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientTransportConfig holds dial settings
type ClientTransportConfig struct {
	Kind                   TransportKind
	Endpoints              []string
	ConnectionsPerEndpoint int
	RetryCount             int
	SocketConf
	TCPConf
}

// ClientConfig holds all configuration parameters of a pKV client
type ClientConfig struct {
	// Timeout bounds one request/response exchange (0 = no timeout)
	Timeout   time.Duration
	Transport ClientTransportConfig
	Security  SecurityConf
	Mux       MuxConf
	Frame     FrameConf
}

// DefaultClientConfig returns a client config with every value set to its default
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout: 10 * time.Second,
		Transport: ClientTransportConfig{
			Kind:                   TransportTCP,
			Endpoints:              []string{"localhost:9527"},
			ConnectionsPerEndpoint: 1,
			RetryCount:             3,
			TCPConf:                TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
		},
		Security: SecurityConf{
			Mode:             SecurityNoise,
			HandshakeTimeout: 10 * time.Second,
		},
		Mux:   DefaultMuxConf(),
		Frame: DefaultFrameConf(),
	}
}

// Validate checks the configuration for contradicting settings
func (c *ClientConfig) Validate() error {
	if len(c.Transport.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}
	return validateSecurity(c.Transport.Kind, c.Security, false)
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder
	addSection, addField := formatHelpers(&sb)

	addSection("Client Configuration")
	addField("Transport", string(c.Transport.Kind))
	addField("Timeout", c.Timeout.String())
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.Transport.ConnectionsPerEndpoint)))))

	addSecurity(addSection, addField, c.Transport.Kind, c.Security)
	addMux(addSection, addField, c.Transport.Kind, c.Mux)
	addFrame(addSection, addField, c.Frame)

	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func validateSecurity(kind TransportKind, sec SecurityConf, server bool) error {
	switch kind {
	case TransportTCP, TransportUnix:
	case TransportQUIC:
		// quic embeds tls 1.3, there is no byte stream to run noise over
		if sec.Mode != SecurityTLS {
			return fmt.Errorf("the quic transport requires the tls security mode")
		}
	default:
		return fmt.Errorf("invalid transport %q (expected tcp, unix or quic)", kind)
	}

	switch sec.Mode {
	case SecurityNoise:
	case SecurityTLS:
		if server && (sec.TLS.CertFile == "" || sec.TLS.KeyFile == "") {
			return fmt.Errorf("tls requires a certificate and a key file")
		}
		if !server && (sec.TLS.CertFile == "") != (sec.TLS.KeyFile == "") {
			return fmt.Errorf("a client identity needs both a certificate and a key file")
		}
	default:
		return fmt.Errorf("invalid security mode %q (expected tls or noise)", sec.Mode)
	}
	return nil
}

func formatHelpers(sb *strings.Builder) (func(string), func(string, string)) {
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-24s: %s\n", name, value))
	}
	return addSection, addField
}

func addSecurity(addSection func(string), addField func(string, string), kind TransportKind, sec SecurityConf) {
	addSection("Security")
	addField("Mode", string(sec.Mode))
	addField("Handshake Timeout", sec.HandshakeTimeout.String())
	if sec.Mode == SecurityTLS {
		addField("Certificate", valueOr(sec.TLS.CertFile, "-"))
		addField("Key", valueOr(sec.TLS.KeyFile, "-"))
		addField("CA", valueOr(sec.TLS.CAFile, "-"))
		addField("Server Name", valueOr(sec.TLS.ServerName, "-"))
	}
}

func addMux(addSection func(string), addField func(string, string), kind TransportKind, mux MuxConf) {
	addSection("Multiplexer")
	if kind == TransportQUIC {
		addField("Protocol", "quic streams")
	} else {
		addField("Protocol", "yamux")
	}
	addField("Max Streams", strconv.Itoa(mux.MaxStreams))
	addField("Stream Window", fmt.Sprintf("%d KB", mux.MaxStreamWindowKB))
	addField("KeepAlive", mux.KeepAliveInterval.String())
	addField("Stream Open Timeout", mux.StreamOpenTimeout.String())
}

func addFrame(addSection func(string), addField func(string, string), f FrameConf) {
	addSection("Frames")
	addField("Compression", f.Compression)
	addField("Compression Threshold", fmt.Sprintf("%d bytes", f.CompressionThreshold))
	addField("Max Frame Size", fmt.Sprintf("%d bytes", f.MaxFrameSize))
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
