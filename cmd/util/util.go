package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/serializer"
	"github.com/ValentinKolb/pKV/rpc/transport"
	"github.com/ValentinKolb/pKV/rpc/transport/quic"
	"github.com/ValentinKolb/pKV/rpc/transport/tcp"
	"github.com/ValentinKolb/pKV/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (PKV_<FLAG>)
	EnvPrefix = "pkv"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads the .env files and enables the PKV_ environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Shared flags
// --------------------------------------------------------------------------

// SetupSecurityFlags adds the secure channel flags to a command
func SetupSecurityFlags(cmd *cobra.Command, defaults common.SecurityConf) {
	key := "security"
	cmd.PersistentFlags().String(key, string(defaults.Mode), WrapString("Secure channel of every connection (noise, tls). The quic transport always uses tls"))

	key = "tls-cert"
	cmd.PersistentFlags().String(key, "", WrapString("PEM certificate file (server certificate, or the client identity for mutual tls)"))

	key = "tls-key"
	cmd.PersistentFlags().String(key, "", WrapString("PEM private key file of --tls-cert"))

	key = "tls-ca"
	cmd.PersistentFlags().String(key, "", WrapString("PEM CA file. On the server it enables mutual tls, on the client it verifies the server"))

	key = "handshake-timeout"
	cmd.PersistentFlags().Duration(key, defaults.HandshakeTimeout, WrapString("Deadline of the secure channel handshake"))
}

// SetupFrameFlags adds the frame codec flags to a command
func SetupFrameFlags(cmd *cobra.Command, defaults common.FrameConf) {
	key := "compression"
	cmd.PersistentFlags().String(key, defaults.Compression, WrapString("Compression of large frames (none, gzip, lz4, zstd)"))

	key = "compression-threshold"
	cmd.PersistentFlags().Int(key, defaults.CompressionThreshold, WrapString("Frames of at least this many bytes are compressed"))

	key = "max-frame-size"
	cmd.PersistentFlags().Int(key, defaults.MaxFrameSize, WrapString("Largest accepted frame payload in bytes"))
}

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	defaults := common.DefaultClientConfig()

	key := "timeout"
	cmd.PersistentFlags().Duration(key, defaults.Timeout, WrapString("Timeout of one request (e.g. 5s, 0 disables the timeout)"))

	key = "transport-endpoints"
	cmd.PersistentFlags().String(key, strings.Join(defaults.Transport.Endpoints, ","), WrapString("The address of the pKV server. Multiple endpoints can be specified as a comma-separated list, streams are spread round robin"))

	key = "transport-conn-per-endpoint"
	cmd.PersistentFlags().Int(key, defaults.Transport.ConnectionsPerEndpoint, WrapString("Simultaneous connections per endpoint"))

	key = "transport-retries"
	cmd.PersistentFlags().Int(key, defaults.Transport.RetryCount, WrapString("How many times to try opening a stream"))

	key = "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket write buffer (in KB, ignored for quic)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket read buffer (in KB, ignored for quic)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval (in seconds, only for tcp)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, -1, WrapString("The linger time (in seconds, only for tcp, -1 keeps the system default)"))

	key = "tls-server-name"
	cmd.PersistentFlags().String(key, "", WrapString("Name the server certificate is verified against (defaults to the endpoint host)"))

	SetupSecurityFlags(cmd, defaults.Security)
	SetupFrameFlags(cmd, defaults.Frame)
}

// --------------------------------------------------------------------------
// Configurations
// --------------------------------------------------------------------------

// securityConfigFrom reads the secure channel settings
func securityConfigFrom(v *viper.Viper) common.SecurityConf {
	return common.SecurityConf{
		Mode: common.SecurityMode(v.GetString("security")),
		TLS: common.TLSConf{
			CertFile:   v.GetString("tls-cert"),
			KeyFile:    v.GetString("tls-key"),
			CAFile:     v.GetString("tls-ca"),
			ServerName: v.GetString("tls-server-name"),
		},
		HandshakeTimeout: v.GetDuration("handshake-timeout"),
	}
}

// frameConfigFrom reads the frame codec settings
func frameConfigFrom(v *viper.Viper) common.FrameConf {
	return common.FrameConf{
		Compression:          v.GetString("compression"),
		CompressionThreshold: v.GetInt("compression-threshold"),
		MaxFrameSize:         v.GetInt("max-frame-size"),
	}
}

// ClientConfigFrom reads the client configuration from v
func ClientConfigFrom(v *viper.Viper) common.ClientConfig {
	conf := common.DefaultClientConfig()
	conf.Timeout = v.GetDuration("timeout")
	conf.Transport = common.ClientTransportConfig{
		Kind:                   common.TransportKind(v.GetString("transport")),
		RetryCount:             v.GetInt("transport-retries"),
		Endpoints:              strings.Split(v.GetString("transport-endpoints"), ","),
		ConnectionsPerEndpoint: v.GetInt("transport-conn-per-endpoint"),
		SocketConf: common.SocketConf{
			WriteBufferSize: v.GetInt("transport-write-buffer") * 1024,
			ReadBufferSize:  v.GetInt("transport-read-buffer") * 1024,
		},
		TCPConf: common.TCPConf{
			TCPKeepAliveSec: v.GetInt("transport-tcp-keepalive"),
			TCPLingerSec:    v.GetInt("transport-tcp-linger"),
			TCPNoDelay:      v.GetBool("transport-tcp-nodelay"),
		},
	}
	conf.Security = securityConfigFrom(v)
	conf.Frame = frameConfigFrom(v)
	return conf
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	conf := ClientConfigFrom(viper.GetViper())
	return &conf
}

// ServerConfigFrom reads the server configuration from v
func ServerConfigFrom(v *viper.Viper) common.ServerConfig {
	conf := common.DefaultServerConfig()
	conf.Transport.Kind = common.TransportKind(v.GetString("transport"))
	conf.Transport.Endpoint = v.GetString("endpoint")
	conf.Transport.MaxConnections = v.GetInt("max-connections")
	conf.Security = securityConfigFrom(v)
	conf.Mux.MaxStreams = v.GetInt("max-streams")
	conf.Mux.StreamOpenTimeout = v.GetDuration("stream-open-timeout")
	conf.Frame = frameConfigFrom(v)
	conf.Storage = common.StorageConf{
		Engine:  common.StorageEngine(v.GetString("engine")),
		DataDir: v.GetString("data-dir"),
	}
	conf.PubSub.DeliveryBuffer = v.GetInt("delivery-buffer")
	conf.LogLevel = v.GetString("log-level")
	return conf
}

// --------------------------------------------------------------------------
// Components
// --------------------------------------------------------------------------

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	return serializer.New(viper.GetString("serializer"))
}

// GetTransport creates the client transport based on configuration
func GetTransport() (transport.IRPCClientTransport, error) {
	switch kind := common.TransportKind(viper.GetString("transport")); kind {
	case common.TransportTCP:
		return tcp.NewTCPClientTransport(), nil
	case common.TransportUnix:
		return unix.NewUnixClientTransport(), nil
	case common.TransportQUIC:
		return quic.NewQUICClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", kind)
	}
}

// GetServerTransport creates the server transport of the given kind
func GetServerTransport(kind common.TransportKind) (transport.IRPCServerTransport, error) {
	switch kind {
	case common.TransportTCP:
		return tcp.NewTCPServerTransport(), nil
	case common.TransportUnix:
		return unix.NewUnixServerTransport(), nil
	case common.TransportQUIC:
		return quic.NewQUICServerTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", kind)
	}
}
