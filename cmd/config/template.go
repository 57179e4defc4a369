package config

import (
	"bytes"
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
	"github.com/ValentinKolb/pKV/rpc/common"
)

// fileConfig is the layout of a server config file. The keys are the flag
// names of "pkv serve".
type fileConfig struct {
	Serializer string `toml:"serializer"`
	Transport  string `toml:"transport"`
	Endpoint   string `toml:"endpoint"`

	MaxConnections    int    `toml:"max-connections"`
	MaxStreams        int    `toml:"max-streams"`
	StreamOpenTimeout string `toml:"stream-open-timeout"`

	Security         string `toml:"security"`
	TLSCert          string `toml:"tls-cert"`
	TLSKey           string `toml:"tls-key"`
	TLSCA            string `toml:"tls-ca"`
	HandshakeTimeout string `toml:"handshake-timeout"`

	Compression          string `toml:"compression"`
	CompressionThreshold int    `toml:"compression-threshold"`
	MaxFrameSize         int    `toml:"max-frame-size"`

	Engine  string `toml:"engine"`
	DataDir string `toml:"data-dir"`

	DeliveryBuffer int    `toml:"delivery-buffer"`
	LogLevel       string `toml:"log-level"`
}

const templateHeader = `# pKV server configuration
#
# Load it with "pkv serve --config <file>". Every key is also a flag of
# "pkv serve" and can be overridden by the flag or by PKV_<KEY> in the
# environment (e.g. PKV_LOG_LEVEL=debug).
#
# transport:   tcp, unix or quic (quic requires security = "tls")
# security:    noise or tls. tls-ca enables mutual tls
# compression: none, gzip, lz4 or zstd
# engine:      maple (in memory) or badger (on disk, stored in data-dir)

`

// newFileConfig converts a server config to its file layout
func newFileConfig(conf common.ServerConfig, serializer string) fileConfig {
	return fileConfig{
		Serializer:           serializer,
		Transport:            string(conf.Transport.Kind),
		Endpoint:             conf.Transport.Endpoint,
		MaxConnections:       conf.Transport.MaxConnections,
		MaxStreams:           conf.Mux.MaxStreams,
		StreamOpenTimeout:    conf.Mux.StreamOpenTimeout.String(),
		Security:             string(conf.Security.Mode),
		TLSCert:              conf.Security.TLS.CertFile,
		TLSKey:               conf.Security.TLS.KeyFile,
		TLSCA:                conf.Security.TLS.CAFile,
		HandshakeTimeout:     conf.Security.HandshakeTimeout.String(),
		Compression:          conf.Frame.Compression,
		CompressionThreshold: conf.Frame.CompressionThreshold,
		MaxFrameSize:         conf.Frame.MaxFrameSize,
		Engine:               string(conf.Storage.Engine),
		DataDir:              conf.Storage.DataDir,
		DeliveryBuffer:       conf.PubSub.DeliveryBuffer,
		LogLevel:             conf.LogLevel,
	}
}

// WriteTemplate writes a commented config file holding conf
func WriteTemplate(w io.Writer, conf common.ServerConfig, serializer string) error {
	var buf bytes.Buffer
	buf.WriteString(templateHeader)
	if err := toml.NewEncoder(&buf).Encode(newFileConfig(conf, serializer)); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
