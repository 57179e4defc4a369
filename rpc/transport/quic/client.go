package quic

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/multiplex"
	"github.com/ValentinKolb/pKV/rpc/security"
	"github.com/ValentinKolb/pKV/rpc/transport"
	"github.com/ValentinKolb/pKV/rpc/transport/base"
	"github.com/quic-go/quic-go"
)

// sessionDialer implements base.ISessionDialer with quic connections
type sessionDialer struct {
	tlsConfig  *tls.Config
	quicConfig *quic.Config
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.ISessionDialer)
// --------------------------------------------------------------------------

func (d *sessionDialer) GetName() string {
	return "quic"
}

func (d *sessionDialer) Prepare(config common.ClientConfig) error {
	tlsConfig, err := security.LoadClientTLSConfig(config.Security.TLS)
	if err != nil {
		return err
	}
	d.tlsConfig = quicTLSConfig(tlsConfig)
	d.quicConfig = quicConfig(config.Security, config.Mux)
	return nil
}

func (d *sessionDialer) DialSession(ctx context.Context, endpoint string) (multiplex.ISession, error) {
	tlsConfig := d.tlsConfig
	if tlsConfig.ServerName == "" {
		tlsConfig = tlsConfig.Clone()
		tlsConfig.ServerName = serverName(endpoint)
	}

	span := common.StartSpan("handshake", `variant="quic",role="initiator"`)
	conn, err := quic.DialAddr(ctx, endpoint, tlsConfig, d.quicConfig)
	if err != nil {
		herr := security.ClassifyHandshakeError(err)
		span.End(herr)
		return nil, herr
	}
	span.End(nil)
	return multiplex.NewQUICSession(conn), nil
}

// serverName derives the name to verify from the endpoint host
func serverName(endpoint string) string {
	host, _, err := net.SplitHostPort(endpoint)
	if err != nil || host == "" {
		return "localhost"
	}
	return host
}

// --------------------------------------------------------------------------
// Client Transport Factory Method
// --------------------------------------------------------------------------

// NewQUICClientTransport creates a new QUIC client transport
func NewQUICClientTransport() transport.IRPCClientTransport {
	return base.NewSessionClientTransport(&sessionDialer{})
}
