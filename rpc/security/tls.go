package security

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/ValentinKolb/pKV/rpc/common"
)

// ALPNProtocol is negotiated on every pKV tls connection (tcp, unix and quic)
const ALPNProtocol = "pkv"

// --------------------------------------------------------------------------
// Config loading (shared with the quic transport)
// --------------------------------------------------------------------------

// LoadServerTLSConfig loads the server certificate. If conf.CAFile is set,
// clients must present a certificate signed by that CA (mutual tls).
func LoadServerTLSConfig(conf common.TLSConf) (*tls.Config, error) {
	if conf.CertFile == "" || conf.KeyFile == "" {
		return nil, fmt.Errorf("tls server requires a certificate and a key file")
	}
	cert, err := tls.LoadX509KeyPair(conf.CertFile, conf.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server key pair: %w", err)
	}

	config := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{ALPNProtocol},
	}
	if conf.CAFile != "" {
		pool, err := loadCertPool(conf.CAFile)
		if err != nil {
			return nil, err
		}
		config.ClientCAs = pool
		config.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return config, nil
}

// LoadClientTLSConfig loads the CA bundle used to verify the server (system
// roots if conf.CAFile is empty) and the optional client identity.
func LoadClientTLSConfig(conf common.TLSConf) (*tls.Config, error) {
	config := &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{ALPNProtocol},
		ServerName: conf.ServerName,
	}
	if conf.CAFile != "" {
		pool, err := loadCertPool(conf.CAFile)
		if err != nil {
			return nil, err
		}
		config.RootCAs = pool
	}
	if conf.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(conf.CertFile, conf.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client key pair: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}
	return config, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// --------------------------------------------------------------------------
// TLS channel
// --------------------------------------------------------------------------

type tlsChannel struct {
	config *tls.Config
}

// NewTLSChannel creates a tls secure channel. The ALPN protocol and a
// minimum version of tls 1.2 are enforced if config does not set them.
func NewTLSChannel(config *tls.Config) ISecureChannel {
	c := config.Clone()
	if len(c.NextProtos) == 0 {
		c.NextProtos = []string{ALPNProtocol}
	}
	if c.MinVersion == 0 {
		c.MinVersion = tls.VersionTLS12
	}
	return &tlsChannel{config: c}
}

func (c *tlsChannel) GetName() string {
	return "tls"
}

func (c *tlsChannel) Handshake(ctx context.Context, conn net.Conn, role Role) (net.Conn, error) {
	span := common.StartSpan("handshake", handshakeLabel(c.GetName(), role))

	var tlsConn *tls.Conn
	if role == RoleResponder {
		tlsConn = tls.Server(conn, c.config)
	} else {
		config := c.config
		if config.ServerName == "" && !config.InsecureSkipVerify {
			config = config.Clone()
			config.ServerName = serverNameFor(conn)
		}
		tlsConn = tls.Client(conn, config)
	}

	err := tlsConn.HandshakeContext(ctx)
	if err == nil && tlsConn.ConnectionState().NegotiatedProtocol != ALPNProtocol {
		err = fmt.Errorf("peer did not negotiate the %q application protocol", ALPNProtocol)
	}
	if err != nil {
		herr := classifyTLSError(err)
		span.End(herr)
		Logger.Debugf("tls handshake with %s failed: %v", conn.RemoteAddr(), herr)
		return nil, herr
	}

	span.End(nil)
	state := tlsConn.ConnectionState()
	Logger.Debugf("tls handshake with %s done (%s, %s)", conn.RemoteAddr(),
		tls.VersionName(state.Version), tls.CipherSuiteName(state.CipherSuite))
	return tlsConn, nil
}

// serverNameFor derives the name to verify from the remote address
func serverNameFor(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil || host == "" {
		return "localhost"
	}
	return host
}

// classifyTLSError maps a crypto/tls handshake error to a HandshakeError.
// Alerts received from the peer are only available as text.
func classifyTLSError(err error) *HandshakeError {
	herr := &HandshakeError{Kind: KindProtocolViolation, Channel: "tls", Err: err}

	var (
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		invalid     x509.CertificateInvalidError
		hostname    x509.HostnameError
		recordErr   tls.RecordHeaderError
	)
	switch {
	case isTimeout(err):
		herr.Kind = KindTimeout
	case errors.As(err, &verifyErr), errors.As(err, &unknownAuth), errors.As(err, &invalid), errors.As(err, &hostname):
		herr.Kind = KindCertInvalid
	case errors.As(err, &recordErr):
		herr.Kind = KindProtocolViolation
	default:
		msg := err.Error()
		switch {
		case strings.Contains(msg, "version"), strings.Contains(msg, "application protocol"):
			herr.Kind = KindVersionMismatch
		case strings.Contains(msg, "certificate"):
			herr.Kind = KindCertInvalid
		}
	}
	return herr
}

// ClassifyHandshakeError maps the failed handshake of a transport with built
// in tls (quic) to a HandshakeError
func ClassifyHandshakeError(err error) *HandshakeError {
	var herr *HandshakeError
	if errors.As(err, &herr) {
		return herr
	}
	return classifyTLSError(err)
}
