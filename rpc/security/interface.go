package security

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("security")

// Role is the side of the handshake a peer plays
type Role uint8

const (
	RoleInitiator Role = iota // the dialing client
	RoleResponder             // the accepting server
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// ISecureChannel turns a raw connection into an authenticated and encrypted one
type ISecureChannel interface {
	// Handshake runs the handshake on conn and returns the secured connection.
	// The returned connection owns conn: closing it closes conn. On error conn
	// must be closed by the caller. A handshake is never retried.
	Handshake(ctx context.Context, conn net.Conn, role Role) (net.Conn, error)
	// GetName returns the name of the channel variant ("tls", "noise")
	GetName() string
}

// NewSecureChannel creates the secure channel configured in sec.
// server selects which side of the tls configuration is loaded.
func NewSecureChannel(sec common.SecurityConf, server bool) (ISecureChannel, error) {
	switch sec.Mode {
	case common.SecurityNoise:
		return NewNoiseChannel(), nil
	case common.SecurityTLS:
		var (
			config *tls.Config
			err    error
		)
		if server {
			config, err = LoadServerTLSConfig(sec.TLS)
		} else {
			config, err = LoadClientTLSConfig(sec.TLS)
		}
		if err != nil {
			return nil, err
		}
		return NewTLSChannel(config), nil
	default:
		return nil, fmt.Errorf("invalid security mode %q", sec.Mode)
	}
}

// handshakeLabel is the metric label of a handshake span
func handshakeLabel(channel string, role Role) string {
	return fmt.Sprintf(`variant=%q,role=%q`, channel, role)
}
