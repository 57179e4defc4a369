package security

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/flynn/noise"
)

const (
	// NoiseProtocol is the full noise protocol name of the channel
	NoiseProtocol = "Noise_NN_25519_ChaChaPoly_BLAKE2s"

	noiseMaxMessage = 65535
	noiseTagSize    = 16
	noiseMaxPayload = noiseMaxMessage - noiseTagSize
)

var (
	noiseSuite    = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)
	noisePrologue = []byte("pkv/1")
)

// noiseChannel runs the NN pattern: both sides use ephemeral keys only, the
// channel is encrypted but anonymous (no peer authentication).
type noiseChannel struct{}

// NewNoiseChannel creates a Noise_NN_25519_ChaChaPoly_BLAKE2s secure channel
func NewNoiseChannel() ISecureChannel {
	return &noiseChannel{}
}

func (c *noiseChannel) GetName() string {
	return "noise"
}

func (c *noiseChannel) Handshake(ctx context.Context, conn net.Conn, role Role) (net.Conn, error) {
	span := common.StartSpan("handshake", handshakeLabel(c.GetName(), role))

	secured, err := c.handshake(ctx, conn, role)
	if err != nil {
		span.End(err)
		Logger.Debugf("noise handshake with %s failed: %v", conn.RemoteAddr(), err)
		return nil, err
	}
	span.End(nil)
	Logger.Debugf("noise handshake with %s done (%s)", conn.RemoteAddr(), role)
	return secured, nil
}

func (c *noiseChannel) handshake(ctx context.Context, conn net.Conn, role Role) (_ net.Conn, err error) {
	stop := watchContext(ctx, conn)
	defer func() {
		if stopErr := stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}()

	fail := func(kind HandshakeErrorKind, err error) (net.Conn, error) {
		if isTimeout(err) || ctx.Err() != nil {
			kind = KindTimeout
		} else if isClosedEarly(err) {
			kind = KindProtocolViolation
		}
		return nil, &HandshakeError{Kind: kind, Channel: c.GetName(), Err: err}
	}

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: noiseSuite,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeNN,
		Initiator:   role == RoleInitiator,
		Prologue:    noisePrologue,
	})
	if err != nil {
		return fail(KindProtocolViolation, err)
	}

	// NN: -> e
	//     <- e, ee
	var send, recv *noise.CipherState
	if role == RoleInitiator {
		msg, _, _, err := hs.WriteMessage(nil, nil)
		if err != nil {
			return fail(KindProtocolViolation, err)
		}
		if err := writeNoiseMessage(conn, msg); err != nil {
			return fail(KindProtocolViolation, err)
		}
		in, err := readNoiseMessage(conn)
		if err != nil {
			return fail(KindProtocolViolation, err)
		}
		_, cs1, cs2, err := hs.ReadMessage(nil, in)
		if err != nil {
			return fail(KindProtocolViolation, err)
		}
		send, recv = cs1, cs2
	} else {
		in, err := readNoiseMessage(conn)
		if err != nil {
			return fail(KindProtocolViolation, err)
		}
		if _, _, _, err := hs.ReadMessage(nil, in); err != nil {
			return fail(KindProtocolViolation, err)
		}
		msg, cs1, cs2, err := hs.WriteMessage(nil, nil)
		if err != nil {
			return fail(KindProtocolViolation, err)
		}
		if err := writeNoiseMessage(conn, msg); err != nil {
			return fail(KindProtocolViolation, err)
		}
		send, recv = cs2, cs1
	}
	if send == nil || recv == nil {
		return fail(KindProtocolViolation, fmt.Errorf("handshake did not complete"))
	}

	return &noiseConn{Conn: conn, send: send, recv: recv}, nil
}

// watchContext interrupts blocking i/o on conn when ctx is done. The returned
// stop function clears the deadline again and reports a context error if the
// context won the race.
func watchContext(ctx context.Context, conn net.Conn) func() error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	done := make(chan struct{})
	exited := make(chan bool, 1)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetDeadline(time.Unix(1, 0))
			exited <- true
		case <-done:
			exited <- false
		}
	}()
	return func() error {
		close(done)
		if <-exited {
			return &HandshakeError{Kind: KindTimeout, Channel: "noise", Err: ctx.Err()}
		}
		if err := conn.SetDeadline(time.Time{}); err != nil {
			return &HandshakeError{Kind: KindProtocolViolation, Channel: "noise", Err: err}
		}
		return nil
	}
}

// writeNoiseMessage writes one message with a 2 byte big endian length prefix
func writeNoiseMessage(w io.Writer, msg []byte) error {
	if len(msg) > noiseMaxMessage {
		return fmt.Errorf("noise message of %d bytes exceeds %d bytes", len(msg), noiseMaxMessage)
	}
	buf := make([]byte, 2+len(msg))
	binary.BigEndian.PutUint16(buf, uint16(len(msg)))
	copy(buf[2:], msg)
	_, err := w.Write(buf)
	return err
}

// readNoiseMessage reads one length prefixed message
func readNoiseMessage(r io.Reader) ([]byte, error) {
	var head [2]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	msg := make([]byte, binary.BigEndian.Uint16(head[:]))
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// --------------------------------------------------------------------------
// Transport phase
// --------------------------------------------------------------------------

// noiseConn encrypts every write as a sequence of length prefixed noise
// transport messages and decrypts whole messages on read. Leftover plaintext
// of a message is buffered for the next Read.
type noiseConn struct {
	net.Conn

	wMu  sync.Mutex
	send *noise.CipherState
	wBuf []byte

	rMu     sync.Mutex
	recv    *noise.CipherState
	rHead   [2]byte
	rCipher []byte
	rPlain  []byte // decrypted but not yet returned
	rBuf    []byte // backing array of rPlain
}

func (c *noiseConn) Write(p []byte) (int, error) {
	c.wMu.Lock()
	defer c.wMu.Unlock()

	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > noiseMaxPayload {
			chunk = chunk[:noiseMaxPayload]
		}

		out, err := c.send.Encrypt(append(c.wBuf[:0], 0, 0), nil, chunk)
		if err != nil {
			return written, err
		}
		binary.BigEndian.PutUint16(out[:2], uint16(len(out)-2))
		if _, err := c.Conn.Write(out); err != nil {
			return written, err
		}
		c.wBuf = out[:0]

		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}

func (c *noiseConn) Read(p []byte) (int, error) {
	c.rMu.Lock()
	defer c.rMu.Unlock()

	if len(c.rPlain) == 0 {
		if _, err := io.ReadFull(c.Conn, c.rHead[:]); err != nil {
			return 0, err
		}
		n := int(binary.BigEndian.Uint16(c.rHead[:]))
		if cap(c.rCipher) < n {
			c.rCipher = make([]byte, n)
		}
		c.rCipher = c.rCipher[:n]
		if _, err := io.ReadFull(c.Conn, c.rCipher); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}

		plain, err := c.recv.Decrypt(c.rBuf[:0], nil, c.rCipher)
		if err != nil {
			return 0, fmt.Errorf("noise decrypt failed: %w", err)
		}
		c.rBuf = plain[:0]
		c.rPlain = plain
	}

	n := copy(p, c.rPlain)
	c.rPlain = c.rPlain[n:]
	return n, nil
}
