// Package testcerts generates a throwaway certificate authority with a server
// and a client certificate, for tests and local tls setups.
package testcerts

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/ValentinKolb/pKV/rpc/common"
)

// Files are the PEM files written by Generate
type Files struct {
	CAFile     string
	ServerCert string
	ServerKey  string
	ClientCert string
	ClientKey  string
}

// ServerConf returns the server side tls config. mutual enables client verification.
func (f Files) ServerConf(mutual bool) common.TLSConf {
	conf := common.TLSConf{CertFile: f.ServerCert, KeyFile: f.ServerKey}
	if mutual {
		conf.CAFile = f.CAFile
	}
	return conf
}

// ClientConf returns the client side tls config. identity adds the client certificate.
func (f Files) ClientConf(identity bool) common.TLSConf {
	conf := common.TLSConf{CAFile: f.CAFile, ServerName: "localhost"}
	if identity {
		conf.CertFile = f.ClientCert
		conf.KeyFile = f.ClientKey
	}
	return conf
}

// Generate writes a CA, a server certificate for localhost/127.0.0.1/::1 and
// a client certificate into dir
func Generate(dir string) (Files, error) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Files{}, err
	}
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "pKV test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		return Files{}, err
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		return Files{}, err
	}

	files := Files{
		CAFile:     filepath.Join(dir, "ca.pem"),
		ServerCert: filepath.Join(dir, "server.pem"),
		ServerKey:  filepath.Join(dir, "server-key.pem"),
		ClientCert: filepath.Join(dir, "client.pem"),
		ClientKey:  filepath.Join(dir, "client-key.pem"),
	}
	if err := writePEM(files.CAFile, "CERTIFICATE", caDER); err != nil {
		return Files{}, err
	}

	leaves := []struct {
		serial   int64
		name     string
		usage    x509.ExtKeyUsage
		certFile string
		keyFile  string
	}{
		{2, "localhost", x509.ExtKeyUsageServerAuth, files.ServerCert, files.ServerKey},
		{3, "pkv-client", x509.ExtKeyUsageClientAuth, files.ClientCert, files.ClientKey},
	}
	for _, leaf := range leaves {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return Files{}, err
		}
		template := &x509.Certificate{
			SerialNumber: big.NewInt(leaf.serial),
			Subject:      pkix.Name{CommonName: leaf.name},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(24 * time.Hour),
			KeyUsage:     x509.KeyUsageDigitalSignature,
			ExtKeyUsage:  []x509.ExtKeyUsage{leaf.usage},
			DNSNames:     []string{leaf.name},
			IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
		}
		der, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
		if err != nil {
			return Files{}, err
		}
		keyDER, err := x509.MarshalECPrivateKey(key)
		if err != nil {
			return Files{}, err
		}
		if err := writePEM(leaf.certFile, "CERTIFICATE", der); err != nil {
			return Files{}, err
		}
		if err := writePEM(leaf.keyFile, "EC PRIVATE KEY", keyDER); err != nil {
			return Files{}, err
		}
	}
	return files, nil
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: der})
}
