// Package tls keeps the local CA and the HTTPS certificate that lets phone
// browsers reach the agent from a secure context.
package tls

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jittering/truststore"
)

// Logf receives certificate diagnostics. Replace with SetLogger.
var Logf = log.Printf

// SetLogger replaces Logf; nil silences it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Issuer installs the local CA and signs leaf certificates with it.
type Issuer interface {
	Install() error
	MakeCert(hosts []string, dir string) (certFile, keyFile string, err error)
}

// Truststore issues certificates from a CA kept in CAROOT, installing the CA
// into the system trust store on first use.
type Truststore struct {
	CARoot string
}

func (t Truststore) prepare() error {
	if err := os.MkdirAll(t.CARoot, 0700); err != nil {
		return fmt.Errorf("failed to create CA directory: %w", err)
	}
	return os.Setenv("CAROOT", t.CARoot)
}

// Install adds the local CA to the system trust store.
func (t Truststore) Install() error {
	if err := t.prepare(); err != nil {
		return err
	}
	ml, err := truststore.NewLib()
	if err != nil {
		return fmt.Errorf("failed to initialize truststore: %w", err)
	}
	return ml.Install()
}

// MakeCert issues a certificate for hosts signed by the local CA and returns
// the cert and key paths.
func (t Truststore) MakeCert(hosts []string, dir string) (string, string, error) {
	if err := t.prepare(); err != nil {
		return "", "", err
	}
	ml, err := truststore.NewLib()
	if err != nil {
		return "", "", fmt.Errorf("failed to initialize truststore: %w", err)
	}
	cert, err := ml.MakeCert(hosts, dir)
	if err != nil {
		return "", "", err
	}
	return cert.CertFile, cert.KeyFile, nil
}

// Manager owns the certificate directory under the agent's data directory.
type Manager struct {
	issuer     Issuer
	tlsDir     string
	caCertFile string
	certFile   string
	keyFile    string
	hostsFile  string
	hosts      func() ([]string, error)
}

// NewManager keeps the CA in <dir>/ca and the server pair in <dir>/tls.
func NewManager(dir string) *Manager {
	caDir := filepath.Join(dir, "ca")
	return newManager(dir, Truststore{CARoot: caDir})
}

func newManager(dir string, issuer Issuer) *Manager {
	tlsDir := filepath.Join(dir, "tls")
	return &Manager{
		issuer:     issuer,
		tlsDir:     tlsDir,
		caCertFile: filepath.Join(dir, "ca", "rootCA.pem"),
		certFile:   filepath.Join(tlsDir, "server.crt"),
		keyFile:    filepath.Join(tlsDir, "server.key"),
		hostsFile:  filepath.Join(tlsDir, "hosts.txt"),
		hosts:      Hosts,
	}
}

// Ensure returns a certificate pair valid for every current address of the
// host. The pair is reissued when the address set changes, e.g. after the
// agent moves to another venue network.
func (m *Manager) Ensure() (certFile, keyFile string, err error) {
	if err := os.MkdirAll(m.tlsDir, 0700); err != nil {
		return "", "", fmt.Errorf("failed to create TLS directory: %w", err)
	}

	hosts, err := m.hosts()
	if err != nil {
		Logf("[tls] Listing LAN addresses failed: %v", err)
	}
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}

	switch {
	case !m.certsExist():
		Logf("[tls] No certificate yet, issuing for %v", hosts)
	case !sameHosts(m.cachedHosts(), hosts):
		Logf("[tls] Addresses changed, reissuing for %v", hosts)
	default:
		return m.certFile, m.keyFile, nil
	}

	if err := m.issue(hosts); err != nil {
		return "", "", err
	}
	return m.certFile, m.keyFile, nil
}

func (m *Manager) issue(hosts []string) error {
	Logf("[tls] Installing local CA (the OS may ask for a password)")
	if err := m.issuer.Install(); err != nil {
		return fmt.Errorf("failed to install CA: %w", err)
	}

	cert, key, err := m.issuer.MakeCert(hosts, m.tlsDir)
	if err != nil {
		return fmt.Errorf("failed to generate certificate: %w", err)
	}
	if err := moveFile(cert, m.certFile); err != nil {
		return fmt.Errorf("failed to store certificate: %w", err)
	}
	if err := moveFile(key, m.keyFile); err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}

	data := strings.Join(hosts, "\n") + "\n"
	if err := os.WriteFile(m.hostsFile, []byte(data), 0600); err != nil {
		Logf("[tls] Caching hosts failed: %v", err)
	}
	if fp, err := m.CAFingerprint(); err == nil {
		Logf("[tls] CA fingerprint (SHA256): %s", fp)
	}
	return nil
}

func moveFile(from, to string) error {
	if from == to {
		return nil
	}
	return os.Rename(from, to)
}

func (m *Manager) certsExist() bool {
	_, certErr := os.Stat(m.certFile)
	_, keyErr := os.Stat(m.keyFile)
	return certErr == nil && keyErr == nil
}

func (m *Manager) cachedHosts() []string {
	data, err := os.ReadFile(m.hostsFile)
	if err != nil {
		return nil
	}
	var hosts []string
	for _, line := range strings.Split(string(data), "\n") {
		if h := strings.TrimSpace(line); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// sameHosts compares two host lists ignoring order.
func sameHosts(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// CACert returns the CA certificate in PEM form.
func (m *Manager) CACert() ([]byte, error) {
	data, err := os.ReadFile(m.caCertFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("CA not created yet: %w", err)
	}
	return data, err
}

// CAFingerprint returns the colon separated SHA-256 of the CA certificate.
func (m *Manager) CAFingerprint() (string, error) {
	data, err := m.CACert()
	if err != nil {
		return "", err
	}
	return Fingerprint(data)
}

// Fingerprint returns the colon separated SHA-256 of the first certificate in
// a PEM block.
func Fingerprint(certPEM []byte) (string, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return "", errors.New("no PEM certificate found")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %w", err)
	}
	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}
