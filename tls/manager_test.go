package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func init() {
	SetLogger(nil)
}

// fakeIssuer writes placeholder files and a real self-signed CA.
type fakeIssuer struct {
	caFile     string
	installs   int
	issued     [][]string
	installErr error
}

func (f *fakeIssuer) Install() error {
	f.installs++
	if f.installErr != nil {
		return f.installErr
	}
	if err := os.MkdirAll(filepath.Dir(f.caFile), 0700); err != nil {
		return err
	}
	return os.WriteFile(f.caFile, selfSigned(), 0600)
}

func (f *fakeIssuer) MakeCert(hosts []string, dir string) (string, string, error) {
	f.issued = append(f.issued, hosts)
	cert := filepath.Join(dir, hosts[0]+".pem")
	key := filepath.Join(dir, hosts[0]+"-key.pem")
	if err := os.WriteFile(cert, []byte("cert"), 0600); err != nil {
		return "", "", err
	}
	return cert, key, os.WriteFile(key, []byte("key"), 0600)
}

func selfSigned() []byte {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "seatlink test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		panic(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func newTestManager(t *testing.T, hosts ...string) (*Manager, *fakeIssuer) {
	t.Helper()
	dir := t.TempDir()
	issuer := &fakeIssuer{caFile: filepath.Join(dir, "ca", "rootCA.pem")}
	m := newManager(dir, issuer)
	m.hosts = func() ([]string, error) { return hosts, nil }
	return m, issuer
}

func TestNewManagerLayout(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	if want := filepath.Join(dir, "tls", "server.crt"); m.certFile != want {
		t.Errorf("certFile = %q, want %q", m.certFile, want)
	}
	if want := filepath.Join(dir, "tls", "server.key"); m.keyFile != want {
		t.Errorf("keyFile = %q, want %q", m.keyFile, want)
	}
	ts, ok := m.issuer.(Truststore)
	if !ok {
		t.Fatalf("issuer = %T, want Truststore", m.issuer)
	}
	if want := filepath.Join(dir, "ca"); ts.CARoot != want {
		t.Errorf("CARoot = %q, want %q", ts.CARoot, want)
	}
}

func TestEnsureIssuesOnce(t *testing.T) {
	m, issuer := newTestManager(t, "localhost", "127.0.0.1", "192.168.1.20")

	cert, key, err := m.Ensure()
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if cert != m.certFile || key != m.keyFile {
		t.Errorf("Ensure() = %q, %q, want %q, %q", cert, key, m.certFile, m.keyFile)
	}
	if data, _ := os.ReadFile(cert); string(data) != "cert" {
		t.Errorf("certificate content = %q, want %q", data, "cert")
	}

	// Same addresses in another order reuse the pair.
	m.hosts = func() ([]string, error) { return []string{"192.168.1.20", "localhost", "127.0.0.1"}, nil }
	if _, _, err := m.Ensure(); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if len(issuer.issued) != 1 {
		t.Errorf("issued %d certificates, want 1", len(issuer.issued))
	}

	// A new venue network reissues.
	m.hosts = func() ([]string, error) { return []string{"localhost", "127.0.0.1", "10.0.0.4"}, nil }
	if _, _, err := m.Ensure(); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if len(issuer.issued) != 2 {
		t.Errorf("issued %d certificates, want 2", len(issuer.issued))
	}
}

func TestEnsureFallsBackToLocalhost(t *testing.T) {
	m, issuer := newTestManager(t)
	m.hosts = func() ([]string, error) { return nil, errors.New("no interfaces") }

	if _, _, err := m.Ensure(); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if got := strings.Join(issuer.issued[0], ","); got != "localhost,127.0.0.1" {
		t.Errorf("issued for %q, want %q", got, "localhost,127.0.0.1")
	}
}

func TestEnsureInstallError(t *testing.T) {
	m, issuer := newTestManager(t, "localhost")
	issuer.installErr = errors.New("keychain locked")

	_, _, err := m.Ensure()
	if err == nil || !strings.Contains(err.Error(), "keychain locked") {
		t.Fatalf("Ensure() error = %v, want install failure", err)
	}
	if m.certsExist() {
		t.Error("certsExist() = true after failed install")
	}
}

func TestCAFingerprint(t *testing.T) {
	m, _ := newTestManager(t, "localhost")
	if _, err := m.CACert(); err == nil {
		t.Error("CACert() before Ensure succeeded, want error")
	}
	if _, _, err := m.Ensure(); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	fp, err := m.CAFingerprint()
	if err != nil {
		t.Fatalf("CAFingerprint() error = %v", err)
	}
	if parts := strings.Split(fp, ":"); len(parts) != 32 {
		t.Errorf("fingerprint has %d bytes, want 32: %s", len(parts), fp)
	}

	if _, err := Fingerprint([]byte("not pem")); err == nil {
		t.Error("Fingerprint(garbage) succeeded, want error")
	}
}

func TestSameHosts(t *testing.T) {
	tests := []struct {
		a, b []string
		want bool
	}{
		{[]string{"localhost", "127.0.0.1"}, []string{"127.0.0.1", "localhost"}, true},
		{[]string{"localhost"}, []string{"localhost", "127.0.0.1"}, false},
		{nil, []string{"localhost"}, false},
		{[]string{"localhost", "10.0.0.1"}, []string{"localhost", "10.0.0.2"}, false},
	}
	for _, tt := range tests {
		if got := sameHosts(tt.a, tt.b); got != tt.want {
			t.Errorf("sameHosts(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestHostsIncludesLocalhost(t *testing.T) {
	hosts, _ := Hosts()
	if len(hosts) < 2 || hosts[0] != "localhost" || hosts[1] != "127.0.0.1" {
		t.Errorf("Hosts() = %v, want localhost and 127.0.0.1 first", hosts)
	}
}
