package certs

import (
	"crypto/sha256"
	"crypto/x509"
	"net"
	"slices"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	t.Parallel()
	cert, err := Generate(24*time.Hour, "10.1.2.3", "relay.example")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(cert.TLSCert.Certificate) == 0 {
		t.Fatal("no certificate data")
	}
	x509Cert, err := x509.ParseCertificate(cert.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse cert: %v", err)
	}

	validity := x509Cert.NotAfter.Sub(x509Cert.NotBefore)
	if validity != 24*time.Hour {
		t.Errorf("validity: got %v, want 24h", validity)
	}
	if x509Cert.NotAfter.Before(time.Now()) {
		t.Error("cert is already expired")
	}

	if cert.Fingerprint != sha256.Sum256(cert.TLSCert.Certificate[0]) {
		t.Error("fingerprint mismatch")
	}
	if cert.FingerprintBase64() == "" {
		t.Error("FingerprintBase64 returned empty string")
	}

	if !slices.Contains(x509Cert.DNSNames, "localhost") || !slices.Contains(x509Cert.DNSNames, "relay.example") {
		t.Errorf("DNS names: got %v", x509Cert.DNSNames)
	}
	want := net.ParseIP("10.1.2.3")
	if !slices.ContainsFunc(x509Cert.IPAddresses, want.Equal) {
		t.Errorf("IP addresses: got %v, want %v included", x509Cert.IPAddresses, want)
	}
}

func TestGenerateDefaultValidity(t *testing.T) {
	t.Parallel()
	cert, err := Generate(0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	x509Cert, err := x509.ParseCertificate(cert.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse cert: %v", err)
	}
	if got := x509Cert.NotAfter.Sub(x509Cert.NotBefore); got != DefaultValidity {
		t.Errorf("validity: got %v, want %v", got, DefaultValidity)
	}
}
