package signing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// Signer produces the detached manifest signature: SHA256 with RSA over the
// inner archive bytes.
type Signer struct {
	key *rsa.PrivateKey
}

func NewSigner(key *rsa.PrivateKey) *Signer {
	return &Signer{key: key}
}

// NewSignerFromFile loads a PEM-encoded RSA private key.
func NewSignerFromFile(path string) (*Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key %s: %w", path, err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return NewSigner(key), nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key %s: %w", path, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key %s is not RSA", path)
	}
	return NewSigner(key), nil
}

// Sign returns the detached signature over payload.
func (s *Signer) Sign(payload []byte) ([]byte, error) {
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}
	return sig, nil
}

// PublicKey returns the verification half of the signing key.
func (s *Signer) PublicKey() *rsa.PublicKey {
	return &s.key.PublicKey
}

// VerificationPolicy decides whether a manifest signature is acceptable.
// Strict verification depends on upstream certificate provisioning, so the
// policy is pluggable and the default accepts everything.
type VerificationPolicy interface {
	Verify(payload, signature []byte) error
}

// AlwaysPass accepts any signature, including a missing one.
type AlwaysPass struct{}

func (AlwaysPass) Verify(payload, signature []byte) error {
	return nil
}

// RSAVerifier checks the detached signature against a known public key.
type RSAVerifier struct {
	key *rsa.PublicKey
}

func NewRSAVerifier(key *rsa.PublicKey) *RSAVerifier {
	return &RSAVerifier{key: key}
}

// NewRSAVerifierFromFile loads a PEM-encoded public key (PKIX or PKCS1).
func NewRSAVerifierFromFile(path string) (*RSAVerifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key %s: %w", path, err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return NewRSAVerifier(key), nil
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key %s: %w", path, err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key %s is not RSA", path)
	}
	return NewRSAVerifier(key), nil
}

func (v *RSAVerifier) Verify(payload, signature []byte) error {
	digest := sha256.Sum256(payload)
	if err := rsa.VerifyPKCS1v15(v.key, crypto.SHA256, digest[:], signature); err != nil {
		return fmt.Errorf("manifest signature verification failed: %w", err)
	}
	return nil
}
