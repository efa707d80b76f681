// Package signer signs patched archives with the JAR scheme (v1) and the
// APK Signing Block (v2) using one long-lived signing identity.
package signer

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/pithecene-io/modpatch/iox"
)

// Identity parameters for generated keys.
const (
	KeyBits        = 2048
	CertValidity   = 30 * 365 * 24 * time.Hour
	DefaultSubject = "modpatch"
)

// Identity is a private key and its self-signed certificate.
type Identity struct {
	Key         *rsa.PrivateKey
	Certificate *x509.Certificate
}

// NewIdentity generates a key pair and a self-signed certificate.
func NewIdentity(commonName string) (*Identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 63))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now,
		NotAfter:              now.Add(CertValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &Identity{Key: key, Certificate: cert}, nil
}

// Fingerprint returns the hex SHA-256 of the certificate.
func (id *Identity) Fingerprint() string {
	sum := sha256.Sum256(id.Certificate.Raw)
	return hex.EncodeToString(sum[:])
}

// KeyStore is a PKCS#12 file holding one identity.
type KeyStore struct {
	Path     string
	Password string
	// Subject is the common name used when a new identity is generated.
	Subject string
}

// Load reads the identity from the keystore file.
func (ks KeyStore) Load() (*Identity, error) {
	b, err := os.ReadFile(ks.Path)
	if err != nil {
		return nil, err
	}
	key, cert, _, err := pkcs12.DecodeChain(b, ks.Password)
	if err != nil {
		return nil, fmt.Errorf("keystore %s: %w", ks.Path, err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keystore %s: unsupported key type %T", ks.Path, key)
	}
	return &Identity{Key: rsaKey, Certificate: cert}, nil
}

// Save writes id to the keystore file with owner-only permissions.
func (ks KeyStore) Save(id *Identity) error {
	pfx, err := pkcs12.Modern.Encode(id.Key, id.Certificate, nil, ks.Password)
	if err != nil {
		return fmt.Errorf("encode keystore: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(ks.Path), 0o700); err != nil {
		return err
	}
	return iox.WriteFile(ks.Path, pfx, 0o600)
}

// LoadOrCreate loads the identity, generating and saving one when the file
// does not exist. created reports whether a new identity was generated.
func (ks KeyStore) LoadOrCreate() (id *Identity, created bool, err error) {
	id, err = ks.Load()
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	subject := ks.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	if id, err = NewIdentity(subject); err != nil {
		return nil, false, err
	}
	if err := ks.Save(id); err != nil {
		return nil, false, fmt.Errorf("save keystore %s: %w", ks.Path, err)
	}
	return id, true, nil
}

// LazyIdentity loads or creates the keystore identity on first use. It is
// safe for concurrent use; every caller sees the same identity or error.
type LazyIdentity struct {
	store   KeyStore
	once    sync.Once
	id      *Identity
	created bool
	err     error
}

// NewLazyIdentity returns a LazyIdentity backed by ks.
func NewLazyIdentity(ks KeyStore) *LazyIdentity {
	return &LazyIdentity{store: ks}
}

// Get returns the identity, loading it on the first call.
func (l *LazyIdentity) Get() (*Identity, error) {
	l.once.Do(func() {
		l.id, l.created, l.err = l.store.LoadOrCreate()
	})
	return l.id, l.err
}

// Created reports whether Get generated a new identity.
func (l *LazyIdentity) Created() bool {
	_, _ = l.Get()
	return l.created
}
