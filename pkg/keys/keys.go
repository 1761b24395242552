// Package keys holds the RSA keypair used to sign SSO tokens and publishes
// the public half for spokes.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithm is the JWS algorithm used with these keys
const Algorithm = "RS256"

// ErrNotConfigured is returned when no signing key material is available
var ErrNotConfigured = errors.New("signing keys not configured")

// Source describes where key material comes from. PEM text takes priority
// over files; both are optional.
type Source struct {
	PrivateKeyPEM  string
	PublicKeyPEM   string
	PrivateKeyFile string
	PublicKeyFile  string
	KeyID          string
}

// KeyStore holds a loaded RSA keypair
type KeyStore struct {
	private   *rsa.PrivateKey
	public    *rsa.PublicKey
	keyID     string
	publicPEM string
}

// Load builds a KeyStore from src. When only a private key is given the
// public key is derived from it. A mismatched pair is rejected.
func Load(src Source) (*KeyStore, error) {
	privPEM, err := readPEM(src.PrivateKeyPEM, src.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	pubPEM, err := readPEM(src.PublicKeyPEM, src.PublicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	if privPEM == "" {
		return nil, ErrNotConfigured
	}

	priv, err := ParsePrivateKey([]byte(privPEM))
	if err != nil {
		return nil, err
	}

	pub := &priv.PublicKey
	if pubPEM != "" {
		parsed, err := ParsePublicKey([]byte(pubPEM))
		if err != nil {
			return nil, err
		}
		if !parsed.Equal(pub) {
			return nil, errors.New("public key does not match private key")
		}
	}

	return New(priv, src.KeyID)
}

// New wraps an existing private key
func New(priv *rsa.PrivateKey, keyID string) (*KeyStore, error) {
	if priv == nil {
		return nil, ErrNotConfigured
	}
	if keyID == "" {
		return nil, errors.New("key id is required")
	}
	pubPEM, err := EncodePublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyStore{
		private:   priv,
		public:    &priv.PublicKey,
		keyID:     keyID,
		publicPEM: string(pubPEM),
	}, nil
}

// PrivateKey returns the signing key
func (k *KeyStore) PrivateKey() *rsa.PrivateKey { return k.private }

// PublicKey returns the verification key
func (k *KeyStore) PublicKey() *rsa.PublicKey { return k.public }

// KeyID returns the kid placed in token headers
func (k *KeyStore) KeyID() string { return k.keyID }

// PublicKeyPEM returns the PKIX PEM encoding of the public key
func (k *KeyStore) PublicKeyPEM() string { return k.publicPEM }

// Algorithm returns the JWS algorithm name
func (k *KeyStore) Algorithm() string { return Algorithm }

// Generate creates a new keypair and returns PKCS#8 private and PKIX public PEM
func Generate(bits int) (privatePEM, publicPEM []byte, err error) {
	if bits < 2048 {
		return nil, nil, fmt.Errorf("key size %d is too small, use at least 2048 bits", bits)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode private key: %w", err)
	}
	privatePEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	publicPEM, err = EncodePublicKey(&priv.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	return privatePEM, publicPEM, nil
}

// EncodePublicKey encodes a public key as PKIX PEM
func EncodePublicKey(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePrivateKey accepts PKCS#1 or PKCS#8 RSA private keys
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// ParsePublicKey accepts PKIX or PKCS#1 RSA public keys and certificates
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return key, nil
}

// readPEM returns inline PEM (with literal "\n" sequences expanded, as
// env vars often carry them) or the contents of file
func readPEM(inline, file string) (string, error) {
	if inline != "" {
		return strings.ReplaceAll(inline, `\n`, "\n"), nil
	}
	if file == "" {
		return "", nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", file, err)
	}
	return string(data), nil
}
