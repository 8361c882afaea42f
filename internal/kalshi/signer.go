package kalshi

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Signer produces Kalshi API key signature headers.
type Signer struct {
	keyID string
	key   *rsa.PrivateKey
}

// NewSigner builds a signer from a key ID and an RSA private key given either
// as PEM text or as a path to a PEM file. It returns nil, nil when either
// value is empty, meaning requests go out unsigned.
func NewSigner(keyID, keyRSA string) (*Signer, error) {
	if keyID == "" || keyRSA == "" {
		return nil, nil
	}

	pemText := keyRSA
	if !strings.Contains(keyRSA, "-----BEGIN") {
		data, err := os.ReadFile(keyRSA)
		if err != nil {
			return nil, fmt.Errorf("failed to read RSA key file: %w", err)
		}
		pemText = string(data)
	}

	key, err := parseRSAKey([]byte(pemText))
	if err != nil {
		return nil, err
	}
	return &Signer{keyID: keyID, key: key}, nil
}

func parseRSAKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found in RSA key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSA key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

// Headers signs timestamp + method + path and returns the access headers.
func (s *Signer) Headers(method, path string, now time.Time) (map[string]string, error) {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	digest := sha256.Sum256([]byte(ts + strings.ToUpper(method) + path))
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"KALSHI-ACCESS-KEY":       s.keyID,
		"KALSHI-ACCESS-TIMESTAMP": ts,
		"KALSHI-ACCESS-SIGNATURE": base64.StdEncoding.EncodeToString(sig),
	}, nil
}
