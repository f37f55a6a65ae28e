package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"shiporacle/attestation"

	"golang.org/x/crypto/blake2b"
)

// ed25519Flag is the signature scheme byte mixed into address derivation.
const ed25519Flag byte = 0x00

// Signer holds the oracle's Ed25519 key pair. All fields are set once by the
// constructor and only read afterwards, so a Signer is safe for concurrent use.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	address    string
}

// New builds a Signer from a 32-byte seed or a 64-byte private key.
func New(key []byte) (*Signer, error) {
	var priv ed25519.PrivateKey
	switch len(key) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(key)
	case ed25519.PrivateKeySize:
		priv = ed25519.NewKeyFromSeed(key[:ed25519.SeedSize])
		if !priv.Equal(ed25519.PrivateKey(key)) {
			return nil, unavailable("private key does not match its embedded public key", nil)
		}
	default:
		return nil, unavailable(fmt.Sprintf("expected %d-byte seed or %d-byte private key, got %d bytes",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(key)), nil)
	}

	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{
		privateKey: priv,
		publicKey:  pub,
		address:    AddressOf(pub),
	}, nil
}

// FromHex parses hex key material ("0x" prefix and surrounding whitespace allowed).
func FromHex(keyHex string) (*Signer, error) {
	keyHex = strings.TrimSpace(keyHex)
	keyHex = strings.TrimPrefix(keyHex, "0x")
	if keyHex == "" {
		return nil, unavailable("key material is empty", nil)
	}
	data, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, unavailable("key material is not valid hex", err)
	}
	return New(data)
}

// Generate creates a fresh key pair and returns the seed and public key as hex.
func Generate() (seedHex, publicKeyHex string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ed25519 key: %w", err)
	}
	return hex.EncodeToString(priv.Seed()), hex.EncodeToString(pub), nil
}

// Sign signs msg with the oracle key.
func (s *Signer) Sign(msg []byte) ([]byte, error) {
	if s == nil || len(s.privateKey) != ed25519.PrivateKeySize {
		return nil, unavailable("signer is not initialized", nil)
	}
	return ed25519.Sign(s.privateKey, msg), nil
}

// Verify checks sig over msg against the signer's own public key.
func (s *Signer) Verify(msg, sig []byte) bool {
	if s == nil {
		return false
	}
	return Verify(msg, sig, s.publicKey)
}

// PublicKey returns a copy of the public key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return append(ed25519.PublicKey(nil), s.publicKey...)
}

// PublicKeyHex returns the public key hex-encoded.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.publicKey)
}

// Address returns the ledger address derived from the public key.
func (s *Signer) Address() string {
	return s.address
}

// Verify reports whether sig is a valid signature of msg by pub. It has no side effects.
func Verify(msg, sig []byte, pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// AddressOf derives the ledger address of an Ed25519 public key:
// 0x || hex(blake2b-256(flag || pub)).
func AddressOf(pub ed25519.PublicKey) string {
	h := blake2b.Sum256(append([]byte{ed25519Flag}, pub...))
	return "0x" + hex.EncodeToString(h[:])
}

func unavailable(msg string, cause error) error {
	return attestation.WrapError(attestation.KindSigningUnavailable, attestation.StageSigning, msg, cause)
}
