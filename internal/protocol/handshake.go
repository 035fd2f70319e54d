package protocol

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
)

// handshakeSize is the RSA-2048 ciphertext length. The encrypted key block is
// the very first thing on the wire, unframed.
const handshakeSize = 256

// Accept performs the host side of the key exchange: it reads the fixed-size
// RSA block the client sent, decrypts it with the host's private key, and
// returns a Conn keyed with the recovered symmetric key.
func Accept(rw io.ReadWriter, key *rsa.PrivateKey) (*Conn, error) {
	block := make([]byte, handshakeSize)
	if _, err := io.ReadFull(rw, block); err != nil {
		return nil, fmt.Errorf("reading key exchange block: %w", err)
	}

	symKey, err := rsa.DecryptPKCS1v15(nil, key, block)
	if err != nil {
		return nil, fmt.Errorf("decrypting key exchange block: %w", err)
	}
	if len(symKey) != KeySize {
		return nil, fmt.Errorf("key exchange produced a %d-byte key, want %d", len(symKey), KeySize)
	}

	return NewConn(rw, symKey)
}

// Connect performs the client side of the key exchange: it generates a random
// symmetric key, encrypts it with the host's public key, and writes the
// resulting block as the first bytes on the connection.
func Connect(rw io.ReadWriter, pub *rsa.PublicKey) (*Conn, error) {
	symKey := make([]byte, KeySize)
	if _, err := rand.Read(symKey); err != nil {
		return nil, fmt.Errorf("generating symmetric key: %w", err)
	}

	block, err := rsa.EncryptPKCS1v15(rand.Reader, pub, symKey)
	if err != nil {
		return nil, fmt.Errorf("encrypting symmetric key: %w", err)
	}
	if len(block) != handshakeSize {
		return nil, fmt.Errorf("host key produced a %d-byte exchange block, want %d (expected RSA-2048)",
			len(block), handshakeSize)
	}

	if _, err := rw.Write(block); err != nil {
		return nil, fmt.Errorf("writing key exchange block: %w", err)
	}

	return NewConn(rw, symKey)
}

// LoadPrivateKey reads an RSA private key from a PEM file. Both PKCS#1 and
// PKCS#8 encodings are accepted.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found in private key file")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key file does not contain an RSA key")
	}
	return key, nil
}

// LoadPublicKey reads an RSA public key from a PEM file.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading public key file: %w", err)
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found in public key file")
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key file does not contain an RSA key")
	}
	return key, nil
}
