// Package sshkeys manages the local client key pair used for key-based
// authentication: ED25519 generation, on-disk persistence, and parsing of
// PEM-encoded private keys (with or without a passphrase).
package sshkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

const (
	privateKeyFile = "ssh_key"
	publicKeyFile  = "ssh_key.pub"
)

// GenerateKeyPair generates an ED25519 key pair and returns the OpenSSH-format
// public key and the PEM-encoded private key.
func GenerateKeyPair() (publicKey, privateKeyPEM []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal private key: %w", err)
	}

	privateKeyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privBytes,
	})

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("create ssh public key: %w", err)
	}
	publicKey = ssh.MarshalAuthorizedKey(sshPub)

	return publicKey, privateKeyPEM, nil
}

// SaveKeyPair writes the private and public key files to the given directory.
// The private key is written with mode 0600 and the public key with mode 0644.
func SaveKeyPair(dir string, privateKeyPEM, publicKey []byte) error {
	privPath := filepath.Join(dir, privateKeyFile)
	if err := os.WriteFile(privPath, privateKeyPEM, 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}

	pubPath := filepath.Join(dir, publicKeyFile)
	if err := os.WriteFile(pubPath, publicKey, 0644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}

	log.Printf("SSH key pair saved to %s", dir)
	return nil
}

// PrivateKeyPath returns the path of the client private key inside dir.
func PrivateKeyPath(dir string) string {
	return filepath.Join(dir, privateKeyFile)
}

// KeyPairExists checks if both key files exist in the directory.
func KeyPairExists(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, privateKeyFile)); err != nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(dir, publicKeyFile)); err != nil {
		return false
	}
	return true
}

// EnsureKeyPair loads the client key pair from dir, generating and saving a
// fresh one if none exists. It returns a signer for the private key and the
// OpenSSH-format public key.
func EnsureKeyPair(dir string) (ssh.Signer, string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, "", fmt.Errorf("create key directory: %w", err)
	}

	if !KeyPairExists(dir) {
		pub, priv, err := GenerateKeyPair()
		if err != nil {
			return nil, "", err
		}
		if err := SaveKeyPair(dir, priv, pub); err != nil {
			return nil, "", err
		}
		log.Printf("Generated new client SSH key pair in %s", dir)
	}

	privPEM, err := os.ReadFile(filepath.Join(dir, privateKeyFile))
	if err != nil {
		return nil, "", fmt.Errorf("read private key: %w", err)
	}
	signer, err := ParsePrivateKey(privPEM, "")
	if err != nil {
		return nil, "", err
	}

	pub, err := os.ReadFile(filepath.Join(dir, publicKeyFile))
	if err != nil {
		return nil, "", fmt.Errorf("read public key: %w", err)
	}

	return signer, string(pub), nil
}

// ParsePrivateKey parses a PEM-encoded private key into an ssh.Signer.
// A non-empty passphrase selects passphrase-protected decoding.
func ParsePrivateKey(privateKeyPEM []byte, passphrase string) (ssh.Signer, error) {
	var (
		signer ssh.Signer
		err    error
	)
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(privateKeyPEM, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(privateKeyPEM)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}
