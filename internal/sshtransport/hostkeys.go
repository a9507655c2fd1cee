package sshtransport

import (
	"fmt"
	"log"
	"sync"

	"golang.org/x/crypto/ssh"
)

// HostKeyPolicy controls how unknown hosts are treated during verification.
type HostKeyPolicy string

const (
	// PolicyAcceptNew records the fingerprint of a host seen for the first
	// time and rejects any different key on later connections.
	PolicyAcceptNew HostKeyPolicy = "accept-new"
	// PolicyStrict rejects hosts with no recorded fingerprint.
	PolicyStrict HostKeyPolicy = "strict"
)

// HostKeyStore persists host key fingerprints. Fingerprints are SHA256 in the
// OpenSSH "SHA256:..." form produced by ssh.FingerprintSHA256.
type HostKeyStore interface {
	// Lookup returns the recorded fingerprint for host:port and key type.
	// ok is false when no fingerprint is recorded.
	Lookup(host string, port int, keyType string) (fingerprint string, ok bool, err error)
	// Record stores the fingerprint for host:port and key type.
	Record(host string, port int, keyType, fingerprint string) error
}

// MemoryHostKeyStore is an in-memory HostKeyStore. It backs transports that
// have no persistence (and the test suite); production wiring uses the
// database-backed store.
type MemoryHostKeyStore struct {
	mu   sync.Mutex
	keys map[string]string
}

// NewMemoryHostKeyStore creates an empty in-memory host key store.
func NewMemoryHostKeyStore() *MemoryHostKeyStore {
	return &MemoryHostKeyStore{keys: make(map[string]string)}
}

func hostKeyID(host string, port int, keyType string) string {
	return fmt.Sprintf("%s:%d/%s", host, port, keyType)
}

func (s *MemoryHostKeyStore) Lookup(host string, port int, keyType string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.keys[hostKeyID(host, port, keyType)]
	return fp, ok, nil
}

func (s *MemoryHostKeyStore) Record(host string, port int, keyType, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[hostKeyID(host, port, keyType)] = fingerprint
	return nil
}

// verifyHostKey checks a presented key against the store under the policy.
// Shared by the transport's HostKeyCallback.
func verifyHostKey(store HostKeyStore, policy HostKeyPolicy, host string, port int, key ssh.PublicKey) error {
	presented := ssh.FingerprintSHA256(key)
	keyType := key.Type()

	recorded, ok, err := store.Lookup(host, port, keyType)
	if err != nil {
		return fmt.Errorf("%w: lookup %s:%d: %v", ErrHostKeyMismatch, host, port, err)
	}

	if !ok {
		if policy == PolicyStrict {
			return fmt.Errorf("%w: no recorded key for %s:%d (%s) under strict policy",
				ErrHostKeyMismatch, host, port, keyType)
		}
		if err := store.Record(host, port, keyType, presented); err != nil {
			return fmt.Errorf("%w: record %s:%d: %v", ErrHostKeyMismatch, host, port, err)
		}
		log.Printf("[hostkeys] recorded new key for %s:%d (%s %s)", host, port, keyType, presented)
		return nil
	}

	if recorded != presented {
		return fmt.Errorf("%w: %s:%d presented %s, recorded %s",
			ErrHostKeyMismatch, host, port, presented, recorded)
	}
	return nil
}
