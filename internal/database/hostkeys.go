package database

import (
	"errors"

	"gorm.io/gorm"
)

// KnownHostStore persists host key fingerprints in the database. It
// satisfies the sshtransport.HostKeyStore interface.
type KnownHostStore struct{}

func (KnownHostStore) Lookup(host string, port int, keyType string) (string, bool, error) {
	var k KnownHostKey
	err := DB.Where("host = ? AND port = ? AND key_type = ?", host, port, keyType).
		First(&k).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return k.Fingerprint, true, nil
}

func (KnownHostStore) Record(host string, port int, keyType, fingerprint string) error {
	return DB.Create(&KnownHostKey{
		Host:        host,
		Port:        port,
		KeyType:     keyType,
		Fingerprint: fingerprint,
	}).Error
}
