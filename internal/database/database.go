package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gluk-w/sshdeck/internal/config"
)

var DB *gorm.DB

func Init() error {
	dbPath := config.Cfg.DatabasePath
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(&Host{}, &KnownHostKey{}, &SessionAudit{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// Host helpers

func CreateHost(h *Host) error {
	return DB.Create(h).Error
}

func GetHost(id string) (*Host, error) {
	var h Host
	if err := DB.Where("id = ?", id).First(&h).Error; err != nil {
		return nil, err
	}
	return &h, nil
}

func ListHosts() ([]Host, error) {
	var hosts []Host
	if err := DB.Order("name").Find(&hosts).Error; err != nil {
		return nil, err
	}
	return hosts, nil
}

func UpdateHost(h *Host) error {
	return DB.Save(h).Error
}

func DeleteHost(id string) error {
	return DB.Where("id = ?", id).Delete(&Host{}).Error
}

// Known host key helpers

func ListKnownHostKeys() ([]KnownHostKey, error) {
	var keys []KnownHostKey
	if err := DB.Order("host, port, key_type").Find(&keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func DeleteKnownHostKey(host string, port int, keyType string) error {
	return DB.Where("host = ? AND port = ? AND key_type = ?", host, port, keyType).
		Delete(&KnownHostKey{}).Error
}

// Session audit helpers

func RecordSessionStart(sessionID, hostName, address string) error {
	return DB.Create(&SessionAudit{
		SessionID: sessionID,
		HostName:  hostName,
		Address:   address,
	}).Error
}

func RecordSessionEnd(sessionID string) error {
	now := time.Now()
	return DB.Model(&SessionAudit{}).
		Where("session_id = ? AND ended_at IS NULL", sessionID).
		Update("ended_at", &now).Error
}

func ListSessionAudits(limit int) ([]SessionAudit, error) {
	var audits []SessionAudit
	q := DB.Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&audits).Error; err != nil {
		return nil, err
	}
	return audits, nil
}
