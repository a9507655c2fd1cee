package database

import "time"

// Host is a saved SSH destination. Credentials themselves are never
// persisted: passwords and passphrases are supplied per connect, and
// private keys stay on disk at KeyPath.
type Host struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	Address   string    `gorm:"not null" json:"address"`
	Port      int       `gorm:"not null;default:22" json:"port"`
	Username  string    `gorm:"not null" json:"username"`
	AuthType  string    `gorm:"not null;default:password" json:"auth_type"` // password | private_key | agent
	KeyPath   string    `json:"key_path"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// KnownHostKey pins one host key fingerprint per (host, port, key type).
type KnownHostKey struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Host        string    `gorm:"not null;uniqueIndex:idx_known_host" json:"host"`
	Port        int       `gorm:"not null;uniqueIndex:idx_known_host" json:"port"`
	KeyType     string    `gorm:"not null;uniqueIndex:idx_known_host" json:"key_type"`
	Fingerprint string    `gorm:"not null" json:"fingerprint"` // SHA256:... OpenSSH format
	FirstSeen   time.Time `gorm:"autoCreateTime" json:"first_seen"`
}

// SessionAudit is one row per terminal session lifetime.
type SessionAudit struct {
	ID        uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string     `gorm:"not null;index;size:36" json:"session_id"`
	HostName  string     `json:"host_name"`
	Address   string     `json:"address"`
	StartedAt time.Time  `gorm:"autoCreateTime" json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}
