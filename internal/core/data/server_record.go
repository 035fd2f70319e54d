package data

import "gorm.io/gorm"

// ServerRecord describes one managed server owned by an account. Running is
// the persisted should-run flag; on startup the supervisor resumes any server
// whose record says it was running.
type ServerRecord struct {
	ID        uint64 `gorm:"primaryKey"`
	AccountID uint64 `gorm:"uniqueIndex:idx_account_server; not null"`
	// Name is unique within one account's server set, enforced by the
	// composite index; the controller keys its supervisor table on it.
	Name    string `gorm:"uniqueIndex:idx_account_server; not null"`
	Path    string `gorm:"not null"`
	Running bool   `gorm:"default:false"`
}

// FindServers returns every server record owned by the account.
func FindServers(db *gorm.DB, accountID uint64) ([]ServerRecord, error) {
	var servers []ServerRecord
	if err := db.Where("account_id = ?", accountID).Find(&servers).Error; err != nil {
		return nil, err
	}
	return servers, nil
}

// CreateServer persists a new server record.
func CreateServer(db *gorm.DB, server *ServerRecord) error {
	return db.Create(server).Error
}

// SetServerRunning persists the should-run flag for a server record.
func SetServerRunning(db *gorm.DB, id uint64, running bool) error {
	return db.Model(&ServerRecord{}).Where("id = ?", id).Update("running", running).Error
}
