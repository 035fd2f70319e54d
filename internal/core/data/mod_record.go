package data

import (
	"time"

	"gorm.io/gorm"
)

// ModRecord tracks the provenance of a mod archive installed into a server's
// mod directory. Written on install/update and removed on uninstall; purely
// bookkeeping, the filesystem stays the source of truth for what's installed.
type ModRecord struct {
	ID          uint64 `gorm:"primaryKey"`
	AccountID   uint64 `gorm:"index; not null"`
	ServerName  string `gorm:"not null"`
	ModID       string `gorm:"not null"`
	Filename    string `gorm:"not null"`
	InstalledAt time.Time
}

// UpsertModRecord records that a mod archive now lives in a server's mod
// directory, replacing any previous record for the same mod id.
func UpsertModRecord(db *gorm.DB, record *ModRecord) error {
	err := db.Where("account_id = ? AND server_name = ? AND mod_id = ?",
		record.AccountID, record.ServerName, record.ModID).
		Delete(&ModRecord{}).Error
	if err != nil {
		return err
	}
	return db.Create(record).Error
}

// DeleteModRecord removes the provenance record for a mod id.
func DeleteModRecord(db *gorm.DB, accountID uint64, serverName, modID string) error {
	return db.Where("account_id = ? AND server_name = ? AND mod_id = ?",
		accountID, serverName, modID).
		Delete(&ModRecord{}).Error
}

// FindModRecords returns the provenance records for one server.
func FindModRecords(db *gorm.DB, accountID uint64, serverName string) ([]ModRecord, error) {
	var records []ModRecord
	err := db.Where("account_id = ? AND server_name = ?", accountID, serverName).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
