// Package auth validates login credentials against the account store.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"gorm.io/gorm"

	"github.com/wardenhost/warden/internal/core/data"
)

var (
	ErrUnknown            = errors.New("an unexpected error occurred, please contact your server administrator")
	ErrInvalidCredentials = errors.New("username/password combination not found")
)

// findAccount is swappable for testing.
var findAccount = data.FindAccountByUsername

// VerifyAccount checks the accounts table for the given username and 32-byte
// password digest and returns the matching account. The digest is compared in
// constant time against the stored hex digest.
func VerifyAccount(db *gorm.DB, username string, digest []byte) (*data.Account, error) {
	account, err := findAccount(db, username)
	if err != nil {
		return nil, ErrUnknown
	}
	if account == nil {
		return nil, ErrInvalidCredentials
	}

	presented := hex.EncodeToString(digest)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(account.Password)) != 1 {
		return nil, ErrInvalidCredentials
	}
	return account, nil
}

// CreateAccount takes the specified credentials and creates a new record in
// the database, returning either the result or any errors encountered.
func CreateAccount(db *gorm.DB, username, password string) (*data.Account, error) {
	account := &data.Account{
		Username: username,
		Password: HashPassword(password),
	}

	if err := data.CreateAccount(db, account); err != nil {
		return nil, err
	}

	return account, nil
}

// HashPassword returns the hex digest of password with warden's chosen
// hashing strategy.
func HashPassword(password string) string {
	hash := sha256.Sum256([]byte(password))
	return hex.EncodeToString(hash[:])
}
