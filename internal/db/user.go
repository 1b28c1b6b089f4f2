package db

import (
	"errors"

	"gorm.io/gorm"

	"github.com/griffithind/dockge/internal/auth"
	apperrors "github.com/griffithind/dockge/internal/errors"
)

// User is an identity record. There is one admin account in practice but
// the table is not limited to one row.
type User struct {
	ID             int64  `gorm:"primaryKey" json:"id"`
	Username       string `gorm:"uniqueIndex;not null" json:"username"`
	Password       string `json:"-"`
	Active         bool   `gorm:"default:true" json:"active"`
	Timezone       string `json:"timezone"`
	TwoFASecret    string `gorm:"column:twofa_secret" json:"-"`
	TwoFAStatus    bool   `gorm:"column:twofa_status;default:false" json:"twofa_status"`
	TwoFALastToken string `gorm:"column:twofa_last_token" json:"-"`
}

// TableName keeps the singular table name of the schema contract.
func (User) TableName() string { return "user" }

// CountUsers returns the number of user rows.
func (s *Store) CountUsers() (int64, error) {
	var count int64
	if err := s.db.Model(&User{}).Count(&count).Error; err != nil {
		return 0, wrapQuery(err, "count users")
	}
	return count, nil
}

// FindUserByUsername looks a user up case-insensitively.
func (s *Store) FindUserByUsername(username string) (*User, error) {
	var user User
	err := s.db.Where("username = ? COLLATE NOCASE", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapQuery(err, "find user")
	}
	return &user, nil
}

// FindUserByID returns the user with the given id, or nil.
func (s *Store) FindUserByID(id int64) (*User, error) {
	var user User
	err := s.db.First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapQuery(err, "find user")
	}
	return &user, nil
}

// FirstActiveUser returns the first active user, used by the
// disableAuth auto-login path.
func (s *Store) FirstActiveUser() (*User, error) {
	var user User
	err := s.db.Where("active = ?", true).Order("id").First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapQuery(err, "find active user")
	}
	return &user, nil
}

// CreateUser hashes the password and inserts a user row.
func (s *Store) CreateUser(username, password string) (*User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryAuth, apperrors.CodeInternal, "password hash failed")
	}
	user := &User{
		Username: username,
		Password: hash,
		Active:   true,
	}
	if err := s.db.Create(user).Error; err != nil {
		return nil, wrapQuery(err, "create user")
	}
	return user, nil
}

// UpdateUserPassword rehashes and stores a new password.
func (s *Store) UpdateUserPassword(user *User, newPassword string) error {
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CategoryAuth, apperrors.CodeInternal, "password hash failed")
	}
	if err := s.db.Model(user).Update("password", hash).Error; err != nil {
		return wrapQuery(err, "update password")
	}
	user.Password = hash
	return nil
}

// SetUserTwoFA stores or clears the TOTP enrollment.
func (s *Store) SetUserTwoFA(user *User, secret string, enabled bool) error {
	updates := map[string]any{
		"twofa_secret":     secret,
		"twofa_status":     enabled,
		"twofa_last_token": "",
	}
	if err := s.db.Model(user).Updates(updates).Error; err != nil {
		return wrapQuery(err, "update 2fa")
	}
	user.TwoFASecret = secret
	user.TwoFAStatus = enabled
	user.TwoFALastToken = ""
	return nil
}

// SetUserTwoFALastToken records the last accepted TOTP code for replay
// protection.
func (s *Store) SetUserTwoFALastToken(user *User, token string) error {
	if err := s.db.Model(user).Update("twofa_last_token", token).Error; err != nil {
		return wrapQuery(err, "update 2fa token")
	}
	user.TwoFALastToken = token
	return nil
}

func wrapQuery(err error, op string) error {
	return apperrors.Wrapf(err, apperrors.CategoryDatabase, apperrors.CodeDatabaseQuery, "%s failed", op)
}
