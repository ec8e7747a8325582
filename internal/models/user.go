package models

import "time"

// APIToken is a long-lived credential issued to a user by the account
// service. This service only reads it.
type APIToken struct {
	Base
	UserID    string     `json:"-"          gorm:"size:64;index;not null"`
	Token     string     `json:"token"      gorm:"size:191;uniqueIndex;not null"`
	Name      string     `json:"name"`
	ExpiredAt *time.Time `json:"expired_at"`
}

func (APIToken) TableName() string { return "api_tokens" }
