package model

import "time"

// PushSubscription holds one browser push subscription, tied to the user
// code it wants turn alerts for.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	UserCode  string    `gorm:"index;size:8;not null"`
	CreatedAt time.Time `gorm:"not null"`
}
