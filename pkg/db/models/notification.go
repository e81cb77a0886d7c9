package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/modaluna/modaluna-backend/pkg/enums"
)

// Notification stores in-app notification payloads scoped to users.
type Notification struct {
	ID          uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID      uuid.UUID              `gorm:"type:uuid;not null;index"`
	Type        enums.NotificationType `gorm:"not null"`
	ReferenceID *uuid.UUID             `gorm:"type:uuid"`
	ReadAt      *time.Time             `gorm:""`
	CreatedAt   time.Time              `gorm:"autoCreateTime"`
}
