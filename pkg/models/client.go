package models

import (
	"time"
)

// Client is the tenancy boundary. Users, API keys, and hits are all scoped to
// exactly one client.
type Client struct {
	ID        string    `bson:"_id"       json:"id"`
	Name      string    `bson:"name"      json:"name"`
	IsActive  bool      `bson:"isActive"  json:"is_active"`
	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`
}
