package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// KeyPrefixLen is the number of leading raw-key characters stored in the
// clear so keys can be looked up without a full-table bcrypt scan.
const KeyPrefixLen = 8

// APIKey is a credential for ingesting hits. Raw keys are shown once at
// creation; only the bcrypt hash is stored.
type APIKey struct {
	ID         string     `bson:"_id"                 json:"id"`
	ClientID   string     `bson:"clientId"            json:"client_id"`
	Name       string     `bson:"name"                json:"name"`
	KeyHash    string     `bson:"keyHash"             json:"-"`
	KeyPrefix  string     `bson:"keyPrefix"           json:"key_prefix"`
	Scopes     []string   `bson:"scopes"              json:"scopes"`
	LastUsedAt *time.Time `bson:"lastUsedAt,omitempty" json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `bson:"revokedAt,omitempty"  json:"-"`
	CreatedAt  time.Time  `bson:"createdAt"           json:"created_at"`
	UpdatedAt  time.Time  `bson:"updatedAt"           json:"updated_at"`
}

// NewAPIKey generates a key for a client and returns both the record to
// persist and the raw key to hand to the caller exactly once.
func NewAPIKey(clientID, name string, scopes []string) (*APIKey, string, error) {
	if clientID == "" {
		return nil, "", fmt.Errorf("client_id: is required")
	}
	if name == "" {
		return nil, "", fmt.Errorf("name: is required")
	}
	if len(scopes) == 0 {
		return nil, "", fmt.Errorf("scopes: at least one scope is required")
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", fmt.Errorf("generate key: %w", err)
	}
	rawKey := "ap_" + hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash key: %w", err)
	}

	now := time.Now().UTC()
	key := &APIKey{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: rawKey[:KeyPrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return key, rawKey, nil
}
