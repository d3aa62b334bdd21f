package models

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type OperatorPermissions struct {
	Read    bool `json:"read"`
	Operate bool `json:"operate"`
}

// OperatorKey authenticates a human against the ops API. Only the argon2id
// hash of the secret is stored; the plaintext is printed once at mint time.
type OperatorKey struct {
	Token string // argon2id hash
	Note  string // will be logged nonsensitive
	Model
	Permissions OperatorPermissions `gorm:"type:jsonb;serializer:json"`
	Active      datatypes.Null[bool]
}

func (OperatorKey) TableName() string {
	return "operator_key"
}

func (k OperatorKey) GetID() uuid.UUID {
	return k.ID
}

// MintOperatorKey creates a key row and returns the id and plaintext secret.
// The secret is not recoverable afterwards.
func MintOperatorKey(
	ctx context.Context,
	db *gorm.DB,
	note string,
	permissions OperatorPermissions,
) (uuid.UUID, string, error) {
	ctx, span := tracer.Start(ctx, "MintOperatorKey")
	defer span.End()

	db = db.WithContext(ctx)

	raw := make([]byte, 48)
	if _, err := rand.Read(raw); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to generate secret")
		return uuid.Nil, "", fmt.Errorf("failed to generate secret: %w", err)
	}
	secret := base64.StdEncoding.EncodeToString(raw)

	hash, err := argon2id.CreateHash(secret, argon2id.DefaultParams)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to hash secret")
		return uuid.Nil, "", fmt.Errorf("failed to hash secret: %w", err)
	}

	key := OperatorKey{
		Token:       hash,
		Note:        note,
		Permissions: permissions,
		Active:      NewNullFromData(true),
	}

	if err := db.Create(&key).Error; err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to store key")
		return uuid.Nil, "", fmt.Errorf("failed to store key: %w", err)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "minted operator key")
	return key.ID, secret, nil
}
