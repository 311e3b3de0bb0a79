// Package rbac implements the category-scoped JWT permission system:
// minting tokens, validating them, and answering "does this token have at
// least this permission level for this category" for the HTTP gate.
package rbac

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/atinyvectors/warren/pkg/apierr"
	"github.com/atinyvectors/warren/pkg/store"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// Category is one of the permission-scoped resource areas a token can be
// granted access to.
type Category string

const (
	CategorySystem   Category = "system"
	CategorySpace    Category = "space"
	CategoryVersion  Category = "version"
	CategoryVector   Category = "vector"
	CategorySnapshot Category = "snapshot"
	CategorySearch   Category = "search"
	CategorySecurity Category = "security"
	CategoryKeyValue Category = "keyvalue"
)

// Level is a permission level: 0 deny, 1 read, 2 write.
type Level int

const (
	LevelDeny  Level = 0
	LevelRead  Level = 1
	LevelWrite Level = 2
)

// Manager mints and checks RBAC tokens against the metadata store.
type Manager struct {
	store     *store.Store
	jwtKey    []byte
	expireDay int64
}

// NewManager builds a Manager. jwtKey and defaultExpireDays come from
// configuration (ATV_JWT_TOKEN_KEY / ATV_DEFAULT_TOKEN_EXPIRE_DAYS).
func NewManager(st *store.Store, jwtKey string, defaultExpireDays int64) *Manager {
	return &Manager{store: st, jwtKey: []byte(jwtKey), expireDay: defaultExpireDays}
}

type claims struct {
	jwt.RegisteredClaims
}

// GenerateJWT mints a new signed JWT string. expireDays of 0 uses the
// manager's configured default. This is called on the leader BEFORE the
// create_rbac_token command is logged, so every replica ends up storing
// the identical token string rather than each minting its own.
func (m *Manager) GenerateJWT(expireDays int64) (string, error) {
	if expireDays <= 0 {
		expireDays = m.expireDay
	}
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(expireDays) * 24 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(m.jwtKey)
}

// NewToken persists a newly-minted token with the permission levels given
// as JSON (the same shape the security API accepts), keyed by the exact
// token string the leader generated.
func (m *Manager) NewToken(token string, permissions json.RawMessage) error {
	var p struct {
		System   int `json:"system"`
		Space    int `json:"space"`
		Version  int `json:"version"`
		Vector   int `json:"vector"`
		Snapshot int `json:"snapshot"`
		Search   int `json:"search"`
		Security int `json:"security"`
		KeyValue int `json:"keyvalue"`
	}
	if len(permissions) > 0 {
		if err := json.Unmarshal(permissions, &p); err != nil {
			return fmt.Errorf("decode rbac permissions: %w: %w", apierr.ErrValidation, err)
		}
	}
	rec := &store.RBACToken{
		ID: uuid.NewString(), Token: token, CreatedAt: time.Now(), ExpiresAt: time.Now().AddDate(0, 0, int(m.expireDay)),
		System: p.System, Space: p.Space, Version: p.Version, Vector: p.Vector,
		Snapshot: p.Snapshot, Search: p.Search, Security: p.Security, KeyValue: p.KeyValue,
	}
	if err := m.store.PutToken(rec); err != nil {
		return fmt.Errorf("persist rbac token: %w: %w", apierr.ErrStorageFailure, err)
	}
	return nil
}

// UpdateToken overwrites the permission levels of an existing token.
func (m *Manager) UpdateToken(token string, permissions json.RawMessage) error {
	rec, err := m.store.GetToken(token)
	if err != nil {
		return err
	}
	var p struct {
		System, Space, Version, Vector, Snapshot, Search, Security, KeyValue int
	}
	if err := json.Unmarshal(permissions, &p); err != nil {
		return fmt.Errorf("decode rbac permissions: %w: %w", apierr.ErrValidation, err)
	}
	rec.System, rec.Space, rec.Version, rec.Vector = p.System, p.Space, p.Version, p.Vector
	rec.Snapshot, rec.Search, rec.Security, rec.KeyValue = p.Snapshot, p.Search, p.Security, p.KeyValue
	if err := m.store.PutToken(rec); err != nil {
		return fmt.Errorf("persist rbac token: %w: %w", apierr.ErrStorageFailure, err)
	}
	return nil
}

func (m *Manager) DeleteToken(token string) error {
	if err := m.store.DeleteToken(token); err != nil {
		return fmt.Errorf("delete rbac token: %w: %w", apierr.ErrStorageFailure, err)
	}
	return nil
}

func (m *Manager) ListTokens() ([]*store.RBACToken, error) {
	return m.store.ListTokens()
}

// Permission returns the permission level the given token has for
// category. An unknown or missing token yields LevelDeny rather than an
// error, so callers can always compare against a required level.
func (m *Manager) Permission(token string, category Category) Level {
	rec, err := m.store.GetToken(token)
	if err != nil {
		return LevelDeny
	}
	if time.Now().After(rec.ExpiresAt) {
		return LevelDeny
	}
	switch category {
	case CategorySystem:
		return Level(rec.System)
	case CategorySpace:
		return Level(rec.Space)
	case CategoryVersion:
		return Level(rec.Version)
	case CategoryVector:
		return Level(rec.Vector)
	case CategorySnapshot:
		return Level(rec.Snapshot)
	case CategorySearch:
		return Level(rec.Search)
	case CategorySecurity:
		return Level(rec.Security)
	case CategoryKeyValue:
		return Level(rec.KeyValue)
	default:
		return LevelDeny
	}
}
