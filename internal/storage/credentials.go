package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/veridoc-ai/veridoc/pkg/encryption"
	"github.com/veridoc-ai/veridoc/pkg/logger"
)

// ErrCredentialNotFound is returned when no credential row matches the id.
var ErrCredentialNotFound = errors.New("drive credential not found")

// DriveCredential is a stored remote-drive token set. The token blob is
// encrypted at rest via pkg/encryption.
type DriveCredential struct {
	bun.BaseModel `bun:"table:ext.drive_credentials,alias:dc"`

	ID          string    `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	Provider    string    `bun:"provider,notnull" json:"provider"`
	AccountID   string    `bun:"account_id" json:"accountId"`
	Credentials string    `bun:"credentials,notnull" json:"-"`
	CreatedAt   time.Time `bun:"created_at,nullzero,default:now()" json:"createdAt"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,default:now()" json:"updatedAt"`
}

// CredentialStore loads and saves remote-drive credentials.
type CredentialStore struct {
	db  *bun.DB
	enc *encryption.Service
	log *slog.Logger
}

// NewCredentialStore creates a credential store.
func NewCredentialStore(db *bun.DB, enc *encryption.Service, log *slog.Logger) *CredentialStore {
	return &CredentialStore{
		db:  db,
		enc: enc,
		log: log.With(logger.Scope("drive-credentials")),
	}
}

// Get loads one credential row.
func (s *CredentialStore) Get(ctx context.Context, id string) (*DriveCredential, error) {
	cred := new(DriveCredential)
	err := s.db.NewSelect().Model(cred).Where("dc.id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("load drive credential: %w", err)
	}
	return cred, nil
}

// AccessToken decrypts the stored blob and returns its access token.
func (s *CredentialStore) AccessToken(ctx context.Context, id string) (string, error) {
	cred, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}

	settings, err := s.enc.Decrypt(cred.Credentials)
	if err != nil {
		return "", fmt.Errorf("decrypt drive credential %s: %w", id, err)
	}

	token, _ := settings["access_token"].(string)
	if token == "" {
		return "", fmt.Errorf("drive credential %s has no access_token", id)
	}
	return token, nil
}

// Save encrypts and upserts a credential for (provider, account).
func (s *CredentialStore) Save(ctx context.Context, provider, accountID string, settings map[string]interface{}) (*DriveCredential, error) {
	encrypted, err := s.enc.Encrypt(settings)
	if err != nil {
		return nil, fmt.Errorf("encrypt drive credential: %w", err)
	}

	cred := &DriveCredential{
		Provider:    provider,
		AccountID:   accountID,
		Credentials: encrypted,
		UpdatedAt:   time.Now(),
	}

	_, err = s.db.NewInsert().
		Model(cred).
		On("CONFLICT (provider, account_id) DO UPDATE").
		Set("credentials = EXCLUDED.credentials").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("save drive credential: %w", err)
	}

	s.log.Info("drive credential saved",
		slog.String("provider", provider),
		slog.String("account_id", accountID),
	)
	return cred, nil
}
