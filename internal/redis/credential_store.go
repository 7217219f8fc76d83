package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nazuninha/wabot/internal/crypto"
	"github.com/nazuninha/wabot/internal/domain"
)

const credentialKeyPrefix = "bot:credential:"

// CredentialStore persists opaque pairing credentials per session id,
// sealed with the configured codec before they reach Redis. The blob is
// never inspected here.
type CredentialStore struct {
	rdb   *redis.Client
	codec crypto.Codec
}

var _ domain.CredentialStore = (*CredentialStore)(nil)

func NewCredentialStore(client *Client, codec crypto.Codec) *CredentialStore {
	return &CredentialStore{rdb: client.Underlying(), codec: codec}
}

func credentialKey(sessionID string) string {
	return credentialKeyPrefix + sessionID
}

func (s *CredentialStore) Load(ctx context.Context, sessionID string) ([]byte, error) {
	raw, err := s.rdb.Get(ctx, credentialKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrCredentialMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential for %s: %w", sessionID, err)
	}

	credential, err := s.codec.Open(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal credential for %s: %w", sessionID, err)
	}
	return credential, nil
}

func (s *CredentialStore) Save(ctx context.Context, sessionID string, credential []byte) error {
	sealed, err := s.codec.Seal(credential)
	if err != nil {
		return fmt.Errorf("failed to seal credential for %s: %w", sessionID, err)
	}
	if err := s.rdb.Set(ctx, credentialKey(sessionID), sealed, 0).Err(); err != nil {
		return fmt.Errorf("failed to save credential for %s: %w", sessionID, err)
	}
	return nil
}

func (s *CredentialStore) Invalidate(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, credentialKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate credential for %s: %w", sessionID, err)
	}
	return nil
}
