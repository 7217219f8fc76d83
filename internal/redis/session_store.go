package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nazuninha/wabot/internal/domain"
)

const (
	sessionKeyPrefix = "bot:session:"
	sessionIndexKey  = "bot:sessions"
)

// SessionStore persists session records as JSON values, one key per session,
// with a set index for listing.
type SessionStore struct {
	rdb *redis.Client
}

var _ domain.SessionStore = (*SessionStore)(nil)

func NewSessionStore(client *Client) *SessionStore {
	return &SessionStore{rdb: client.Underlying()}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func (s *SessionStore) GetSession(ctx context.Context, id string) (*domain.SessionRecord, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}

	var rec domain.SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return &rec, nil
}

func (s *SessionStore) ListSessions(ctx context.Context) ([]domain.SessionRecord, error) {
	ids, err := s.rdb.SMembers(ctx, sessionIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list session ids: %w", err)
	}

	records := make([]domain.SessionRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetSession(ctx, id)
		if err == domain.ErrSessionNotFound {
			// Index entry without a record; self-heal.
			s.rdb.SRem(ctx, sessionIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

func (s *SessionStore) SaveSession(ctx context.Context, rec domain.SessionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", rec.ID, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(rec.ID), raw, 0)
	pipe.SAdd(ctx, sessionIndexKey, rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, sessionIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}
