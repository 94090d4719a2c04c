package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// MemberLockKey builds redis keys for member lifecycle critical sections.
func MemberLockKey(memberID string) string {
	return fmt.Sprintf("lifecycle:member:%s:lock", memberID)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// MemberLocker is a fail-fast Redis lock around member commits.
type MemberLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMemberLocker constructs a MemberLocker. A non-positive ttl defaults to 10s.
func NewMemberLocker(client *redis.Client, ttl time.Duration) *MemberLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &MemberLocker{client: client, ttl: ttl}
}

// Acquire takes the member lock or returns ErrLockHeld. The returned release only
// deletes the key while it still carries this holder's token.
func (l *MemberLocker) Acquire(ctx context.Context, memberID string) (func(context.Context) error, error) {
	if l == nil || l.client == nil {
		return func(context.Context) error { return nil }, nil
	}
	if memberID == "" {
		return nil, errors.New("lock: member id required")
	}
	key := MemberLockKey(memberID)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}, nil
}
