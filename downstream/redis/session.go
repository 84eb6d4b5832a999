package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ZutrixPog/capsync/downstream"
	"github.com/go-redis/redis"
)

var _ downstream.SessionService = (*SessionCache)(nil)

const keyPrefix = "capabilities:"

// pushScript stores the capabilities only when the incoming version is newer
// than the cached one. Replays and late deliveries leave the hash untouched.
var pushScript = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[1], 'version') or '-1')
if current >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HMSET', KEYS[1], 'version', ARGV[1], 'capabilities', ARGV[2])
return 1
`)

// SessionCache is the session service's capabilities cache: one hash per
// account holding the latest capabilities version and value.
type SessionCache struct {
	client *redis.Client
}

func NewSessionCache(client *redis.Client) *SessionCache {
	return &SessionCache{client}
}

func Key(accountID string) string {
	return keyPrefix + accountID
}

func (c *SessionCache) PushCapabilities(ctx context.Context, update downstream.CapabilitiesUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(update.Capabilities)
	if err != nil {
		return fmt.Errorf("%w: %v", downstream.ErrRejected, err)
	}

	if err := pushScript.Run(c.client.WithContext(ctx), []string{Key(update.AccountID)}, update.Version, string(payload)).Err(); err != nil {
		return fmt.Errorf("%w: %v", downstream.ErrUnavailable, err)
	}
	return nil
}

// Capabilities reads back the cached capabilities of an account. A missing
// entry returns version -1 and no capabilities.
func (c *SessionCache) Capabilities(accountID string) (int64, []string, error) {
	fields, err := c.client.HGetAll(Key(accountID)).Result()
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", downstream.ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return -1, nil, nil
	}

	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return 0, nil, err
	}
	var caps []string
	if err := json.Unmarshal([]byte(fields["capabilities"]), &caps); err != nil {
		return 0, nil, err
	}
	return version, caps, nil
}
