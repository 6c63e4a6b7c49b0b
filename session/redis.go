package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/orgauth/secrets"
)

// Ended session records are kept this long past their refresh window so
// lookups by ID still see the terminal state.
const endedRetention = 24 * time.Hour

const swapTokenScript = `
if redis.call("HGET", KEYS[1], "state") ~= "active" then
  return 0
end
if redis.call("HGET", KEYS[1], "tok") ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "tok", ARGV[2], "issued", ARGV[3], "exp", ARGV[4], "last", ARGV[3])
redis.call("DEL", KEYS[2])
redis.call("SET", KEYS[3], ARGV[5], "PX", ARGV[6])
return 1
`

var swapTokenLua = redis.NewScript(swapTokenScript)

// terminateScript returns -1 when the token or refresh digest changed after
// the caller read them, so the caller can retry with the current index keys.
const terminateScript = `
if redis.call("HGET", KEYS[1], "state") ~= "active" then
  return 0
end
if redis.call("HGET", KEYS[1], "tok") ~= ARGV[5] or redis.call("HGET", KEYS[1], "ref") ~= ARGV[6] then
  return -1
end
redis.call("HSET", KEYS[1], "state", ARGV[3], "reason", ARGV[4], "term", ARGV[2], "exp", ARGV[2])
redis.call("DEL", KEYS[4], KEYS[5])
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("ZREM", KEYS[3], ARGV[1])
return 1
`

var terminateLua = redis.NewScript(terminateScript)

const touchScript = `
if redis.call("HGET", KEYS[1], "state") ~= "active" then
  return 0
end
redis.call("HSET", KEYS[1], "last", ARGV[1])
return 1
`

var touchLua = redis.NewScript(touchScript)

// RedisRepository stores each session as a hash with digest-to-ID index keys,
// a per-user sorted set ordered by creation time, and a global sorted set
// ordered by refresh expiry for sweeping. Token swaps and terminations run
// as Lua scripts so they are atomic per session.
//
// Every script declares the keys it touches, but those keys do not share a
// hash slot: the repository needs a single Redis node or a primary/replica
// setup, not Redis Cluster.
type RedisRepository struct {
	redis  redis.UniversalClient
	prefix string
}

var _ Repository = (*RedisRepository)(nil)

// NewRedisRepository creates a repository under the given key prefix ("os" when empty).
func NewRedisRepository(client redis.UniversalClient, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "os"
	}
	return &RedisRepository{redis: client, prefix: prefix}
}

func (r *RedisRepository) sessionKey(id string) string  { return r.prefix + ":s:" + id }
func (r *RedisRepository) tokenPrefix() string          { return r.prefix + ":t:" }
func (r *RedisRepository) refreshPrefix() string        { return r.prefix + ":r:" }
func (r *RedisRepository) userKey(userID string) string { return r.prefix + ":u:" + userID }
func (r *RedisRepository) expiryKey() string            { return r.prefix + ":exp" }

func (r *RedisRepository) tokenKey(d secrets.Digest) string {
	return r.tokenPrefix() + d.Hex()
}

func (r *RedisRepository) refreshKey(d secrets.Digest) string {
	return r.refreshPrefix() + d.Hex()
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(v string) (time.Time, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if n == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(n).UTC(), nil
}

func encodeFields(s *Session) map[string]any {
	mfa := "0"
	if s.MFAVerified {
		mfa = "1"
	}
	return map[string]any{
		"user":    s.UserID,
		"org":     s.OrganizationID,
		"tok":     s.TokenHash.Hex(),
		"ref":     s.RefreshHash.Hex(),
		"fp":      s.DeviceFingerprint,
		"ip":      s.IPAddress,
		"ua":      s.UserAgent,
		"mfa":     mfa,
		"state":   string(s.State),
		"reason":  s.TerminationReason,
		"created": millis(s.CreatedAt),
		"issued":  millis(s.TokenIssuedAt),
		"exp":     millis(s.ExpiresAt),
		"rexp":    millis(s.RefreshExpiresAt),
		"last":    millis(s.LastActivity),
		"term":    millis(s.TerminatedAt),
	}
}

func decodeFields(id string, m map[string]string) (*Session, error) {
	if len(m) == 0 {
		return nil, ErrNotFound
	}
	s := &Session{
		ID:                id,
		UserID:            m["user"],
		OrganizationID:    m["org"],
		DeviceFingerprint: m["fp"],
		IPAddress:         m["ip"],
		UserAgent:         m["ua"],
		MFAVerified:       m["mfa"] == "1",
		State:             State(m["state"]),
		TerminationReason: m["reason"],
	}
	if s.UserID == "" || s.State == "" {
		return nil, ErrCorrupt
	}

	var err error
	if s.TokenHash, err = secrets.ParseDigest(m["tok"]); err != nil {
		return nil, fmt.Errorf("%w: token hash", ErrCorrupt)
	}
	if s.RefreshHash, err = secrets.ParseDigest(m["ref"]); err != nil {
		return nil, fmt.Errorf("%w: refresh hash", ErrCorrupt)
	}

	times := []struct {
		field string
		dst   *time.Time
	}{
		{"created", &s.CreatedAt},
		{"issued", &s.TokenIssuedAt},
		{"exp", &s.ExpiresAt},
		{"rexp", &s.RefreshExpiresAt},
		{"last", &s.LastActivity},
		{"term", &s.TerminatedAt},
	}
	for _, t := range times {
		if *t.dst, err = fromMillis(m[t.field]); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrCorrupt, t.field)
		}
	}
	return s, nil
}

// Create persists a new session and its indexes in one transaction.
func (r *RedisRepository) Create(ctx context.Context, s *Session) error {
	ttl := s.RefreshExpiresAt.Sub(s.CreatedAt)
	if ttl < time.Second {
		ttl = time.Second
	}
	key := r.sessionKey(s.ID)

	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, encodeFields(s))
		pipe.PExpire(ctx, key, ttl+endedRetention)
		pipe.Set(ctx, r.tokenKey(s.TokenHash), s.ID, ttl)
		pipe.Set(ctx, r.refreshKey(s.RefreshHash), s.ID, ttl)
		pipe.ZAdd(ctx, r.userKey(s.UserID), redis.Z{Score: float64(millis(s.CreatedAt)), Member: s.ID})
		pipe.ZAdd(ctx, r.expiryKey(), redis.Z{Score: float64(millis(s.RefreshExpiresAt)), Member: s.ID})
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// GetByID loads a session in any state.
func (r *RedisRepository) GetByID(ctx context.Context, id string) (*Session, error) {
	m, err := r.redis.HGetAll(ctx, r.sessionKey(id)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	return decodeFields(id, m)
}

// GetByTokenHash resolves an active session by its current token digest.
func (r *RedisRepository) GetByTokenHash(ctx context.Context, hash secrets.Digest) (*Session, error) {
	return r.getByIndex(ctx, r.tokenKey(hash), func(s *Session) bool { return s.TokenHash == hash })
}

// GetByRefreshHash resolves an active session by its refresh token digest.
func (r *RedisRepository) GetByRefreshHash(ctx context.Context, hash secrets.Digest) (*Session, error) {
	return r.getByIndex(ctx, r.refreshKey(hash), func(s *Session) bool { return s.RefreshHash == hash })
}

func (r *RedisRepository) getByIndex(ctx context.Context, indexKey string, matches func(*Session) bool) (*Session, error) {
	id, err := r.redis.Get(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	s, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	// An index entry left behind by an interrupted write must not resolve.
	if !s.Active() || !matches(s) {
		return nil, ErrNotFound
	}
	return s, nil
}

// ListActiveForUser returns active sessions, oldest first.
func (r *RedisRepository) ListActiveForUser(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := r.redis.ZRange(ctx, r.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	sessions, err := r.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		if s.Active() {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *RedisRepository) loadMany(ctx context.Context, ids []string) ([]*Session, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, r.sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}

	out := make([]*Session, 0, len(ids))
	for i, cmd := range cmds {
		m, err := cmd.Result()
		if err != nil {
			return nil, unavailable(err)
		}
		s, err := decodeFields(ids[i], m)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// SwapToken compares and swaps the token digest of an active session.
func (r *RedisRepository) SwapToken(ctx context.Context, id string, expected secrets.Digest, next TokenUpdate) (bool, error) {
	s, err := r.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	ttl := s.RefreshExpiresAt.Sub(next.IssuedAt)
	if ttl < time.Second {
		ttl = time.Second
	}

	res, err := swapTokenLua.Run(
		ctx,
		r.redis,
		[]string{r.sessionKey(id), r.tokenKey(expected), r.tokenKey(next.TokenHash)},
		expected.Hex(),
		next.TokenHash.Hex(),
		millis(next.IssuedAt),
		millis(next.ExpiresAt),
		id,
		ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return res == 1, nil
}

// Touch records activity on an active session.
func (r *RedisRepository) Touch(ctx context.Context, id string, at time.Time) error {
	if err := touchLua.Run(ctx, r.redis, []string{r.sessionKey(id)}, millis(at)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Terminate ends an active session and drops its token indexes.
func (r *RedisRepository) Terminate(ctx context.Context, id string, t Termination) (bool, error) {
	userID, err := r.redis.HGet(ctx, r.sessionKey(id), "user").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, unavailable(err)
	}
	return r.terminate(ctx, id, userID, t)
}

// terminateAttempts bounds retries when the session keeps rotating under a termination.
const terminateAttempts = 3

func (r *RedisRepository) terminate(ctx context.Context, id, userID string, t Termination) (bool, error) {
	key := r.sessionKey(id)
	for attempt := 0; attempt < terminateAttempts; attempt++ {
		vals, err := r.redis.HMGet(ctx, key, "tok", "ref").Result()
		if err != nil {
			return false, unavailable(err)
		}
		tok, _ := vals[0].(string)
		ref, _ := vals[1].(string)

		res, err := terminateLua.Run(
			ctx,
			r.redis,
			[]string{key, r.userKey(userID), r.expiryKey(), r.tokenPrefix() + tok, r.refreshPrefix() + ref},
			id,
			millis(t.At),
			string(t.State),
			t.Reason,
			tok,
			ref,
		).Int64()
		if err != nil {
			return false, unavailable(err)
		}
		if res != -1 {
			return res == 1, nil
		}
	}
	return false, fmt.Errorf("%w: session %s changed during termination", ErrUnavailable, id)
}

// TerminateAllForUser ends every active session of the user.
//
// The member list is read before the per-session scripts run, so a session
// created concurrently may survive; it is caught by the next call.
func (r *RedisRepository) TerminateAllForUser(ctx context.Context, userID string, t Termination) (int, error) {
	ids, err := r.redis.ZRange(ctx, r.userKey(userID), 0, -1).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	ended := 0
	for _, id := range ids {
		ok, err := r.terminate(ctx, id, userID, t)
		if err != nil {
			return ended, err
		}
		if ok {
			ended++
		}
	}
	return ended, nil
}

// ExpireStale ends the user's sessions whose refresh window has closed.
func (r *RedisRepository) ExpireStale(ctx context.Context, userID string, now time.Time) (int, error) {
	active, err := r.ListActiveForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	ended := 0
	for _, s := range active {
		if now.Before(s.RefreshExpiresAt) {
			continue
		}
		ok, err := r.terminate(ctx, s.ID, userID, Termination{At: now, State: StateExpired, Reason: ReasonExpired})
		if err != nil {
			return ended, err
		}
		if ok {
			ended++
		}
	}
	return ended, nil
}

// SweepExpired ends every session whose refresh window has closed.
func (r *RedisRepository) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := r.redis.ZRangeByScore(ctx, r.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(millis(now), 10),
	}).Result()
	if err != nil {
		return 0, unavailable(err)
	}

	ended := 0
	for _, id := range ids {
		userID, err := r.redis.HGet(ctx, r.sessionKey(id), "user").Result()
		if errors.Is(err, redis.Nil) {
			r.redis.ZRem(ctx, r.expiryKey(), id)
			continue
		}
		if err != nil {
			return ended, unavailable(err)
		}
		ok, err := r.terminate(ctx, id, userID, Termination{At: now, State: StateExpired, Reason: ReasonExpired})
		if err != nil {
			return ended, err
		}
		if ok {
			ended++
		}
	}
	return ended, nil
}

// Ping checks Redis reachability.
func (r *RedisRepository) Ping(ctx context.Context) error {
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
