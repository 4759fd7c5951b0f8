package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"L402Paywall/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

var redisCreateHashScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV))
return 1
`)

var redisDebitScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {-1, 0}
end
local credits = tonumber(redis.call("HGET", KEYS[1], "credits") or "0")
local cost = tonumber(ARGV[1])
if credits < cost then
  return {0, credits}
end
return {1, redis.call("HINCRBY", KEYS[1], "credits", -cost)}
`)

var redisCreditScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {-1, 0}
end
local credits = redis.call("HINCRBY", KEYS[1], "credits", ARGV[1])
redis.call("HSET", KEYS[1], "last_credit_update_at", ARGV[2])
return {1, credits}
`)

// KEYS: intent hash, reference index, pending set.
// ARGV: from, to, at_ms, unexpired, reference, expires_at_ms, failure, token.
var redisTransitionScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {-1, {}}
end
if redis.call("HGET", KEYS[1], "status") ~= ARGV[1] then
  return {0, redis.call("HGETALL", KEYS[1])}
end
if ARGV[4] == "1" then
  local exp = tonumber(redis.call("HGET", KEYS[1], "expires_at") or "0")
  if exp <= tonumber(ARGV[3]) then
    return {0, redis.call("HGETALL", KEYS[1])}
  end
end
redis.call("HSET", KEYS[1], "status", ARGV[2], "updated_at", ARGV[3])
if ARGV[5] ~= "" then
  redis.call("HSET", KEYS[1], "reference", ARGV[5])
  redis.call("SET", KEYS[2], ARGV[8])
end
if ARGV[6] ~= "" then
  redis.call("HSET", KEYS[1], "expires_at", ARGV[6])
end
if ARGV[7] ~= "" then
  redis.call("HSET", KEYS[1], "failure_reason", ARGV[7])
end
if ARGV[2] == "pending" then
  redis.call("ZADD", KEYS[3], redis.call("HGET", KEYS[1], "expires_at"), ARGV[8])
else
  redis.call("ZREM", KEYS[3], ARGV[8])
end
return {1, redis.call("HGETALL", KEYS[1])}
`)

// KEYS: pending set. ARGV: now_ms, limit, intent key prefix.
var redisExpireScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
local n = 0
for _, token in ipairs(due) do
  local key = ARGV[3] .. token
  if redis.call("HGET", key, "status") == "pending" then
    redis.call("HSET", key, "status", "expired", "updated_at", ARGV[1])
    n = n + 1
  end
  redis.call("ZREM", KEYS[1], token)
end
return n
`)

const maxReviewFlags = 10000

// RedisStore keeps users and intents in hashes and runs every conditional
// mutation as a Lua script. Scripts touch keys outside KEYS only in the
// expiry sweep, so the store targets a single Redis node, not a cluster.
type RedisStore struct {
	client       redis.UniversalClient
	prefix       string
	processedTTL time.Duration
}

func NewRedisStore(client redis.UniversalClient, prefix string, processedTTL time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "l402"
	}
	return &RedisStore{client: client, prefix: prefix, processedTTL: processedTTL}
}

func (s *RedisStore) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *RedisStore) userKey(id string) string       { return s.key("user", id) }
func (s *RedisStore) intentKey(token string) string  { return s.key("intent", token) }
func (s *RedisStore) pendingKey() string             { return s.key("intents", "pending") }
func (s *RedisStore) processedKey(key string) string { return s.key("processed", key) }
func (s *RedisStore) reviewKey() string              { return s.key("review") }

func (s *RedisStore) refKey(provider models.Provider, reference string) string {
	return s.key("ref", string(provider), reference)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) CreateUser(ctx context.Context, user *models.User) error {
	created, err := redisCreateHashScript.Run(ctx, s.client, []string{s.userKey(user.ID)},
		"id", user.ID,
		"credits", user.Credits,
		"created_at", user.CreatedAt.UnixMilli(),
		"last_credit_update_at", user.LastCreditUpdateAt.UnixMilli(),
	).Int64()
	if err != nil {
		return err
	}
	if created == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *RedisStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	h, err := s.client.HGetAll(ctx, s.userKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, ErrNotFound
	}
	credits, err := strconv.ParseInt(h["credits"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("user %s: credits: %w", id, err)
	}
	return &models.User{
		ID:                 id,
		Credits:            credits,
		CreatedAt:          millisField(h, "created_at"),
		LastCreditUpdateAt: millisField(h, "last_credit_update_at"),
	}, nil
}

func (s *RedisStore) DebitCredits(ctx context.Context, userID string, cost int64) (int64, error) {
	status, credits, err := runPair(ctx, redisDebitScript, s.client, []string{s.userKey(userID)}, cost)
	if err != nil {
		return 0, err
	}
	switch status {
	case -1:
		return 0, ErrNotFound
	case 0:
		return credits, ErrInsufficientCredits
	}
	return credits, nil
}

func (s *RedisStore) CreditCredits(ctx context.Context, userID string, amount int64, at time.Time) (int64, error) {
	status, credits, err := runPair(ctx, redisCreditScript, s.client, []string{s.userKey(userID)}, amount, at.UnixMilli())
	if err != nil {
		return 0, err
	}
	if status == -1 {
		return 0, ErrNotFound
	}
	return credits, nil
}

func (s *RedisStore) CreateIntent(ctx context.Context, intent *models.PaymentIntent) error {
	created, err := redisCreateHashScript.Run(ctx, s.client, []string{s.intentKey(intent.Token)},
		"token", intent.Token,
		"offer_id", intent.OfferID,
		"user_id", intent.UserID,
		"provider", string(intent.Provider),
		"reference", intent.Reference,
		"status", string(intent.Status),
		"credits", intent.Credits,
		"amount", intent.Amount.String(),
		"currency", intent.Currency,
		"failure_reason", intent.FailureReason,
		"created_at", intent.CreatedAt.UnixMilli(),
		"expires_at", intent.ExpiresAt.UnixMilli(),
		"updated_at", intent.UpdatedAt.UnixMilli(),
	).Int64()
	if err != nil {
		return err
	}
	if created == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *RedisStore) GetIntent(ctx context.Context, token string) (*models.PaymentIntent, error) {
	h, err := s.client.HGetAll(ctx, s.intentKey(token)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, ErrNotFound
	}
	return intentFromHash(h)
}

func (s *RedisStore) GetIntentByReference(ctx context.Context, provider models.Provider, reference string) (*models.PaymentIntent, error) {
	token, err := s.client.Get(ctx, s.refKey(provider, reference)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetIntent(ctx, token)
}

func (s *RedisStore) TransitionIntent(ctx context.Context, tr Transition) (*models.PaymentIntent, bool, error) {
	provider := models.Provider("")
	if tr.Reference != "" {
		current, err := s.client.HGet(ctx, s.intentKey(tr.Token), "provider").Result()
		if errors.Is(err, redis.Nil) {
			return nil, false, ErrNotFound
		}
		if err != nil {
			return nil, false, err
		}
		provider = models.Provider(current)
	}

	unexpired := "0"
	if tr.Unexpired {
		unexpired = "1"
	}
	expiresAt := ""
	if !tr.ExpiresAt.IsZero() {
		expiresAt = strconv.FormatInt(tr.ExpiresAt.UnixMilli(), 10)
	}

	raw, err := redisTransitionScript.Run(ctx, s.client,
		[]string{s.intentKey(tr.Token), s.refKey(provider, tr.Reference), s.pendingKey()},
		string(tr.From), string(tr.To), tr.At.UnixMilli(), unexpired,
		tr.Reference, expiresAt, tr.Failure, tr.Token,
	).Slice()
	if err != nil {
		return nil, false, err
	}
	if len(raw) != 2 {
		return nil, false, fmt.Errorf("unexpected transition result length %d", len(raw))
	}
	status, _ := raw[0].(int64)
	if status == -1 {
		return nil, false, ErrNotFound
	}
	fields, _ := raw[1].([]interface{})
	intent, err := intentFromHash(flatToMap(fields))
	if err != nil {
		return nil, false, err
	}
	return intent, status == 1, nil
}

func (s *RedisStore) ExpirePending(ctx context.Context, now time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	return redisExpireScript.Run(ctx, s.client, []string{s.pendingKey()},
		now.UnixMilli(), limit, s.intentKey(""),
	).Int64()
}

func (s *RedisStore) MarkProcessed(ctx context.Context, rec *models.ProcessedWebhook) (bool, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, s.processedKey(rec.Key), body, s.processedTTL).Result()
}

func (s *RedisStore) FlagForReview(ctx context.Context, flag *models.ReviewFlag) error {
	body, err := json.Marshal(flag)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, s.reviewKey(), body)
		p.LTrim(ctx, s.reviewKey(), 0, maxReviewFlags-1)
		return nil
	})
	return err
}

func (s *RedisStore) ListReviewFlags(ctx context.Context, limit int) ([]models.ReviewFlag, error) {
	if limit <= 0 {
		limit = 50
	}
	items, err := s.client.LRange(ctx, s.reviewKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	flags := make([]models.ReviewFlag, 0, len(items))
	for _, item := range items {
		var f models.ReviewFlag
		if err := json.Unmarshal([]byte(item), &f); err != nil {
			return nil, fmt.Errorf("decode review flag: %w", err)
		}
		flags = append(flags, f)
	}
	return flags, nil
}

func runPair(ctx context.Context, script *redis.Script, client redis.Scripter, keys []string, args ...interface{}) (int64, int64, error) {
	raw, err := script.Run(ctx, client, keys, args...).Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(raw) != 2 {
		return 0, 0, fmt.Errorf("unexpected script result length %d", len(raw))
	}
	status, ok1 := raw[0].(int64)
	value, ok2 := raw[1].(int64)
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("unexpected script result %v", raw)
	}
	return status, value, nil
}

func flatToMap(fields []interface{}) map[string]string {
	out := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		k, _ := fields[i].(string)
		v, _ := fields[i+1].(string)
		out[k] = v
	}
	return out
}

func intentFromHash(h map[string]string) (*models.PaymentIntent, error) {
	credits, err := strconv.ParseInt(h["credits"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("intent %s: credits: %w", h["token"], err)
	}
	amount, err := decimal.NewFromString(h["amount"])
	if err != nil {
		return nil, fmt.Errorf("intent %s: amount: %w", h["token"], err)
	}
	return &models.PaymentIntent{
		Token:         h["token"],
		OfferID:       h["offer_id"],
		UserID:        h["user_id"],
		Provider:      models.Provider(h["provider"]),
		Reference:     h["reference"],
		Status:        models.IntentStatus(h["status"]),
		Credits:       credits,
		Amount:        amount,
		Currency:      h["currency"],
		FailureReason: h["failure_reason"],
		CreatedAt:     millisField(h, "created_at"),
		ExpiresAt:     millisField(h, "expires_at"),
		UpdatedAt:     millisField(h, "updated_at"),
	}, nil
}

func millisField(h map[string]string, field string) time.Time {
	ms, err := strconv.ParseInt(h[field], 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
