package cache

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PresenceCache tracks which editors are currently active on a flow.
// Membership is soft state refreshed by heartbeats; expiry is encoded as the
// ZSET score so a crashed connection ages out on its own.
type PresenceCache interface {
	AddMember(ctx context.Context, flowID, actorID, email string, ttl time.Duration) error
	RemoveMember(ctx context.Context, flowID, actorID string) error
	AliveMembers(ctx context.Context, flowID string) ([]Member, error)
}

type Member struct {
	ActorID string `json:"actorId"`
	Email   string `json:"email,omitempty"`
}

type redisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) PresenceCache {
	return &redisPresence{rdb: rdb}
}

// AddMember registers or refreshes an editor. Calling it again before the
// TTL elapses extends the membership.
func (p *redisPresence) AddMember(ctx context.Context, flowID, actorID, email string, ttl time.Duration) error {
	tx := p.rdb.TxPipeline()
	expireAt := time.Now().Add(ttl).Unix()
	tx.ZAdd(ctx, flowKey(flowID), redis.Z{Score: float64(expireAt), Member: actorID})
	if email != "" {
		tx.HSet(ctx, emailsKey(flowID), actorID, email)
	}
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) RemoveMember(ctx context.Context, flowID, actorID string) error {
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, flowKey(flowID), actorID)
	tx.HDel(ctx, emailsKey(flowID), actorID)
	_, err := tx.Exec(ctx)
	return err
}

// Members whose score (expiry) has passed are swept atomically before the
// live set is read.
var sweepScript = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return #expired
`)

func (p *redisPresence) AliveMembers(ctx context.Context, flowID string) ([]Member, error) {
	now := time.Now().Unix()

	_, err := sweepScript.Run(ctx, p.rdb, []string{flowKey(flowID), emailsKey(flowID)}, now).Int()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	actorIDs, err := p.rdb.ZRangeByScore(ctx, flowKey(flowID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10),
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(actorIDs) == 0 {
		return nil, nil
	}

	emails, err := p.rdb.HMGet(ctx, emailsKey(flowID), actorIDs...).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	members := make([]Member, 0, len(actorIDs))
	for i, actorID := range actorIDs {
		email := ""
		if i < len(emails) && emails[i] != nil {
			email, _ = emails[i].(string)
		}
		members = append(members, Member{ActorID: actorID, Email: email})
	}
	return members, nil
}
