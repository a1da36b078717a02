package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "wakebot:scheduled"

// markScript adds the key to the set and, only if it was new, stores the
// entry in the outstanding hash.
var markScript = redis.NewScript(`
if redis.call('SADD', KEYS[1], ARGV[1]) == 1 and ARGV[2] ~= '' then
  redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
end
return 1
`)

// redisLedger keeps keys in one Redis set so several instances reading the
// same sheet share the ledger. Outstanding entries live in a hash next to it.
type redisLedger struct {
	client *redis.Client
	key    string
	hash   string
}

func openRedis(cfg RedisConfig) (Ledger, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("ledger.redis.addr is required for redis driver")
	}
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = defaultRedisKey
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisLedger{client: client, key: key, hash: key + ":outstanding"}, nil
}

func (l *redisLedger) Scheduled(ctx context.Context, key string) (bool, error) {
	ok, err := l.client.SIsMember(ctx, l.key, key).Result()
	if err != nil {
		return false, l.wrap(err)
	}
	return ok, nil
}

func (l *redisLedger) MarkScheduled(ctx context.Context, e Entry) error {
	if err := checkKey(e.Key); err != nil {
		return err
	}
	var val string
	if len(e.Jobs) > 0 {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		val = string(b)
	}
	return l.wrap(markScript.Run(ctx, l.client, []string{l.key, l.hash}, e.Key, val).Err())
}

func (l *redisLedger) JobDone(ctx context.Context, key, job string) error {
	update := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, l.hash, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return fmt.Errorf("decode outstanding %s: %w", key, err)
		}
		e, found := e.done(job)
		if !found {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if len(e.Jobs) == 0 {
				p.HDel(ctx, l.hash, key)
				return nil
			}
			b, merr := json.Marshal(e)
			if merr != nil {
				return merr
			}
			p.HSet(ctx, l.hash, key, string(b))
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < 5; attempt++ {
		if err = l.client.Watch(ctx, update, l.hash); !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	return l.wrap(err)
}

func (l *redisLedger) Outstanding(ctx context.Context) ([]Entry, error) {
	all, err := l.client.HGetAll(ctx, l.hash).Result()
	if err != nil {
		return nil, l.wrap(err)
	}
	out := make([]Entry, 0, len(all))
	for key, raw := range all {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode outstanding %s: %w", key, err)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (l *redisLedger) Len(ctx context.Context) (int, error) {
	n, err := l.client.SCard(ctx, l.key).Result()
	if err != nil {
		return 0, l.wrap(err)
	}
	return int(n), nil
}

func (l *redisLedger) Close() error { return l.client.Close() }

func (l *redisLedger) wrap(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return ErrClosed
	}
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}
