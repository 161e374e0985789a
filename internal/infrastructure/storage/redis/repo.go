package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"xquote/internal/application/port"
	"xquote/internal/domain"

	"github.com/redis/go-redis/v9"
)

// Repo mirrors the snapshot into a hash (field = exchange) and publishes
// every accepted tick on a pubsub channel.
type Repo struct {
	rdb        *redis.Client
	prefix     string
	ttl        time.Duration
	keyLatest  string // prefix + ":latest"
	keyPair    string // prefix + ":pair"
	tickChan   string
	ownsClient bool
}

type LatestTick struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
	Current  string `json:"current_price"`
	High     string `json:"high_price"`
	Low      string `json:"low_price"`
	Floor    string `json:"floor_price,omitempty"`
	Ts       int64  `json:"ts"`
}

func New(rdb *redis.Client, prefix string, ttl time.Duration) *Repo {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "xquote"
	}
	return &Repo{
		rdb:       rdb,
		prefix:    prefix,
		ttl:       ttl,
		keyLatest: prefix + ":latest",
		keyPair:   prefix + ":pair",
		tickChan:  prefix + ":ticks",
	}
}

// Dial creates a client, pings it and returns a Repo that closes it.
func Dial(ctx context.Context, addr, password string, db int, prefix string, ttl time.Duration) (*Repo, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	r := New(rdb, prefix, ttl)
	r.ownsClient = true
	return r, nil
}

func (r *Repo) ResetPair(ctx context.Context, pair string) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, r.keyLatest)
	if pair == "" {
		pipe.Del(ctx, r.keyPair)
	} else {
		pipe.Set(ctx, r.keyPair, pair, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Repo) UpsertLatestTick(ctx context.Context, t domain.PriceTick) error {
	lt := LatestTick{
		Exchange: string(t.Exchange),
		Symbol:   t.Symbol,
		Current:  t.Current.String(),
		High:     t.High.String(),
		Low:      t.Low.String(),
		Ts:       t.ReceivedAt.UnixMilli(),
	}
	if t.Floor.Valid {
		lt.Floor = t.Floor.Decimal.String()
	}
	b, err := json.Marshal(lt)
	if err != nil {
		return err
	}

	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyLatest, lt.Exchange, string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	pipe.Publish(ctx, r.tickChan, string(b))
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Repo) Close() error {
	if r.ownsClient {
		return r.rdb.Close()
	}
	return nil
}

var _ port.Repository = (*Repo)(nil)
