package serverstate

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKey = "pixrelay:state"

// redisStore keeps State as a JSON document under a single key.
type redisStore struct {
	client  redis.UniversalClient
	key     string
	timeout time.Duration
}

// NewRedisStore connects to addr and returns a Store. The key is seeded with
// a not_ready state if absent.
func NewRedisStore(addr string) (*redisStore, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}
	rs := &redisStore{client: redis.NewUniversalClient(opts), key: redisKey, timeout: 2 * time.Second}
	ctx, cancel := rs.opCtx()
	defer cancel()
	if err := rs.client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	b, _ := json.Marshal(State{Status: StatusNotReady})
	_ = rs.client.SetNX(ctx, rs.key, b, 0).Err()
	return rs, nil
}

func (r *redisStore) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

// Close releases the underlying connections.
func (r *redisStore) Close() error { return r.client.Close() }

func (r *redisStore) Load() State {
	ctx, cancel := r.opCtx()
	defer cancel()
	b, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{Status: StatusNotReady}
		}
		return State{Status: StatusUnknown}
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return State{Status: StatusUnknown}
	}
	return st
}

func (r *redisStore) Store(s State) {
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	ctx, cancel := r.opCtx()
	defer cancel()
	_ = r.client.Set(ctx, r.key, b, 0).Err()
}

// parseRedisURL accepts host:port, redis[s]://[user:pass@]host[,host]/db and
// redis[s]-sentinel://host[,host]/master?db=N URLs.
func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	opts := &redis.UniversalOptions{Addrs: strings.Split(u.Host, ",")}
	if u.User != nil {
		opts.Username = u.User.Username()
		opts.Password, _ = u.User.Password()
	}
	q := u.Query()
	path := strings.TrimPrefix(u.Path, "/")

	sentinel := strings.HasSuffix(u.Scheme, "-sentinel")
	switch strings.TrimSuffix(u.Scheme, "-sentinel") {
	case "redis":
	case "rediss":
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	default:
		return nil, fmt.Errorf("redis: invalid URL scheme: %s", u.Scheme)
	}

	dbStr := q.Get("db")
	if sentinel {
		opts.MasterName = path
		opts.SentinelUsername = q.Get("sentinel_username")
		opts.SentinelPassword = q.Get("sentinel_password")
	} else if path != "" {
		dbStr = path
	}
	if dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err != nil {
			return nil, fmt.Errorf("redis: invalid db: %v", err)
		}
		opts.DB = db
	}
	return opts, nil
}
