package valkey

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	valkeylib "github.com/valkey-io/valkey-go"
)

// DefaultConnectTimeout bounds the initial ping.
const DefaultConnectTimeout = 5 * time.Second

// Compare-and-delete so a holder never releases a lock that expired and was
// re-acquired by another instance.
const releaseLockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Config holds the connection settings.
type Config struct {
	Address        string
	Password       string
	DB             int
	KeyPrefix      string
	ConnectTimeout time.Duration
}

// Client wraps valkey-go with key prefixing and the generation lock.
type Client struct {
	inner     valkeylib.Client
	keyPrefix string
}

// NewClient connects and pings. The caller must Close the client.
func NewClient(cfg Config) (*Client, error) {
	opts := valkeylib.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	inner, err := valkeylib.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := inner.Do(ctx, inner.B().Ping().Build()).Error(); err != nil {
		inner.Close()
		return nil, fmt.Errorf("ping valkey (timeout: %v): %w", timeout, err)
	}

	prefix := cfg.KeyPrefix
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &Client{inner: inner, keyPrefix: prefix}, nil
}

// Close closes the connection.
func (c *Client) Close() {
	if c.inner != nil {
		c.inner.Close()
	}
}

// Key joins parts under the configured prefix: Key("lock", "abc") -> "preview:lock:abc".
func (c *Client) Key(parts ...string) string {
	if len(parts) == 0 {
		return strings.TrimSuffix(c.keyPrefix, ":")
	}
	return c.keyPrefix + strings.Join(parts, ":")
}

// Ping is used by the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.inner.Do(ctx, c.inner.B().Ping().Build()).Error()
}

// TryLock takes the generation lock for a cache key. It returns the owner
// token and true when acquired, or false when another instance holds it.
func (c *Client) TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	cmd := c.inner.B().Set().
		Key(c.Key("lock", name)).
		Value(token).
		Nx().
		Ex(ttl).
		Build()

	err := c.inner.Do(ctx, cmd).Error()
	if err == nil {
		return token, true, nil
	}
	if valkeylib.IsValkeyNil(err) {
		return "", false, nil
	}
	return "", false, fmt.Errorf("acquire lock %s: %w", name, err)
}

// Unlock releases the lock only if token still owns it.
func (c *Client) Unlock(ctx context.Context, name, token string) error {
	cmd := c.inner.B().Eval().
		Script(releaseLockScript).
		Numkeys(1).
		Key(c.Key("lock", name)).
		Arg(token).
		Build()

	if err := c.inner.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// IsNil reports whether err is a Valkey NIL reply.
func IsNil(err error) bool {
	return valkeylib.IsValkeyNil(err)
}
