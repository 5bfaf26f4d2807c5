package clients

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spacesedan/reviewguard/config"
	"github.com/valkey-io/valkey-go"
)

const (
	VALKEY_RETRIES     = 3
	VALKEY_RETRY_DELAY = 250 * time.Millisecond
)

// ValkeyClient wraps a valkey.Client and rebuilds it after connection loss.
type ValkeyClient struct {
	cfg        config.ValkeyConfig
	client     valkey.Client
	mu         sync.RWMutex
	dial       func(config.ValkeyConfig) (valkey.Client, error)
	retryDelay time.Duration
}

func NewValkeyClient(cfg config.ValkeyConfig) (*ValkeyClient, error) {
	client, err := dialValkey(cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("[ValkeyClient] Successfully connected to valkey",
		slog.String("address", cfg.Address))
	return &ValkeyClient{
		cfg:        cfg,
		client:     client,
		dial:       dialValkey,
		retryDelay: VALKEY_RETRY_DELAY,
	}, nil
}

func dialValkey(cfg config.ValkeyConfig) (valkey.Client, error) {
	opts := valkey.ClientOption{
		InitAddress:      []string{cfg.Address},
		Password:         cfg.Password,
		ConnWriteTimeout: 5 * time.Second,
		SelectDB:         0,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: false}
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("[ValkeyClient] failed to create Valkey: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("[ValkeyClient] failed to ping Valkey: %w", err)
	}
	return client, nil
}

func (vc *ValkeyClient) current() valkey.Client {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return vc.client
}

func (vc *ValkeyClient) recreateClient() {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	slog.Warn("[ValkeyClient] Attempting to recreate Valkey client...")

	client, err := vc.dial(vc.cfg)
	if err != nil {
		slog.Error("[ValkeyClient] Recreate failed, keeping previous client",
			slog.String("error", err.Error()))
		return
	}
	vc.client.Close()
	vc.client = client
	slog.Info("[ValkeyClient] Successfully reconnected to valkey")
}

func (vc *ValkeyClient) Close() {
	if vc == nil {
		return
	}
	vc.current().Close()
}

// Get returns the stored value and whether the key existed.
func (vc *ValkeyClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		raw   []byte
		found bool
	)
	err := vc.withRetry(ctx, "GET", func(c valkey.Client) error {
		b, err := c.Do(ctx, c.B().Get().Key(key).Build()).AsBytes()
		if valkey.IsValkeyNil(err) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		raw, found = b, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return raw, found, nil
}

// Set writes value with an expiry. A non-positive ttl stores without one.
func (vc *ValkeyClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var seconds int64
	if ttl > 0 {
		seconds = int64(ttl / time.Second)
		if seconds < 1 {
			seconds = 1
		}
	}

	return vc.withRetry(ctx, "SET", func(c valkey.Client) error {
		completed := []valkey.Completed{
			c.B().Set().Key(key).Value(valkey.BinaryString(value)).Build(),
		}
		if seconds > 0 {
			completed = append(completed, c.B().Expire().Key(key).Seconds(seconds).Build())
		}
		for _, res := range c.DoMulti(ctx, completed...) {
			if err := res.Error(); err != nil {
				return err
			}
		}
		return nil
	})
}

// withRetry runs attempt against the current client up to VALKEY_RETRIES times,
// reconnecting after connection errors. attempt must build its commands on every
// call: valkey-go recycles a command once it has been sent.
func (vc *ValkeyClient) withRetry(ctx context.Context, op string, attempt func(valkey.Client) error) error {
	var err error
	for i := 0; i < VALKEY_RETRIES; i++ {
		if err = attempt(vc.current()); err == nil {
			return nil
		}

		slog.Warn("[ValkeyClient] Command failed",
			slog.String("op", op),
			slog.Int("attempt", i+1),
			slog.String("error", err.Error()))
		if isConnectionError(err) {
			vc.recreateClient()
		}
		if i == VALKEY_RETRIES-1 {
			break
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(vc.retryDelay):
		}
	}
	return err
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, valkey.ErrClosing) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "i/o timeout")
}
