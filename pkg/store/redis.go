package store

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "likegate:snapshot"

// RedisConfig describes how to reach redis.
type RedisConfig struct {
	Addr             string
	Password         string
	DB               int
	TLS              bool
	TLSInsecure      bool
	AllowInsecureTLS bool
	TLSServerName    string
	CACertFile       string
	CertFile         string
	KeyFile          string
	RequireTLS       bool
}

// NewRedis dials redis and verifies the connection with a ping.
func NewRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = "localhost:6379"
	}
	tlsConfig, err := redisTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.RequireTLS && tlsConfig == nil {
		return nil, fmt.Errorf("REDIS_REQUIRE_TLS=true but REDIS_TLS is not enabled")
	}
	client := redis.NewClient(&redis.Options{
		Addr:      addr,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: tlsConfig,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctxPing).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func redisTLSConfig(cfg RedisConfig) (*tls.Config, error) {
	if !cfg.TLS {
		return nil, nil
	}
	out := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.TLSInsecure {
		if !cfg.AllowInsecureTLS {
			return nil, fmt.Errorf("REDIS_TLS_INSECURE=true requires REDIS_ALLOW_INSECURE_TLS=true")
		}
		out.InsecureSkipVerify = true
	}
	if name := strings.TrimSpace(cfg.TLSServerName); name != "" {
		out.ServerName = name
	}
	if caFile := strings.TrimSpace(cfg.CACertFile); caFile != "" {
		caBytes, err := os.ReadFile(filepath.Clean(caFile))
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_CERT_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, fmt.Errorf("parse REDIS_TLS_CA_CERT_FILE: no valid certificates")
		}
		out.RootCAs = pool
	}
	certFile := strings.TrimSpace(cfg.CertFile)
	keyFile := strings.TrimSpace(cfg.KeyFile)
	if certFile != "" || keyFile != "" {
		if certFile == "" || keyFile == "" {
			return nil, fmt.Errorf("both REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set")
		}
		cert, err := tls.LoadX509KeyPair(filepath.Clean(certFile), filepath.Clean(keyFile))
		if err != nil {
			return nil, fmt.Errorf("load redis mTLS keypair: %w", err)
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return out, nil
}

// RedisBackend keeps the snapshot document under a single key. SET replaces it atomically.
type RedisBackend struct {
	Client *redis.Client
	Key    string
}

func NewRedisBackend(client *redis.Client, key string) *RedisBackend {
	if strings.TrimSpace(key) == "" {
		key = DefaultRedisKey
	}
	return &RedisBackend{Client: client, Key: key}
}

func (b *RedisBackend) Load(ctx context.Context) ([]byte, error) {
	data, err := b.Client.Get(ctx, b.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

func (b *RedisBackend) Save(ctx context.Context, data []byte) error {
	return b.Client.Set(ctx, b.Key, data, 0).Err()
}
