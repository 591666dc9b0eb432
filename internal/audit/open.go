package audit

import (
	"context"
	"fmt"
)

// Sink kinds accepted by Open.
const (
	SinkNone     = "none"
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
	SinkRedis    = "redis"
	SinkBlob     = "azblob"
)

// SinkConfig selects and configures a sink.
type SinkConfig struct {
	Kind string

	DataDir string // sqlite
	DSN     string // postgres

	RedisURL    string
	RedisStream string
	RedisMaxLen int64

	BlobConnectionString string
	BlobContainer        string
}

// Open returns the configured sink, or nil for SinkNone.
func Open(ctx context.Context, cfg SinkConfig) (Sink, error) {
	var (
		sink Sink
		err  error
	)
	switch cfg.Kind {
	case "", SinkNone:
		return nil, nil
	case SinkSQLite:
		sink, err = nonNil(OpenSQLite(cfg.DataDir))
	case SinkPostgres:
		sink, err = nonNil(OpenSQL(DriverPostgres, cfg.DSN))
	case SinkRedis:
		sink, err = nonNil(OpenRedis(ctx, cfg.RedisURL, cfg.RedisStream, cfg.RedisMaxLen))
	case SinkBlob:
		sink, err = nonNil(OpenBlob(ctx, cfg.BlobConnectionString, cfg.BlobContainer))
	default:
		return nil, fmt.Errorf("audit: unknown sink %q", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	return sink, nil
}

func nonNil[S Sink](s S, err error) (Sink, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
