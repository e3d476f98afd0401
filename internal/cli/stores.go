package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/guflow/internal/store"
	"github.com/roach88/guflow/internal/store/redisstore"
)

// taskStore is implemented by both the SQLite and the Redis store.
type taskStore interface {
	store.Recorder
	store.Reader
	Close() error
}

// StoreOptions selects the task store. At most one of Database and Redis
// is set.
type StoreOptions struct {
	Database string
	Redis    redisstore.Config
}

func (o *StoreOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Database, "db", "", "path to SQLite task store")
	cmd.Flags().StringVar(&o.Redis.Addr, "redis", "", "Redis task store address (host:port)")
	cmd.Flags().StringVar(&o.Redis.Password, "redis-password", "", "Redis password")
	cmd.Flags().IntVar(&o.Redis.DB, "redis-db", 0, "Redis database number")
	cmd.Flags().StringVar(&o.Redis.KeyPrefix, "redis-prefix", "", `Redis key prefix (default "guflow:")`)
	cmd.MarkFlagsMutuallyExclusive("db", "redis")
}

func (o *StoreOptions) configured() bool {
	return o.Database != "" || o.Redis.Addr != ""
}

// open opens the configured store.
func (o *StoreOptions) open(ctx context.Context) (taskStore, error) {
	switch {
	case o.Database != "":
		st, err := store.Open(o.Database)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", o.Database, err)
		}
		return st, nil
	case o.Redis.Addr != "":
		return redisstore.Open(ctx, o.Redis)
	}
	return nil, fmt.Errorf("no task store: set --db or --redis")
}
