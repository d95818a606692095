package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/docstore"
	"github.com/ignite/campaign-mailer/internal/docstore/dynamo"
	"github.com/ignite/campaign-mailer/internal/docstore/memory"
	"github.com/ignite/campaign-mailer/internal/docstore/mongodb"
	"github.com/ignite/campaign-mailer/internal/docstore/postgres"
)

// OpenStore builds the document store named by cfg.Backend. For the
// postgres backend it also returns the database handle, which callers use
// for advisory locks and health checks; it is nil otherwise.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (docstore.Store, *sql.DB, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil, nil

	case config.BackendDynamoDB:
		s, err := dynamo.NewFromConfig(ctx, cfg.TablePrefix, cfg.AWSRegion, cfg.GetAWSProfile())
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil

	case config.BackendMongo:
		s, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDB, cfg.TablePrefix)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil

	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("pinging database: %w", err)
		}

		s := postgres.New(db)
		if err := s.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return s, db, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
