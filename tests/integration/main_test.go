//go:build integration

// Package integration verifies the record store backends against real
// PostgreSQL and MongoDB instances using testcontainers-go.
package integration

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var (
	pgContainer *postgres.PostgresContainer
	pgPool      *pgxpool.Pool

	mongoContainer *mongodb.MongoDBContainer
	mongoClient    *mongo.Client
	mongoDatabase  *mongo.Database

	testCtx    context.Context
	cancelFunc context.CancelFunc
)

// TestMain sets up and tears down the test containers.
func TestMain(m *testing.M) {
	testCtx, cancelFunc = context.WithTimeout(context.Background(), 10*time.Minute)

	errCh := make(chan error, 2)
	go func() { errCh <- setupPostgreSQL(testCtx) }()
	go func() { errCh <- setupMongoDB(testCtx) }()
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			log.Printf("container setup failed: %v", err)
			cleanup()
			cancelFunc()
			os.Exit(1)
		}
	}

	code := m.Run()

	cleanup()
	cancelFunc()
	os.Exit(code)
}

func setupPostgreSQL(ctx context.Context) error {
	var err error
	pgContainer, err = postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gachavault_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return fmt.Errorf("start PostgreSQL container: %w", err)
	}

	url, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return fmt.Errorf("get PostgreSQL connection string: %w", err)
	}
	pgPool, err = pgxpool.New(ctx, url)
	if err != nil {
		return fmt.Errorf("create PostgreSQL pool: %w", err)
	}
	if err := pgPool.Ping(ctx); err != nil {
		return fmt.Errorf("ping PostgreSQL: %w", err)
	}
	return nil
}

func setupMongoDB(ctx context.Context) error {
	var err error
	mongoContainer, err = mongodb.Run(ctx, "mongo:7")
	if err != nil {
		return fmt.Errorf("start MongoDB container: %w", err)
	}

	url, err := mongoContainer.ConnectionString(ctx)
	if err != nil {
		return fmt.Errorf("get MongoDB connection string: %w", err)
	}
	mongoClient, err = mongo.Connect(options.Client().ApplyURI(url))
	if err != nil {
		return fmt.Errorf("create MongoDB client: %w", err)
	}
	if err := mongoClient.Ping(ctx, nil); err != nil {
		return fmt.Errorf("ping MongoDB: %w", err)
	}
	mongoDatabase = mongoClient.Database("gachavault_test")
	return nil
}

func cleanup() {
	if pgPool != nil {
		pgPool.Close()
	}
	if pgContainer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("terminate PostgreSQL container: %v", err)
		}
	}
	if mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(ctx); err != nil {
			log.Printf("disconnect MongoDB client: %v", err)
		}
	}
	if mongoContainer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := mongoContainer.Terminate(ctx); err != nil {
			log.Printf("terminate MongoDB container: %v", err)
		}
	}
}
