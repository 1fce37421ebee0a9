package implementation

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	_ "modernc.org/sqlite"

	config "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Config"
	interfaces "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Repository/Interfaces"
)

// Backend names the store selected by a database URL
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
	BackendMongo    Backend = "mongodb"
)

const connectTimeout = 20 * time.Second

// ParseDatabaseURL maps a DATABASE_URL onto a backend and the DSN its driver expects.
// Driver suffixes such as postgresql+psycopg:// are accepted and dropped.
func ParseDatabaseURL(raw string) (Backend, string, error) {
	raw = strings.TrimSpace(raw)
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		if strings.HasPrefix(raw, "file:") {
			return BackendSQLite, strings.TrimPrefix(raw, "file:"), nil
		}
		return "", "", fmt.Errorf("database url %q has no scheme", raw)
	}
	base, _, _ := strings.Cut(strings.ToLower(scheme), "+")

	switch base {
	case "postgres", "postgresql":
		return BackendPostgres, "postgres://" + rest, nil
	case "sqlite":
		path := strings.TrimPrefix(rest, "/")
		if path == "" {
			path = ":memory:"
		}
		return BackendSQLite, path, nil
	case "mongodb":
		return BackendMongo, raw, nil
	}
	return "", "", fmt.Errorf("unsupported database scheme %q", scheme)
}

// OpenTelemetryRepository connects to the backend named by cfg.URL and prepares its schema
func OpenTelemetryRepository(ctx context.Context, cfg config.DatabaseConfig) (interfaces.TelemetryRepository, Backend, error) {
	backend, dsn, err := ParseDatabaseURL(cfg.URL)
	if err != nil {
		return nil, "", err
	}

	switch backend {
	case BackendPostgres:
		repo, err := OpenPostgres(ctx, dsn, cfg.MaxConns, cfg.MinConns)
		return repo, backend, err
	case BackendSQLite:
		repo, err := OpenSQLite(ctx, dsn)
		return repo, backend, err
	default:
		repo, err := OpenMongo(ctx, dsn)
		return repo, backend, err
	}
}

// OpenPostgres creates a PostgreSQL connection with a timeout context
func OpenPostgres(ctx context.Context, dsn string, maxConns, minConns int) (*SQLTelemetryRepository, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open PostgreSQL connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	repo := NewSQLTelemetryRepository(db, DialectPostgres)
	if err := repo.CreateTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// OpenSQLite opens a SQLite database file, or an in-memory database for ":memory:".
// SQLite allows one writer, so the pool holds a single connection.
func OpenSQLite(ctx context.Context, path string) (*SQLTelemetryRepository, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open SQLite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping SQLite: %w", err)
	}

	repo := NewSQLTelemetryRepository(db, DialectSQLite)
	if err := repo.CreateTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// OpenMongo connects to MongoDB. The database name comes from the URL path and defaults to "iot".
func OpenMongo(ctx context.Context, uri string) (*MongoTelemetryRepository, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	dbName := "iot"
	if u, err := url.Parse(uri); err == nil {
		if name := strings.Trim(u.Path, "/"); name != "" {
			dbName = name
		}
	}

	clientOptions := options.Client().ApplyURI(uri).
		SetServerSelectionTimeout(connectTimeout).
		SetConnectTimeout(connectTimeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("unable to ping MongoDB: %w", err)
	}

	repo := NewMongoTelemetryRepository(client, client.Database(dbName))
	if err := repo.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return repo, nil
}
