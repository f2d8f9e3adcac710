// internal/testutil/db.go
package testutil

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/TheCrowned/Post-SMTP/internal/config"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestDB holds the test database connection and container
type TestDB struct {
	DB        *sqlx.DB
	Driver    string
	ConnStr   string
	container testcontainers.Container
}

// engine describes how to start and reach one database server in a container.
type engine struct {
	driver  string
	port    string
	image   string
	env     func(user, pass, name string) map[string]string
	startup time.Duration
	pings   int
}

var postgresEngine = engine{
	driver: "postgres",
	port:   "5432",
	image:  "postgres:15",
	env: func(user, pass, name string) map[string]string {
		return map[string]string{
			"POSTGRES_USER":     user,
			"POSTGRES_PASSWORD": pass,
			"POSTGRES_DB":       name,
		}
	},
	startup: 30 * time.Second,
	pings:   20,
}

var mysqlEngine = engine{
	driver: "mysql",
	port:   "3306",
	image:  "mysql:8.0",
	env: func(user, pass, name string) map[string]string {
		return map[string]string{
			"MYSQL_ROOT_PASSWORD": pass,
			"MYSQL_USER":          user,
			"MYSQL_PASSWORD":      pass,
			"MYSQL_DATABASE":      name,
		}
	},
	startup: 2 * time.Minute,
	pings:   60,
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// SetupTestDB starts a PostgreSQL container, applies the migrations under
// migrationsDir (relative to the calling package) and returns a connected DB.
// The test is skipped in -short mode or when no container runtime is available.
func SetupTestDB(t *testing.T, migrationsDir string) *TestDB {
	t.Helper()
	return setup(t, postgresEngine, migrationsDir)
}

// SetupMySQLTestDB is SetupTestDB for a MySQL 8 container.
func SetupMySQLTestDB(t *testing.T, migrationsDir string) *TestDB {
	t.Helper()
	return setup(t, mysqlEngine, migrationsDir)
}

func setup(t *testing.T, e engine, migrationsDir string) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		t.Logf("No .env file found or failed to load: %v. Proceeding with environment variables.", err)
	}
	dbUsername := envOr("DB_USERNAME", "maillog")
	dbPassword := envOr("DB_PASSWORD", "maillog")
	dbName := envOr("DB_NAME", "maillog_test")
	dbHost := envOr("DB_HOST", "localhost")

	exposed := e.port + "/tcp"
	req := testcontainers.ContainerRequest{
		Image:        e.image,
		ExposedPorts: []string{exposed},
		Env:          e.env(dbUsername, dbPassword, dbName),
		WaitingFor:   wait.ForExposedPort().WithStartupTimeout(e.startup),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("%s container unavailable: %v", e.driver, err)
	}

	td := &TestDB{Driver: e.driver, container: container}
	fail := func(format string, args ...interface{}) {
		if td.DB != nil {
			td.DB.Close()
		}
		if errTerminate := container.Terminate(ctx); errTerminate != nil {
			t.Logf("Failed to terminate container: %v", errTerminate)
		}
		t.Fatalf(format, args...)
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		fail("Failed to read mapped port: %v", err)
	}
	_, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		fail("Failed to parse container endpoint %q: %v", endpoint, err)
	}
	td.ConnStr = config.BuildDSN(e.driver, dbUsername, dbPassword, dbHost, port, dbName)

	td.DB, err = sqlx.Open(e.driver, td.ConnStr)
	if err != nil {
		fail("Failed to connect to test DB: %v", err)
	}

	// The port can accept connections before the server finishes its init restart.
	for i := 0; i < e.pings; i++ {
		if err = td.DB.Ping(); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		fail("Failed to ping test DB after retries: %v", err)
	}

	m, err := migrate.New("file://"+migrationsDir, config.MigrateURL(e.driver, td.ConnStr))
	if err != nil {
		fail("Failed to initialize migrations: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		fail("Failed to apply migrations: %v", err)
	}
	return td
}

// Exec runs statements against the test database, failing the test on the first error.
func (td *TestDB) Exec(t *testing.T, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		if _, err := td.DB.Exec(stmt); err != nil {
			t.Fatalf("Failed to run %q: %v", stmt, err)
		}
	}
}

// Teardown cleans up the test database and container
func (td *TestDB) Teardown(t *testing.T) {
	if err := td.DB.Close(); err != nil {
		t.Errorf("Failed to close DB connection: %v", err)
	}
	if err := td.container.Terminate(context.Background()); err != nil {
		t.Fatalf("Failed to terminate container: %v", err)
	}
}
