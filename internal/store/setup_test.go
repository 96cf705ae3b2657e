package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/safar/restaurant-orders/internal/database"
	"github.com/safar/restaurant-orders/internal/models"
	"github.com/safar/restaurant-orders/internal/ordering"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:14-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	db.SetMaxOpenConns(20)

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	if err := runMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
		if err := postgres.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

func runMigrations(db *sql.DB) error {
	migrationDir := "../../migrations"
	files, err := os.ReadDir(migrationDir)
	if err != nil {
		return fmt.Errorf("read migration directory: %w", err)
	}

	var migrationFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".up.sql") {
			migrationFiles = append(migrationFiles, file.Name())
		}
	}

	sort.Strings(migrationFiles)

	for _, filename := range migrationFiles {
		content, err := os.ReadFile(filepath.Join(migrationDir, filename))
		if err != nil {
			return fmt.Errorf("read migration file %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", filename, err)
		}
	}

	return nil
}

func newTestService(db *sql.DB) *ordering.Service {
	opts := database.DefaultTxOptions()
	opts.MaxRetries = 5
	return ordering.NewService(ordering.ServiceDeps{Store: NewTransactor(db, opts)})
}

func mustCreateUser(t *testing.T, db *sql.DB, email string, isAdmin bool) *models.User {
	t.Helper()
	user, err := CreateUser(context.Background(), db, email, email, isAdmin)
	if err != nil {
		t.Fatalf("Create user %s: %v", email, err)
	}
	return user
}

func mustCreateDish(t *testing.T, db *sql.DB, name, price string, stock int) *models.Dish {
	t.Helper()
	dish, err := CreateDish(context.Background(), db, name, "", decimal.RequireFromString(price), stock)
	if err != nil {
		t.Fatalf("Create dish %s: %v", name, err)
	}
	return dish
}

func mustCreateCoupon(t *testing.T, db *sql.DB, c models.Coupon) *models.Coupon {
	t.Helper()
	if c.StartTime.IsZero() {
		c.StartTime = time.Now().Add(-time.Hour)
		c.EndTime = time.Now().Add(time.Hour)
	}
	if c.PerUserLimit == 0 {
		c.PerUserLimit = 1
	}
	c.IsActive = true
	if err := CreateCoupon(context.Background(), db, &c); err != nil {
		t.Fatalf("Create coupon %s: %v", c.Code, err)
	}
	return &c
}

func stockOf(t *testing.T, db *sql.DB, dishID int64) int {
	t.Helper()
	dish, err := GetDish(context.Background(), db, dishID)
	if err != nil {
		t.Fatalf("Get dish %d: %v", dishID, err)
	}
	return dish.StockQuantity
}

func couponUsage(t *testing.T, db *sql.DB, couponID int64) int {
	t.Helper()
	var used int
	if err := db.QueryRow(`SELECT used_quantity FROM coupons WHERE id = $1`, couponID).Scan(&used); err != nil {
		t.Fatalf("Read coupon usage: %v", err)
	}
	return used
}
