package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/petstore-backend/pkg/config"
)

type testCategory struct {
	ID   int
	Name string
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&testCategory{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	db := newTestDB(t)
	client := Wrap(db)

	ctx := context.Background()
	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testCategory{Name: "committed"}).Error
	}); err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}

	var count int64
	if err := db.Model(&testCategory{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testCategory{Name: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected WithTx to return an error")
	}
	if err := db.Model(&testCategory{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed after rollback: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected rollback to leave 1 record, got %d", count)
	}
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	client := Wrap(db)
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_categories_name"}
	if !IsUniqueViolation(fmt.Errorf("insert: %w", pgErr), "") {
		t.Fatalf("expected pgx unique violation to match")
	}
	if !IsUniqueViolation(pgErr, "ux_categories_name") {
		t.Fatalf("expected constraint to match")
	}
	if IsUniqueViolation(pgErr, "pets_pkey") {
		t.Fatalf("expected other constraint not to match")
	}
	if IsUniqueViolation(&pq.Error{Code: "23503"}, "") {
		t.Fatalf("foreign key violation is not a unique violation")
	}
	if !IsUniqueViolation(errors.New("UNIQUE constraint failed: categories.name"), "") {
		t.Fatalf("expected sqlite message to match")
	}
	if IsUniqueViolation(nil, "") {
		t.Fatalf("nil error must not match")
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{DSN: "x", Driver: "oracle"}, nil)
	if err == nil {
		t.Fatal("expected unsupported driver error")
	}
}

func TestNewOpensSQLite(t *testing.T) {
	client, err := New(context.Background(), config.DBConfig{DSN: "file:new_sqlite?mode=memory&cache=shared", Driver: "sqlite"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	db := newTestDB(t)
	client := Wrap(db)

	func() {
		defer func() { _ = recover() }()
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			tx.Create(&testCategory{Name: "panicked"})
			panic("boom")
		})
	}()

	var count int64
	if err := db.Model(&testCategory{}).Where("name = ?", "panicked").Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected panic to roll back, got %d rows", count)
	}
}
