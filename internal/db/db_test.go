package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fixaren/backoffice/internal/config"
	"github.com/fixaren/backoffice/internal/models"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

func TestDialector(t *testing.T) {
	tests := []struct {
		driver string
		name   string
	}{
		{"sqlite", "sqlite"},
		{"mysql", "mysql"},
		{"postgres", "postgres"},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := Dialector(tt.driver, "dsn")
			if err != nil {
				t.Fatalf("Dialector(%q): %v", tt.driver, err)
			}
			if d.Name() != tt.name {
				t.Errorf("Name() = %q, want %q", d.Name(), tt.name)
			}
		})
	}
}

func TestDialector_Unknown(t *testing.T) {
	if _, err := Dialector("oracle", "dsn"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestIsMemoryDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want bool
	}{
		{":memory:", true},
		{"file:tenant?mode=memory&cache=shared", true},
		{"backoffice.db", false},
	}
	for _, tt := range tests {
		if got := IsMemoryDSN(tt.dsn); got != tt.want {
			t.Errorf("IsMemoryDSN(%q) = %v, want %v", tt.dsn, got, tt.want)
		}
	}
}

func TestConnectAndMigrate_SQLite(t *testing.T) {
	gdb, err := Connect(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { Close(gdb) })

	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, m := range AllModels() {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}
	if !gdb.Migrator().HasIndex(&models.Activity{}, "idx_activities_deal_seq") {
		t.Error("missing unique index idx_activities_deal_seq")
	}
}

func TestConnect_UnknownDriver(t *testing.T) {
	if _, err := Connect(config.DatabaseConfig{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"gorm duplicated key", gorm.ErrDuplicatedKey, true},
		{"wrapped gorm duplicated key", fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), true},
		{"mysql duplicate entry", &mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry"}, true},
		{"mysql other", &mysqldriver.MySQLError{Number: 1213, Message: "Deadlock"}, false},
		{"postgres unique", &pq.Error{Code: "23505"}, true},
		{"postgres other", &pq.Error{Code: "40001"}, false},
		{"sqlite message", errors.New("UNIQUE constraint failed: stages.tenant_id, stages.slug"), true},
		{"unrelated", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(tt.err); got != tt.want {
				t.Errorf("IsUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsUniqueViolation_SQLiteInsert(t *testing.T) {
	gdb, err := Connect(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { Close(gdb) })
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	s := models.Stage{ID: "s1", TenantID: "t1", Name: "Lead", Slug: "lead", SortOrder: 10}
	if err := gdb.Create(&s).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := models.Stage{ID: "s2", TenantID: "t1", Name: "Lead again", Slug: "lead", SortOrder: 20}
	err = gdb.Create(&dup).Error
	if err == nil {
		t.Fatal("expected unique violation")
	}
	if !IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = false, want true", err)
	}
}
