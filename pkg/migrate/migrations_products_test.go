package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/migrate"
)

func TestProductsMigrationContainsSchemas(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_products_table.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no products migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS products",
		"vendor_id UUID NOT NULL REFERENCES vendors(id)",
		"CHECK (unit_price_cents >= 0)",
		"CREATE INDEX IF NOT EXISTS idx_products_vendor_is_active",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_products_vendor_sku",
		"DROP TABLE IF EXISTS products",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations dir: %v", err)
	}
}
