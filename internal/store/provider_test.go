package store_test

import (
	"context"
	"strings"
	"testing"

	"github.com/kallerud/artmarket/internal/clock"
	"github.com/kallerud/artmarket/internal/config"
	"github.com/kallerud/artmarket/internal/store"

	// Import drivers so their init() functions register them.
	_ "github.com/kallerud/artmarket/internal/store/memstore"
	_ "github.com/kallerud/artmarket/internal/store/postgres"
)

type fakeStore struct {
	store.Store
}

// fakeDriver is a store.Driver that always succeeds without connecting.
func fakeDriver(_ context.Context, _ config.DatabaseConfig, _ clock.Clock) (store.Store, error) {
	return &fakeStore{}, nil
}

func TestOpen(t *testing.T) {
	store.Register("test-driver", fakeDriver)

	tests := []struct {
		name    string
		driver  string
		wantErr bool
	}{
		{
			name:    "registered driver succeeds",
			driver:  "test-driver",
			wantErr: false,
		},
		{
			name:    "unknown driver fails",
			driver:  "nonexistent",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DatabaseConfig{Driver: tt.driver}
			_, err := store.Open(context.Background(), cfg, clock.Real{})
			if (err != nil) != tt.wantErr {
				t.Errorf("Open(driver=%q) error = %v, wantErr %v", tt.driver, err, tt.wantErr)
			}
		})
	}
}

func TestMemoryDriverRegistered(t *testing.T) {
	cfg := config.DatabaseConfig{Driver: "memory"}
	st, err := store.Open(context.Background(), cfg, clock.Real{})
	if err != nil {
		t.Fatalf("Open(memory): %v", err)
	}
	defer st.Close()

	if err := st.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestPostgresDriverRegistered(t *testing.T) {
	// The postgres driver will fail to connect (no DB running); the error
	// must be a connection error, not an unknown-driver error.
	cfg := config.DatabaseConfig{Driver: "postgres", Host: "localhost", Port: 1}
	_, err := store.Open(context.Background(), cfg, clock.Real{})
	if err == nil {
		t.Fatal("expected error (no DB running), got nil")
	}
	if strings.Contains(err.Error(), "unknown store driver") {
		t.Errorf("expected connection error, got unknown driver error: %v", err)
	}
}
