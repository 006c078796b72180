package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jensholdgaard/bosstimer/internal/config"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "valid full config",
			yaml: `
storage:
  driver: "postgres"
  key_prefix: "boss"
  partition: "boss"
  max_per_boss: 500
  postgres:
    host: "db.example.com"
    port: 5433
    user: "timer"
    password: "secret"
    dbname: "bosses"
catalog:
  path: "/etc/bosstimer/bosses.json"
timezone: "UTC"
telemetry:
  service_name: "my-timer"
  otlp_endpoint: "localhost:4318"
`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Storage.Driver != "postgres" {
					t.Errorf("got driver %q, want %q", cfg.Storage.Driver, "postgres")
				}
				if cfg.Storage.Postgres.Port != 5433 {
					t.Errorf("got db port %d, want %d", cfg.Storage.Postgres.Port, 5433)
				}
				if cfg.Storage.Postgres.Table != "kv_entries" {
					t.Errorf("got table %q, want default %q", cfg.Storage.Postgres.Table, "kv_entries")
				}
				if cfg.Storage.MaxPerBoss != 500 {
					t.Errorf("got max_per_boss %d, want %d", cfg.Storage.MaxPerBoss, 500)
				}
				if cfg.Storage.Partition != "boss" {
					t.Errorf("got partition %q, want %q", cfg.Storage.Partition, "boss")
				}
				if cfg.Telemetry.ServiceName != "my-timer" {
					t.Errorf("got service name %q, want %q", cfg.Telemetry.ServiceName, "my-timer")
				}
			},
		},
		{
			name: "defaults applied",
			yaml: `
catalog:
  path: "bosses.json"
`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Storage.Driver != "sqlite" {
					t.Errorf("got driver %q, want %q", cfg.Storage.Driver, "sqlite")
				}
				if cfg.Storage.KeyPrefix != "abt" {
					t.Errorf("got prefix %q, want %q", cfg.Storage.KeyPrefix, "abt")
				}
				if cfg.Storage.Partition != "day" {
					t.Errorf("got partition %q, want %q", cfg.Storage.Partition, "day")
				}
				if cfg.Storage.MaxPerBoss != 3000 {
					t.Errorf("got max_per_boss %d, want %d", cfg.Storage.MaxPerBoss, 3000)
				}
				if cfg.Storage.LegacyKey != "abt_records_v1" {
					t.Errorf("got legacy key %q, want %q", cfg.Storage.LegacyKey, "abt_records_v1")
				}
				if cfg.Storage.Redis.DialTimeout != 5*time.Second {
					t.Errorf("got dial timeout %v, want %v", cfg.Storage.Redis.DialTimeout, 5*time.Second)
				}
				if cfg.Watch.Schedule != "@every 1m" {
					t.Errorf("got schedule %q, want %q", cfg.Watch.Schedule, "@every 1m")
				}
			},
		},
		{
			name:    "invalid yaml",
			yaml:    `{{{invalid`,
			wantErr: true,
		},
		{
			name: "redis driver accepted",
			yaml: `
storage:
  driver: "redis"
  redis:
    addr: "cache:6379"
`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Storage.Redis.Addr != "cache:6379" {
					t.Errorf("got addr %q, want %q", cfg.Storage.Redis.Addr, "cache:6379")
				}
			},
		},
		{
			name: "invalid driver rejected",
			yaml: `
storage:
  driver: "mongodb"
`,
			wantErr: true,
		},
		{
			name: "invalid partition rejected",
			yaml: `
storage:
  partition: "week"
`,
			wantErr: true,
		},
		{
			name: "zero cap rejected",
			yaml: `
storage:
  max_per_boss: 0
`,
			wantErr: true,
		},
		{
			name:    "unknown timezone rejected",
			yaml:    `timezone: "Mars/Olympus_Mons"`,
			wantErr: true,
		},
		{
			name: "bad watch schedule rejected",
			yaml: `
watch:
  schedule: "every so often"
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatal(err)
			}

			cfg, err := config.Load(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && cfg != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := config.Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := config.PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "user",
		Password: "pass",
		DBName:   "testdb",
		SSLMode:  "disable",
	}
	want := "host=localhost port=5432 user=user password=pass dbname=testdb sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestConfig_Location(t *testing.T) {
	cfg := config.Default()

	cfg.Timezone = "Local"
	if loc, err := cfg.Location(); err != nil || loc != time.Local {
		t.Errorf("Location(Local) = %v, %v", loc, err)
	}

	cfg.Timezone = "UTC"
	if loc, err := cfg.Location(); err != nil || loc != time.UTC {
		t.Errorf("Location(UTC) = %v, %v", loc, err)
	}
}
