package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"unify/internal/resolve/cluster"
	"unify/internal/resolve/models"
	"unify/internal/resolve/store/postgres"
)

// Config captures everything the resolver binary needs from its
// environment so main stays lean.
type Config struct {
	DatabaseURL    string
	ClusterCap     int
	WriteBatchSize int
	AdminAddr      string
	RedisURL       string
	RunLockTTL     time.Duration
	KafkaBrokers   []string
	AnnounceTopic  string
	FactTables     []models.FactTable
}

// FromEnv builds a Config from environment variables.
func FromEnv() (Config, error) {
	cfg := Config{
		DatabaseURL:    os.Getenv("UNIFY_DATABASE_URL"),
		ClusterCap:     cluster.DefaultSizeCap,
		WriteBatchSize: postgres.DefaultBatchSize,
		AdminAddr:      envOr("UNIFY_ADMIN_ADDR", ":8091"),
		RedisURL:       os.Getenv("UNIFY_REDIS_URL"),
		RunLockTTL:     2 * time.Hour,
		AnnounceTopic:  os.Getenv("UNIFY_ANNOUNCE_TOPIC"),
	}

	if raw := os.Getenv("UNIFY_CLUSTER_CAP"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("UNIFY_CLUSTER_CAP: %w", err)
		}
		cfg.ClusterCap = n
	}
	if raw := os.Getenv("UNIFY_WRITE_BATCH_SIZE"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("UNIFY_WRITE_BATCH_SIZE: %w", err)
		}
		if n < 1 {
			return Config{}, fmt.Errorf("UNIFY_WRITE_BATCH_SIZE must be positive, got %d", n)
		}
		cfg.WriteBatchSize = n
	}
	if raw := os.Getenv("UNIFY_RUN_LOCK_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("UNIFY_RUN_LOCK_TTL: %w", err)
		}
		cfg.RunLockTTL = ttl
	}
	if raw := os.Getenv("UNIFY_KAFKA_BROKERS"); raw != "" {
		cfg.KafkaBrokers = strings.Split(raw, ",")
	}

	tables, err := ParseFactTables(os.Getenv("UNIFY_FACT_TABLES"))
	if err != nil {
		return Config{}, err
	}
	cfg.FactTables = tables

	return cfg, nil
}

// ParseFactTables parses the backfill table list:
// "table:ref_col:person_col[:email_col]" entries, comma separated.
func ParseFactTables(raw string) ([]models.FactTable, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var tables []models.FactTable
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) < 3 || len(parts) > 4 {
			return nil, fmt.Errorf("fact table entry %q: want table:ref_col:person_col[:email_col]", entry)
		}
		table := models.FactTable{
			Name:         parts[0],
			RefColumn:    parts[1],
			PersonColumn: parts[2],
		}
		if len(parts) == 4 {
			table.EmailColumn = parts[3]
		}
		if table.Name == "" || table.RefColumn == "" || table.PersonColumn == "" {
			return nil, fmt.Errorf("fact table entry %q: empty segment", entry)
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
