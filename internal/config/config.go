package config

import (
	"fmt"
	"os"
	"strings"
)

type Config struct {
	Addr              string
	DatabaseURL       string
	CaseDirectoryURL  string
	AgentDirectoryURL string
	KafkaBrokers      []string
	KafkaTopic        string
	ArchiveBucket     string
	ArchivePrefix     string
}

const (
	defaultAddr       = ":8061"
	defaultKafkaTopic = "allocation-audit-events"
)

func Load() (Config, error) {
	cfg := Config{
		Addr:              getEnv("ALLOCATION_SERVICE_ADDR", defaultAddr),
		DatabaseURL:       firstNonEmpty(os.Getenv("ALLOCATION_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		CaseDirectoryURL:  os.Getenv("CASE_DIRECTORY_URL"),
		AgentDirectoryURL: os.Getenv("AGENT_DIRECTORY_URL"),
		KafkaBrokers:      parseCSV(os.Getenv("AUDIT_KAFKA_BROKERS")),
		KafkaTopic:        getEnv("AUDIT_KAFKA_TOPIC", defaultKafkaTopic),
		ArchiveBucket:     os.Getenv("HISTORY_ARCHIVE_BUCKET"),
		ArchivePrefix:     os.Getenv("HISTORY_ARCHIVE_PREFIX"),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL or ALLOCATION_DATABASE_URL required")
	}
	if cfg.CaseDirectoryURL == "" {
		return Config{}, fmt.Errorf("CASE_DIRECTORY_URL required")
	}
	if cfg.AgentDirectoryURL == "" {
		return Config{}, fmt.Errorf("AGENT_DIRECTORY_URL required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
