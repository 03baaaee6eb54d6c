package config

import (
	"os"
	"strconv"
	"strings"
)

const (
	defaultCsvImportMaxSize = 10 << 20
	defaultGeocodingURL     = "https://api-adresse.data.gouv.fr/search/csv/"
)

// CsvImportMaxSize is the largest accepted import upload, in bytes.
//
// Set via env:
// - CSV_IMPORT_MAX_SIZE=10485760
func CsvImportMaxSize() int64 {
	v := strings.TrimSpace(os.Getenv("CSV_IMPORT_MAX_SIZE"))
	if v == "" {
		return defaultCsvImportMaxSize
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return defaultCsvImportMaxSize
	}
	return n
}

func GeocodingURL() string {
	if v := strings.TrimSpace(os.Getenv("GEOCODING_URL")); v != "" {
		return v
	}
	return defaultGeocodingURL
}

// GeocodingDisabled turns off post-import enrichment (tests, offline runs).
func GeocodingDisabled() bool {
	return boolFromEnv("GEOCODING_DISABLED")
}

func MigrationsSkipped() bool {
	return boolFromEnv("SKIP_MIGRATIONS")
}

func RateLimitEnabled() bool {
	return boolFromEnv("RATE_LIMIT_ENABLED")
}

func IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production")
}
