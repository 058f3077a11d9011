package config

import (
	"testing"
	"time"

	"github.com/arcflow-db/eventjournal/internal/model"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Provider != model.ProviderPostgres {
		t.Fatalf("expected default provider %q, got %q", model.ProviderPostgres, cfg.Provider)
	}
	if cfg.TagMode != model.TagModeTagTable {
		t.Fatalf("expected default tag mode %q, got %q", model.TagModeTagTable, cfg.TagMode)
	}
	if cfg.Parallelism != 4 {
		t.Fatalf("expected default parallelism 4, got %d", cfg.Parallelism)
	}
	if cfg.BufferSize != 1000 {
		t.Fatalf("expected default buffer size 1000, got %d", cfg.BufferSize)
	}
	if cfg.SafetyWindow != 1 {
		t.Fatalf("expected default safety window 1, got %d", cfg.SafetyWindow)
	}
	if cfg.DeleteCompatibilityMode {
		t.Fatal("expected delete compatibility mode to be disabled by default")
	}
}

func TestLoadFailsOnInvalidInt(t *testing.T) {
	t.Setenv("JOURNAL_PARALLELISM", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid JOURNAL_PARALLELISM")
	}
	if !contains(err.Error(), "JOURNAL_PARALLELISM") || !contains(err.Error(), "abc") {
		t.Fatalf("error should mention JOURNAL_PARALLELISM and value 'abc', got: %s", err.Error())
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("JOURNAL_PARALLELISM", "abc")
	t.Setenv("JOURNAL_BATCH_SIZE", "xyz")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !contains(got, "JOURNAL_PARALLELISM") {
		t.Fatalf("error should mention JOURNAL_PARALLELISM, got: %s", got)
	}
	if !contains(got, "JOURNAL_BATCH_SIZE") {
		t.Fatalf("error should mention JOURNAL_BATCH_SIZE, got: %s", got)
	}
}

func TestLoadFailsOnUnsupportedProvider(t *testing.T) {
	t.Setenv("JOURNAL_PROVIDER", "oracle")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with an unsupported provider")
	}
	if !contains(err.Error(), "oracle") {
		t.Fatalf("error should mention the offending value, got: %s", err.Error())
	}
}

func TestLoadFailsOnUnsupportedTagMode(t *testing.T) {
	t.Setenv("JOURNAL_TAG_MODE", "xml")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with an unsupported tag mode")
	}
}

func TestLoadAllEnvVarsHonored(t *testing.T) {
	t.Setenv("JOURNAL_DATABASE_URL", "postgres://test:test@db:5432/testdb")
	t.Setenv("JOURNAL_PROVIDER", "sqlite-ms")
	t.Setenv("JOURNAL_TAG_MODE", "csv")
	t.Setenv("JOURNAL_PARALLELISM", "8")
	t.Setenv("JOURNAL_BUFFER_SIZE", "2000")
	t.Setenv("JOURNAL_BATCH_SIZE", "250")
	t.Setenv("JOURNAL_MAX_ROW_BY_ROW_SIZE", "75")
	t.Setenv("JOURNAL_DB_ROUND_TRIP_BATCH_SIZE", "500")
	t.Setenv("JOURNAL_DB_ROUND_TRIP_TAG_BATCH_SIZE", "500")
	t.Setenv("JOURNAL_PREFER_PARAMETERS_ON_MULTI_ROW_INSERT", "true")
	t.Setenv("JOURNAL_DELETE_COMPATIBILITY_MODE", "true")
	t.Setenv("JOURNAL_REFRESH_INTERVAL", "5s")
	t.Setenv("JOURNAL_MAX_BUFFER_SIZE", "750")
	t.Setenv("JOURNAL_AUTO_INITIALIZE", "true")
	t.Setenv("JOURNAL_USE_CLONE_CONNECTION", "true")
	t.Setenv("JOURNAL_SAFETY_WINDOW", "3")
	t.Setenv("JOURNAL_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}

	if cfg.ConnectionString != "postgres://test:test@db:5432/testdb" {
		t.Fatalf("unexpected ConnectionString %q", cfg.ConnectionString)
	}
	if cfg.Provider != model.ProviderSQLiteMS {
		t.Fatalf("unexpected Provider %q", cfg.Provider)
	}
	if cfg.TagMode != model.TagModeCSV {
		t.Fatalf("unexpected TagMode %q", cfg.TagMode)
	}
	if cfg.Parallelism != 8 {
		t.Fatalf("unexpected Parallelism %d", cfg.Parallelism)
	}
	if cfg.BufferSize != 2000 {
		t.Fatalf("unexpected BufferSize %d", cfg.BufferSize)
	}
	if cfg.BatchSize != 250 {
		t.Fatalf("unexpected BatchSize %d", cfg.BatchSize)
	}
	if cfg.MaxRowByRowSize != 75 {
		t.Fatalf("unexpected MaxRowByRowSize %d", cfg.MaxRowByRowSize)
	}
	if cfg.DBRoundTripBatchSize != 500 {
		t.Fatalf("unexpected DBRoundTripBatchSize %d", cfg.DBRoundTripBatchSize)
	}
	if cfg.DBRoundTripTagBatchSize != 500 {
		t.Fatalf("unexpected DBRoundTripTagBatchSize %d", cfg.DBRoundTripTagBatchSize)
	}
	if !cfg.PreferParametersOnMultiRowInsert {
		t.Fatal("expected PreferParametersOnMultiRowInsert true")
	}
	if !cfg.DeleteCompatibilityMode {
		t.Fatal("expected DeleteCompatibilityMode true")
	}
	if cfg.RefreshInterval != 5*time.Second {
		t.Fatalf("unexpected RefreshInterval %s", cfg.RefreshInterval)
	}
	if cfg.MaxBufferSize != 750 {
		t.Fatalf("unexpected MaxBufferSize %d", cfg.MaxBufferSize)
	}
	if !cfg.AutoInitialize {
		t.Fatal("expected AutoInitialize true")
	}
	if !cfg.UseCloneConnection {
		t.Fatal("expected UseCloneConnection true")
	}
	if cfg.SafetyWindow != 3 {
		t.Fatalf("unexpected SafetyWindow %d", cfg.SafetyWindow)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("unexpected LogLevel %q", cfg.LogLevel)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchSubstring(s, substr)
}

func searchSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
