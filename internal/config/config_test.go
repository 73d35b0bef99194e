package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:         "development",
		Port:        "8375",
		JWTSecret:   "secure-secret-at-least-32-chars-long",
		DBDriver:    "postgres",
		DBPassword:  "secure-password",
		DBSSLMode:   "require",
		Broker:      "local",
		BlobBackend: "local",
		MaxUploadMB: 10,
	}
}

func TestConfig_ValidateSSLMode(t *testing.T) {
	tests := []struct {
		name        string
		env         string
		sslMode     string
		expectError bool
	}{
		{"Production with empty SSL mode", "production", "", true},
		{"Production with disable SSL mode", "production", "disable", true},
		{"Production with require SSL mode", "production", "require", false},
		{"Prod with verify-full SSL mode", "prod", "verify-full", false},
		{"Development with disable SSL mode", "development", "disable", false},
		{"Test with empty SSL mode", "test", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			c.Env = tt.env
			c.DBSSLMode = tt.sslMode

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateBackends(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown db driver", func(c *Config) { c.DBDriver = "mysql" }, "DB_DRIVER"},
		{"unknown broker", func(c *Config) { c.Broker = "kafka" }, "BROKER"},
		{"pubsub without project", func(c *Config) { c.Broker = "pubsub" }, "GCS_PROJECT_ID"},
		{"unknown blob backend", func(c *Config) { c.BlobBackend = "s3" }, "BLOB_BACKEND"},
		{"minio without credentials", func(c *Config) { c.BlobBackend = "minio" }, "MINIO_ENDPOINT"},
		{"gcs without bucket", func(c *Config) { c.BlobBackend = "gcs" }, "BLOB_BUCKET"},
		{"zero upload size", func(c *Config) { c.MaxUploadMB = 0 }, "MAX_UPLOAD_MB"},
		{"default secret in production", func(c *Config) {
			c.Env = "production"
			c.JWTSecret = defaultJWTSecret
		}, "JWT_SECRET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_SQLiteSkipsPostgresProductionChecks(t *testing.T) {
	c := validConfig()
	c.Env = "production"
	c.DBDriver = "sqlite"
	c.DBPassword = ""
	c.DBSSLMode = ""
	assert.NoError(t, c.Validate())
}

func TestLoadConfig_SeedDemoDefaultsOff(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	defer viper.Reset()

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.False(t, c.SeedDemo)
	assert.Equal(t, "local", c.Broker)
}

func TestLoadConfig_Normalization(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DB_SSLMODE", "  DISABLE  ")
	t.Setenv("BLOB_BACKEND", " Local ")
	t.Setenv("PUBLIC_BASE_URL", "http://localhost:8375/")
	defer viper.Reset()

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "disable", c.DBSSLMode)
	assert.Equal(t, "local", c.BlobBackend)
	assert.Equal(t, "http://localhost:8375", c.PublicBaseURL)
	assert.Equal(t, int64(10*1024*1024), c.MaxUploadBytes())
}
