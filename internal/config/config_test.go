package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 默认 durable=mysql 需要 dsn，测试里统一用 none
func TestLoadDefaults(t *testing.T) {
	t.Setenv("VERIFY_STORE_DURABLE", "none")

	cfg, err := Load("test", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Verification.CodeLength)
	assert.Equal(t, 5*time.Minute, cfg.Verification.Expiration())
	assert.Equal(t, time.Minute, cfg.Verification.Cooldown())
	assert.Equal(t, 3, cfg.Verification.MaxRetries)
	assert.Equal(t, 5, cfg.Verification.MaxAttemptsPerHour)
	assert.Equal(t, 10*time.Minute, cfg.Verification.CleanupInterval())
	assert.False(t, cfg.Verification.DevMode)
	assert.Equal(t, "mock", cfg.Delivery.Channel)
	assert.Equal(t, 8*time.Second, cfg.Delivery.Timeout)
	assert.Equal(t, time.Second, cfg.Delivery.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Delivery.MaxDelay)
	assert.Equal(t, "SMS_VERIFY", cfg.Delivery.Template)
	assert.Equal(t, 2*time.Second, cfg.Store.Timeout)
	assert.Equal(t, "none", cfg.Events.Driver)
	assert.Equal(t, "verification-service", cfg.Log.Service)
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	yaml := `
verification:
  cooldown_seconds: 90
  dev_mode: true
delivery:
  channel: http
  timeout: 3s
  http:
    url: http://sms.local/send
store:
  durable: redis
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.test.yaml"), []byte(yaml), 0o644))
	t.Setenv("VERIFY_VERIFICATION_COOLDOWN_SECONDS", "30")

	cfg, err := Load("test", dir)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Verification.Cooldown())
	assert.True(t, cfg.Verification.DevMode)
	assert.Equal(t, "http", cfg.Delivery.Channel)
	assert.Equal(t, 3*time.Second, cfg.Delivery.Timeout)
	assert.Equal(t, "http://sms.local/send", cfg.Delivery.HTTP.URL)
	assert.Equal(t, "redis", cfg.Store.Durable)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("VERIFY_STORE_DURABLE", "none")
	t.Setenv("VERIFY_DELIVERY_CHANNEL", "pigeon")

	_, err := Load("test", t.TempDir())
	assert.ErrorContains(t, err, "delivery.channel")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Verification: VerificationConfig{
				CodeLength: 6, ExpirationMinutes: 5, CooldownSeconds: 60,
				MaxRetries: 3, MaxAttemptsPerHour: 5, CleanupIntervalMinutes: 10,
			},
			Delivery: DeliveryConfig{Channel: "mock", Timeout: 8 * time.Second, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
			Store:    StoreConfig{Durable: "none", Timeout: 2 * time.Second},
			Events:   EventsConfig{Driver: "none"},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"code length", func(c *Config) { c.Verification.CodeLength = 3 }, "code_length"},
		{"zero cooldown", func(c *Config) { c.Verification.CooldownSeconds = 0 }, "正数"},
		{"aliyun without key", func(c *Config) { c.Delivery.Channel = "aliyun" }, "access key"},
		{"mysql without dsn", func(c *Config) { c.Store.Durable = "mysql" }, "mysql.dsn"},
		{"unknown store", func(c *Config) { c.Store.Durable = "etcd" }, "store.durable"},
		{"kafka without brokers", func(c *Config) { c.Events.Driver = "sarama" }, "events.brokers"},
		{"backoff cap below base", func(c *Config) { c.Delivery.MaxDelay = time.Millisecond }, "退避"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			c.Log.Service, c.Log.Level, c.Log.Encoding, c.Log.Stdout = "verification-service", "info", "json", true
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.errMsg)
		})
	}

	c := valid()
	c.Log.Service, c.Log.Level, c.Log.Encoding, c.Log.Stdout = "verification-service", "info", "json", true
	assert.NoError(t, c.Validate())
}
