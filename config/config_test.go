package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "server:\n  port: 9090\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "FramboyanScheduler", cfg.Studio.Name)
	assert.Equal(t, 2.9, cfg.Payment.ProcessingFeePercentage)
	assert.Equal(t, 0.30, cfg.Payment.ProcessingFeeFixed)
	assert.Equal(t, "usd", cfg.Payment.Currency)
	assert.False(t, cfg.Membership.AllowSelfApply)
	assert.Equal(t, 2*time.Hour, cfg.Booking.CancelCutoff())
	assert.Equal(t, 30*time.Minute, cfg.Booking.CheckInWindow())
}

func TestLoad_PrefersLocalConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "studio:\n  name: Public\n")
	writeConfig(t, dir, "config.local.yaml", "studio:\n  name: Local Studio\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Local Studio", cfg.Studio.Name)
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "membership:\n  allow_self_apply: false\n")
	t.Setenv("MEMBERSHIP_ALLOW_SELF_APPLY", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Membership.AllowSelfApply)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNotificationConfig_KindEnabled(t *testing.T) {
	cfg := NotificationConfig{Kinds: map[string]bool{"PaymentConfirmed": false}}

	assert.False(t, cfg.KindEnabled("PaymentConfirmed"))
	assert.True(t, cfg.KindEnabled("BookingConfirmed"))
	assert.True(t, NotificationConfig{}.KindEnabled("WelcomeRegistered"))
}

func TestLoad_NotificationKinds(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "notification:\n  kinds:\n    PaymentConfirmed: false\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Notification.KindEnabled("PaymentConfirmed"))
	assert.True(t, cfg.Notification.KindEnabled("WelcomeRegistered"))
	assert.Equal(t, 3, cfg.Notification.MaxAttempts)
}

func TestServerConfig_RequestTimeout(t *testing.T) {
	assert.Equal(t, 15*time.Second, ServerConfig{}.RequestTimeout())
	assert.Equal(t, 3*time.Second, ServerConfig{RequestTimeoutSeconds: 3}.RequestTimeout())
}
