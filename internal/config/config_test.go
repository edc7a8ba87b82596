package config

import (
	"context"
	"testing"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH_APP_KEY", "test-key")
	t.Setenv("AUTH_APP_SECRET", "test-secret")
	t.Setenv("CHANNEL_ID", "chan-1")
}

func TestLoad_Defaults(t *testing.T) {
	requiredEnv(t)

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, APIConfig{
		URL:                   "https://device-api.urbanairship.com",
		AppKey:                "test-key",
		AppSecret:             "test-secret",
		RequestTimeoutSeconds: 30,
	}, cfg.API)
	assert.Equal(t, ChannelConfig{
		ID:                     "chan-1",
		RefreshIntervalSeconds: 60,
	}, cfg.Channel)
	assert.Equal(t, ServerConfig{
		Port:                        8080,
		ShutdownTimeoutSeconds:      25,
		OutgoingHTTPMaxIdleConns:    100,
		OutgoingHTTPMaxConnsPerHost: 20,
	}, cfg.Server)
	assert.Equal(t, "channel-auth-bridge", cfg.Observe.ServiceName)
	assert.Equal(t, "grpc", cfg.Observe.Type)
	assert.False(t, cfg.Observe.Enabled)
}

func TestLoad_ChannelFile(t *testing.T) {
	t.Setenv("AUTH_APP_KEY", "test-key")
	t.Setenv("AUTH_APP_SECRET", "test-secret")
	t.Setenv("CHANNEL_ID_FILE", "/var/run/channel")
	t.Setenv("CHANNEL_REFRESH_INTERVAL_SECS", "5")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ChannelConfig{
		IDFile:                 "/var/run/channel",
		RefreshIntervalSeconds: 5,
	}, cfg.Channel)
}

func TestLoad_MissingRequired(t *testing.T) {
	lookup := envconfig.MapLookuper(map[string]string{
		"CHANNEL_ID": "chan-1",
	})

	_, err := load(context.Background(), lookup)
	assert.ErrorContains(t, err, "AUTH_APP_KEY")
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name     string
		env      map[string]string
		expected string
	}{
		{
			name:     "no channel source",
			env:      map[string]string{},
			expected: "one of CHANNEL_ID or CHANNEL_ID_FILE is required",
		},
		{
			name: "both channel sources",
			env: map[string]string{
				"CHANNEL_ID":      "chan-1",
				"CHANNEL_ID_FILE": "/var/run/channel",
			},
			expected: "cannot both be set",
		},
		{
			name: "non-positive refresh interval",
			env: map[string]string{
				"CHANNEL_ID_FILE":               "/var/run/channel",
				"CHANNEL_REFRESH_INTERVAL_SECS": "0",
			},
			expected: "CHANNEL_REFRESH_INTERVAL_SECS must be positive",
		},
		{
			name: "relative API URL",
			env: map[string]string{
				"CHANNEL_ID":   "chan-1",
				"AUTH_API_URL": "/api",
			},
			expected: "AUTH_API_URL must be an absolute http(s) URL",
		},
		{
			name: "non-positive request timeout",
			env: map[string]string{
				"CHANNEL_ID":                "chan-1",
				"AUTH_REQUEST_TIMEOUT_SECS": "-1",
			},
			expected: "AUTH_REQUEST_TIMEOUT_SECS must be positive",
		},
		{
			name: "unknown exporter",
			env: map[string]string{
				"CHANNEL_ID":   "chan-1",
				"OBSERVE_TYPE": "zipkin",
			},
			expected: "OBSERVE_TYPE must be one of grpc, stdout",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := map[string]string{
				"AUTH_APP_KEY":    "test-key",
				"AUTH_APP_SECRET": "test-secret",
			}
			for k, v := range tc.env {
				env[k] = v
			}

			_, err := load(context.Background(), envconfig.MapLookuper(env))
			assert.ErrorContains(t, err, tc.expected)
		})
	}
}
