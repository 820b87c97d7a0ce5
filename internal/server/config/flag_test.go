package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		expected *Config
		name     string
		args     []string
		wantErr  bool
	}{
		{
			name: "all flags",
			args: []string{
				"-a", "127.0.0.1:8081", "-g", ":6000", "-d", "db", "-s", "secret",
				"-t", "15", "-l", "4", "-p", "60", "-r", "20", "-i", "invite",
				"-b", "bucket", "-e", "http://endpoint", "-m", "http://predictor", "-v", "debug",
			},
			expected: &Config{
				HTTPAddr:           "127.0.0.1:8081",
				GRPCAddr:           ":6000",
				DatabaseDSN:        "db",
				SecretKey:          "secret",
				SessionTTL:         15 * time.Minute,
				LockoutThreshold:   4,
				LockoutPeriod:      60 * time.Second,
				LoginRatePerMinute: 20,
				AdminInviteCode:    "invite",
				S3Bucket:           "bucket",
				S3BaseEndpoint:     "http://endpoint",
				PredictorURL:       "http://predictor",
				LogLevel:           "debug",
			},
		},
		{
			name: "unrelated flags are ignored",
			args: []string{"-c", "conf.json", "-x", "1", "-a", ":1"},
			expected: &Config{
				HTTPAddr: ":1",
			},
		},
		{
			name:    "bad integer",
			args:    []string{"-l", "many"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{}
			err := parseFlags(config, tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(tt.expected, config))
		})
	}
}

func TestParseEnv(t *testing.T) {
	t.Setenv(EnvHTTPAddr, ":7000")
	t.Setenv(EnvLockoutPeriod, "120")
	t.Setenv(EnvSessionTTL, "45m")
	t.Setenv(EnvLoginBurst, "3")
	t.Setenv(EnvFieldKey, "k")

	c := &Config{}
	c.LoadDefaults()
	require.NoError(t, parseEnv(c))

	assert.Equal(t, ":7000", c.HTTPAddr)
	assert.Equal(t, 120*time.Second, c.LockoutPeriod)
	assert.Equal(t, 45*time.Minute, c.SessionTTL)
	assert.Equal(t, 3, c.LoginBurst)
	assert.Equal(t, "k", c.FieldKey)
}

func TestParseEnv_Invalid(t *testing.T) {
	t.Setenv(EnvLockoutThreshold, "five")
	c := &Config{}
	require.Error(t, parseEnv(c))

	t.Setenv(EnvLockoutThreshold, "5")
	t.Setenv(EnvLockoutPeriod, "later")
	require.Error(t, parseEnv(c))
}
