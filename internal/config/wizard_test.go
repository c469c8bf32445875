package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWizardRun(t *testing.T) {
	t.Run("accepts defaults", func(t *testing.T) {
		in := strings.NewReader("\n\n\n\n\n")
		var out bytes.Buffer

		cfg, err := NewWizard(in, &out).Run()

		require.NoError(t, err)
		assert.Equal(t, "", cfg.Release)
		assert.Equal(t, "production", cfg.Environment)
		assert.Equal(t, TransportNoop, cfg.Transport.Kind)
		assert.Equal(t, 60, cfg.Flusher.Interval)
		assert.Contains(t, out.String(), "Configuration complete!")
	})

	t.Run("http transport re-asks invalid answers", func(t *testing.T) {
		answers := []string{
			"shop@2.4.1",
			"staging",
			"ftp",
			"http",
			"ws://wrong-scheme",
			"https://collector.example.com/envelope",
			"token-123",
			"abc",
			"debug",
		}
		in := strings.NewReader(strings.Join(answers, "\n") + "\n")
		var out bytes.Buffer

		cfg, err := NewWizard(in, &out).Run()

		require.NoError(t, err)
		assert.Equal(t, "shop@2.4.1", cfg.Release)
		assert.Equal(t, TransportHTTP, cfg.Transport.Kind)
		assert.Equal(t, "https://collector.example.com/envelope", cfg.Transport.URL)
		assert.Equal(t, "token-123", cfg.Transport.AuthToken)
		assert.Equal(t, 60, cfg.Flusher.Interval)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Contains(t, out.String(), "invalid transport kind")
		assert.Contains(t, out.String(), "invalid interval")
		assert.NoError(t, cfg.Validate())
	})

	t.Run("fails when input ends", func(t *testing.T) {
		_, err := NewWizard(strings.NewReader("shop@1.0\n"), &bytes.Buffer{}).Run()
		assert.Error(t, err)
	})
}
