package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/harun/pulse/pkg/envelope"
)

// useConfig writes settings to a temporary config file and points the
// --config flag at it for the duration of the test.
func useConfig(t *testing.T, settings map[string]any) string {
	t.Helper()

	if _, ok := settings["logging"]; !ok {
		settings["logging"] = map[string]any{"console": false}
	}

	data, err := json.Marshal(settings)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "pulse.json")
	require.NoError(t, os.WriteFile(path, data, 0644))

	prev := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = prev })
	return path
}

// testCommand returns a bare command wired to the given stdin so run
// functions can be exercised without the shared root command's flag state.
func testCommand(stdin string) (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	out := &bytes.Buffer{}
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	return cmd, out
}

// collector records every envelope item posted to it.
type collector struct {
	mu         sync.Mutex
	aggregates []envelope.Aggregates
	sessions   []envelope.SessionRecord
	server     *httptest.Server
}

func newCollector(t *testing.T) *collector {
	t.Helper()
	c := &collector{}
	c.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env, err := envelope.Decode(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		for _, item := range env.Items {
			switch item.Type {
			case envelope.ItemTypeSessions:
				var p envelope.Aggregates
				if err := json.Unmarshal(item.Payload, &p); err == nil {
					c.aggregates = append(c.aggregates, p)
				}
			case envelope.ItemTypeSession:
				var rec envelope.SessionRecord
				if err := json.Unmarshal(item.Payload, &rec); err == nil {
					c.sessions = append(c.sessions, rec)
				}
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(c.server.Close)
	return c
}

func (c *collector) snapshot() ([]envelope.Aggregates, []envelope.SessionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]envelope.Aggregates(nil), c.aggregates...), append([]envelope.SessionRecord(nil), c.sessions...)
}
