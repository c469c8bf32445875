package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/harun/pulse/pkg/envelope"
)

var validateEnvelope bool

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a sessions payload or envelope",
	Long: `Validate a JSON payload against the wire schemas. The file may hold an
aggregates payload or a single session update; use "-" to read stdin.

With --envelope the input is decoded as an envelope and every item is
validated.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolVar(&validateEnvelope, "envelope", false, "treat the input as an envelope")
}

func runValidate(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if validateEnvelope {
		env, err := envelope.Decode(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("invalid envelope: %w", err)
		}
		for i, item := range env.Items {
			if err := validateItem(item); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			fmt.Fprintf(out, "item %d: valid %s payload\n", i, item.Type)
		}
		fmt.Fprintf(out, "OK: envelope with %d item(s)\n", len(env.Items))
		return nil
	}

	kind, err := validatePayload(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "OK: valid %s payload\n", kind)
	return nil
}

// validatePayload detects the payload kind from its top-level keys and
// checks it against the matching schema.
func validatePayload(data []byte) (string, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}

	switch {
	case probe["aggregates"] != nil:
		if err := envelope.ValidateAggregatesJSON(data); err != nil {
			return "", err
		}
		return "sessions", nil
	case probe["sid"] != nil:
		if err := envelope.ValidateSessionJSON(data); err != nil {
			return "", err
		}
		return "session", nil
	default:
		return "", fmt.Errorf("unrecognized payload: expected \"aggregates\" or \"sid\"")
	}
}

func validateItem(item envelope.Item) error {
	switch item.Type {
	case envelope.ItemTypeSessions:
		return envelope.ValidateAggregatesJSON(item.Payload)
	case envelope.ItemTypeSession:
		return envelope.ValidateSessionJSON(item.Payload)
	default:
		return fmt.Errorf("unsupported item type: %s", item.Type)
	}
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
