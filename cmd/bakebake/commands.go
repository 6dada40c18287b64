package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bakebake-xr/bakebake/internal/api"
	"github.com/bakebake-xr/bakebake/internal/concept"
	"github.com/bakebake-xr/bakebake/internal/config"
	"github.com/bakebake-xr/bakebake/internal/pipeline"
)

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server health, cooldown state and configured credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if _, err := client.get(cmd.Context(), "/health", nil); err != nil {
			printStatus("Server", "stopped")
			return nil
		}
		printStatus("Server", "running")

		var st api.Status
		if _, err := client.get(cmd.Context(), "/api/status", &st); err != nil {
			return err
		}

		if st.Configured {
			printStatus("Providers", "%d gemini key(s), openrouter %s", st.Providers.PrimaryKeys, onOff(st.Providers.Secondary))
		} else {
			printStatus("Providers", "%s", colorize(colorRed, "none configured"))
		}
		if st.Cooldown.Active {
			printStatus("Cooldown", "%s, %.1fs remaining", colorize(colorYellow, "active"), float64(st.Cooldown.RemainingMs)/1000)
		} else {
			printStatus("Cooldown", "inactive (window %.0fs)", float64(st.Cooldown.WindowMs)/1000)
		}
		return nil
	},
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Request concept candidates from a running server",
	Long: `Request concept candidates from a running server.

The request is either read whole from --file (use - for stdin) or built
from flags.

Examples:
  bakebake generate --file request.json
  bakebake generate --id visitor-1 --text "夜道で名前を呼ばれた" --answer where=川辺
  bakebake generate --id v2 --text "..." --folklore hits.json --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := buildGenerateRequest(cmd)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var result api.ConceptsResponse
		resp, err := client.post(cmd.Context(), "/api/concepts", body, &result)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}

		printConcepts(result.Concepts)
		if resp.Header().Get(api.HeaderCooldownFallback) == "true" {
			printWarning("provider cooldown active; generated candidate is a placeholder")
		}
		printStatus("Time", "%s ms", resp.Header().Get(api.HeaderProcessingTime))
		return nil
	},
}

func init() {
	registerGenerateFlags(generateCmd)
}

func registerGenerateFlags(cmd *cobra.Command) {
	cmd.Flags().String("file", "", "JSON request body (- for stdin)")
	cmd.Flags().String("id", "", "visitor handle id")
	cmd.Flags().String("text", "", "visitor's account of the experience")
	cmd.Flags().StringArray("answer", nil, "question answer as key=value (repeatable)")
	cmd.Flags().String("folklore", "", "JSON file with ranked folklore hits")
	cmd.Flags().Bool("json", false, "print the raw JSON response")
}

func buildGenerateRequest(cmd *cobra.Command) (api.ConceptsRequest, error) {
	var req api.ConceptsRequest

	if file, _ := cmd.Flags().GetString("file"); file != "" {
		data, err := readInput(cmd, file)
		if err != nil {
			return req, err
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("parsing %s: %w", file, err)
		}
		return req, nil
	}

	id, _ := cmd.Flags().GetString("id")
	if id == "" {
		return req, fmt.Errorf("one of --file or --id is required")
	}
	text, _ := cmd.Flags().GetString("text")
	req.Handle = &pipeline.Handle{ID: id, Text: text}

	pairs, _ := cmd.Flags().GetStringArray("answer")
	req.Answers = make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return req, fmt.Errorf("invalid --answer %q, want key=value", p)
		}
		req.Answers[strings.TrimSpace(k)] = v
	}

	req.Folklore = []concept.FolkloreHit{}
	if file, _ := cmd.Flags().GetString("folklore"); file != "" {
		data, err := readInput(cmd, file)
		if err != nil {
			return req, err
		}
		if err := json.Unmarshal(data, &req.Folklore); err != nil {
			return req, fmt.Errorf("parsing %s: %w", file, err)
		}
	}
	return req, nil
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or edit configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Path != "" {
			printStatus("File", "%s", cfg.Path)
		} else {
			printStatus("File", "(none, defaults and environment only)")
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value in the YAML file",
	Long: fmt.Sprintf(`Set a config value in the YAML file.

API keys are never written to the file; set them in the environment or .env.

Valid keys:
  %s`, strings.Join(config.ValidKeys(), "\n  ")),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ResolvePath(configPath)
		if path == "" {
			path = config.DefaultFile
		}
		if err := config.SetKey(path, args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Set %s = %s in %s", args[0], args[1], path)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a config value from the YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ResolvePath(configPath)
		if err := config.UnsetKey(path, args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s in %s", args[0], path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
