package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jholhewres/replygo/pkg/replygo/config"
)

// newConfigCmd creates the `replygo config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and inspect the configuration file",
		Long: `Create and inspect the replygo configuration file.

Examples:
  replygo config init
  replygo config show
  replygo config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

// configTemplate is the commented starter config written by `config init`.
// Secrets default to environment references so nothing sensitive lands on
// disk; durations accept Go syntax ("30s", "5m", "3h").
const configTemplate = `# replygo configuration
#
# Secrets: leave password/api_key as ${ENV_VAR} references, or remove them
# and store the values with 'replygo auth set platform' / 'replygo auth set dify'.

platform:
  # Customer-service platform HTTP API root (login, send, mark-read).
  base_url: "https://platform.example.com"
  username: "operator@example.com"
  password: "${REPLYGO_PLATFORM_PASSWORD}"

gateway:
  # Websocket endpoint. The channel token is appended at dial time.
  url: "wss://platform.example.com/ws"
  heartbeat_interval: 5s
  max_missed_heartbeats: 2
  health_check_interval: 15s
  health_check_window: 3s
  reconnect_delay: 5s
  max_reconnect_attempts: 3
  write_timeout: 10s
  handshake_timeout: 20s

ai:
  # Dify-compatible completion API.
  base_url: "https://api.dify.ai/v1"
  api_key: "${REPLYGO_DIFY_API_KEY}"
  # Prompt inputs sent with every completion.
  inputs:
    register_url: "https://example.com/register"
    whatsapp_url: "https://wa.me/5500000000000"
    hr_name: "Ana"
    language: "pt-BR"

store:
  # SQLite file holding conversation state. Parent directory is created.
  path: "./data/conversations.db"

monitor:
  # Periodic sweep that re-engages conversations gone quiet.
  enabled: true
  poll_interval: 30s
  stale_after: 3h
  max_activations: 3
  prompt: "system_return_visit"

session:
  # The daemon logs in again somewhere in this window, keeping platform
  # tokens fresh. Set both to 0 to disable.
  recycle_after_min: 1h
  recycle_after_max: 3h

logging:
  level: "info"   # debug, info, warn, error
  format: "json"  # json, text
`

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented starter config.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Root().PersistentFlags().GetString("config")
			if path == "" {
				path = "config.yaml"
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}

			fmt.Printf("Wrote %s\n", path)
			fmt.Println()
			fmt.Println("Next steps:")
			fmt.Println("  1. Edit the platform and gateway URLs for your deployment")
			fmt.Println("  2. Store credentials: replygo auth set platform && replygo auth set dify")
			fmt.Println("  3. Start the daemon: replygo serve")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			fmt.Printf("Config file:   %s\n", path)
			fmt.Println()
			fmt.Printf("Platform:      %s (as %s)\n", cfg.Platform.BaseURL, cfg.Platform.Username)
			fmt.Printf("  password:    %s\n", describeSecret(cfg.Platform.Password))
			fmt.Printf("Gateway:       %s\n", cfg.Gateway.URL)
			fmt.Printf("  heartbeat:   every %s, reconnect after %d missed\n",
				cfg.Gateway.HeartbeatInterval, cfg.Gateway.MaxMissedHeartbeats)
			fmt.Printf("  reconnect:   %d attempts, %s apart\n",
				cfg.Gateway.MaxReconnectAttempts, cfg.Gateway.ReconnectDelay)
			fmt.Printf("AI:            %s\n", cfg.AI.BaseURL)
			fmt.Printf("  api key:     %s\n", describeSecret(cfg.AI.APIKey))
			fmt.Printf("  inputs:      %d configured\n", len(cfg.AI.Inputs))
			fmt.Printf("Store:         %s\n", cfg.Store.Path)
			if cfg.Monitor.Enabled {
				fmt.Printf("Monitor:       every %s, stale after %s, max %d re-engagements\n",
					cfg.Monitor.PollInterval, cfg.Monitor.StaleAfter, cfg.Monitor.MaxActivations)
			} else {
				fmt.Printf("Monitor:       disabled\n")
			}
			if cfg.Session.RecycleAfterMin <= 0 && cfg.Session.RecycleAfterMax <= 0 {
				fmt.Printf("Session:       recycling disabled\n")
			} else {
				fmt.Printf("Session:       recycle between %s and %s\n",
					cfg.Session.RecycleAfterMin, cfg.Session.RecycleAfterMax)
			}
			fmt.Printf("Logging:       %s (%s)\n", cfg.Logging.Level, cfg.Logging.Format)
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path that would be used",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path, _ := cmd.Root().PersistentFlags().GetString("config"); path != "" {
				fmt.Println(path)
				return nil
			}
			if found := config.FindConfigFile(); found != "" {
				fmt.Println(found)
				return nil
			}
			return fmt.Errorf("no configuration file found (run 'replygo config init')")
		},
	}
}

// describeSecret says how a secret is configured without revealing it.
func describeSecret(val string) string {
	switch {
	case val == "":
		return "(not in config — resolved from vault/keyring/env at startup)"
	case config.IsEnvReference(val):
		return val
	default:
		return "**** (plaintext in config — prefer 'replygo auth set')"
	}
}
