package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jholhewres/replygo/pkg/replygo/config"
)

// newAuthCmd creates the `replygo auth` command group for managing the
// platform password and Dify API key.
func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage stored credentials",
		Long: `Manage the platform password and the Dify API key.

Secrets are stored in the OS keyring by default, or in an encrypted
vault (AES-256-GCM + Argon2id) with --vault. At startup replygo
resolves each secret from: vault, OS keyring, environment, .env file,
config file — in that order.

Examples:
  replygo auth set platform
  replygo auth set dify --vault
  replygo auth get dify
  replygo auth delete platform
  replygo auth list
  replygo auth rotate`,
	}

	cmd.AddCommand(newAuthSetCmd())
	cmd.AddCommand(newAuthGetCmd())
	cmd.AddCommand(newAuthDeleteCmd())
	cmd.AddCommand(newAuthListCmd())
	cmd.AddCommand(newAuthRotateCmd())

	return cmd
}

func newAuthSetCmd() *cobra.Command {
	var useVault bool

	cmd := &cobra.Command{
		Use:   "set <platform|dify>",
		Short: "Store a credential in the OS keyring or the vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name, err := secretName(args[0])
			if err != nil {
				return err
			}

			value, err := config.ReadPassword("Secret value (hidden input): ")
			if err != nil {
				return fmt.Errorf("reading secret: %w", err)
			}
			if value == "" {
				return fmt.Errorf("empty secret, nothing stored")
			}

			if useVault {
				vault, err := openVault()
				if err != nil {
					return err
				}
				defer vault.Lock()
				if err := vault.Set(name, value); err != nil {
					return fmt.Errorf("storing in vault: %w", err)
				}
				fmt.Printf("%s encrypted and stored in %s.\n", args[0], vault.Path())
				return nil
			}

			if !config.KeyringAvailable() {
				return fmt.Errorf("OS keyring unavailable on this system, retry with --vault")
			}
			if err := config.StoreKeyring(name, value); err != nil {
				return fmt.Errorf("storing in OS keyring: %w", err)
			}
			fmt.Printf("%s stored in the OS keyring.\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&useVault, "vault", false, "store in the encrypted vault instead of the OS keyring")
	return cmd
}

func newAuthGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <platform|dify>",
		Short: "Show where a credential is stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name, err := secretName(args[0])
			if err != nil {
				return err
			}

			// Walk the same chain the daemon resolves at startup.
			vault := config.NewVault(config.VaultFile)
			if vault.Exists() {
				password, err := config.ReadPassword("Vault password (Enter to skip): ")
				if err == nil && password != "" {
					if err := vault.Unlock(password); err != nil {
						fmt.Printf("Vault: %v\n", err)
					} else {
						defer vault.Lock()
						if val, _ := vault.Get(name); val != "" {
							fmt.Printf("%s found in vault: %s\n", args[0], maskSecret(val))
							return nil
						}
						fmt.Println("Vault: not stored there.")
					}
				}
			}

			if val := config.GetKeyring(name); val != "" {
				fmt.Printf("%s found in OS keyring: %s\n", args[0], maskSecret(val))
				return nil
			}

			for _, envVar := range envVarsFor(name) {
				if val := os.Getenv(envVar); val != "" {
					fmt.Printf("%s found in environment (%s): %s\n", args[0], envVar, maskSecret(val))
					return nil
				}
			}

			fmt.Printf("%s is not stored anywhere. Run 'replygo auth set %s'.\n", args[0], args[0])
			return nil
		},
	}
}

func newAuthDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <platform|dify>",
		Short: "Remove a credential from the OS keyring and the vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name, err := secretName(args[0])
			if err != nil {
				return err
			}

			removed := 0
			if err := config.DeleteKeyring(name); err == nil {
				fmt.Printf("%s removed from the OS keyring.\n", args[0])
				removed++
			}

			vault := config.NewVault(config.VaultFile)
			if vault.Exists() {
				password, err := config.ReadPassword("Vault password (Enter to skip): ")
				if err == nil && password != "" {
					if err := vault.Unlock(password); err != nil {
						return fmt.Errorf("unlocking vault: %w", err)
					}
					defer vault.Lock()
					if val, _ := vault.Get(name); val != "" {
						if err := vault.Delete(name); err != nil {
							return fmt.Errorf("removing from vault: %w", err)
						}
						fmt.Printf("%s removed from the vault.\n", args[0])
						removed++
					}
				}
			}

			if removed == 0 {
				fmt.Printf("%s was not stored in the keyring or the vault.\n", args[0])
			}
			return nil
		},
	}
}

func newAuthListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show which credentials are stored, and where",
		RunE: func(_ *cobra.Command, _ []string) error {
			vault := config.NewVault(config.VaultFile)
			vaultNames := map[string]bool{}
			if vault.Exists() {
				password, err := config.ReadPassword("Vault password (Enter to skip): ")
				if err == nil && password != "" {
					if err := vault.Unlock(password); err != nil {
						fmt.Printf("Vault: %v\n", err)
					} else {
						defer vault.Lock()
						for _, n := range vault.List() {
							vaultNames[n] = true
						}
					}
				} else {
					fmt.Printf("Vault: present at %s (locked)\n", vault.Path())
				}
			}

			for _, alias := range []string{"platform", "dify"} {
				name, _ := secretName(alias)
				switch {
				case vaultNames[name]:
					fmt.Printf("%-9s vault\n", alias)
				case config.GetKeyring(name) != "":
					fmt.Printf("%-9s OS keyring\n", alias)
				case firstEnvSet(envVarsFor(name)) != "":
					fmt.Printf("%-9s environment (%s)\n", alias, firstEnvSet(envVarsFor(name)))
				default:
					fmt.Printf("%-9s not set\n", alias)
				}
			}
			return nil
		},
	}
}

func newAuthRotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Change the vault master password",
		RunE: func(_ *cobra.Command, _ []string) error {
			vault := config.NewVault(config.VaultFile)
			if !vault.Exists() {
				return fmt.Errorf("no vault at %s, nothing to rotate", vault.Path())
			}

			current, err := config.ReadPassword("Current vault password: ")
			if err != nil {
				return err
			}
			if err := vault.Unlock(current); err != nil {
				return err
			}
			defer vault.Lock()

			next, err := config.ReadPassword("New master password: ")
			if err != nil {
				return err
			}
			if len(next) < 8 {
				return fmt.Errorf("password too short (minimum 8 characters)")
			}
			confirm, err := config.ReadPassword("Confirm new password: ")
			if err != nil {
				return err
			}
			if next != confirm {
				return fmt.Errorf("passwords don't match")
			}

			if err := vault.ChangePassword(next); err != nil {
				return fmt.Errorf("rotating vault password: %w", err)
			}
			fmt.Println("Vault password changed. All entries re-encrypted.")
			return nil
		},
	}
}

// ---------- Helpers ----------

// secretName maps a CLI alias to the stored secret name.
func secretName(alias string) (string, error) {
	switch alias {
	case "platform":
		return config.SecretPlatformPassword, nil
	case "dify":
		return config.SecretDifyAPIKey, nil
	default:
		return "", fmt.Errorf("unknown credential %q (use \"platform\" or \"dify\")", alias)
	}
}

// envVarsFor returns the environment variables checked for a secret, in
// resolution order.
func envVarsFor(name string) []string {
	switch name {
	case config.SecretPlatformPassword:
		return []string{"REPLYGO_PLATFORM_PASSWORD"}
	case config.SecretDifyAPIKey:
		return []string{"REPLYGO_DIFY_API_KEY", "DIFY_API_KEY"}
	}
	return nil
}

func firstEnvSet(vars []string) string {
	for _, v := range vars {
		if os.Getenv(v) != "" {
			return v
		}
	}
	return ""
}

// maskSecret shows just enough of a secret to recognize it.
func maskSecret(val string) string {
	if len(val) <= 8 {
		return "****"
	}
	return val[:4] + "****" + val[len(val)-4:]
}

// openVault unlocks the existing vault, or creates one on first use.
func openVault() (*config.Vault, error) {
	vault := config.NewVault(config.VaultFile)

	if vault.Exists() {
		password, err := config.ReadPassword("Vault password: ")
		if err != nil {
			return nil, err
		}
		if err := vault.Unlock(password); err != nil {
			return nil, err
		}
		return vault, nil
	}

	fmt.Printf("No vault found, creating %s.\n", vault.Path())
	fmt.Println("Choose a master password (minimum 8 characters). It is never stored.")
	password, err := config.ReadPassword("Master password: ")
	if err != nil {
		return nil, err
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password too short (minimum 8 characters)")
	}
	confirm, err := config.ReadPassword("Confirm password: ")
	if err != nil {
		return nil, err
	}
	if password != confirm {
		return nil, fmt.Errorf("passwords don't match")
	}
	if err := vault.Create(password); err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}
	return vault, nil
}
