// Package cli provides the command-line interface for FluxGate.
package cli

import (
	"fmt"
	"os"

	"github.com/fluxstack-labs/fluxgate/internal/cli/commands"
	"github.com/fluxstack-labs/fluxgate/internal/config"
	"github.com/spf13/cobra"
)

var cfgFile string

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fluxgate",
		Short: "FluxGate - Optimization Table Gateway",
		Long: `FluxGate is a gateway for optimization workloads built with Go and Apache Arrow.

Clients upload Arrow tables into an in-memory catalog, dispatch control
actions (optimize, persist, load, clear, shutdown) and download the
results. Table bundles can be persisted to DuckDB or PostgreSQL and
restored later.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			if cfg.Verbose {
				if configFile := config.ConfigFileUsed(); configFile != "" {
					fmt.Fprintf(os.Stderr, "Using config file: %s\n", configFile)
				}
			}

			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set version template
	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
Built with Go and Apache Arrow
`)

	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./fluxgate.yaml)")
	rootCmd.PersistentFlags().String("listen", "", "HTTP listen address (host:port)")
	rootCmd.PersistentFlags().String("solver-addr", "", "Solver backend address (host:port)")
	rootCmd.PersistentFlags().String("data-db", "", "Path to the persistence database")
	rootCmd.PersistentFlags().String("users-db", "", "Path to the user account database")
	rootCmd.PersistentFlags().Bool("auth", true, "Require access tokens for mutations")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")

	// Add subcommands
	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewUserCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for FluxGate.

To load completions:

Bash:
  $ source <(fluxgate completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ fluxgate completion bash > /etc/bash_completion.d/fluxgate
  # macOS:
  $ fluxgate completion bash > $(brew --prefix)/etc/bash_completion.d/fluxgate

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ fluxgate completion zsh > "${fpath[1]}/_fluxgate"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ fluxgate completion fish | source

  # To load completions for each session, execute once:
  $ fluxgate completion fish > ~/.config/fish/completions/fluxgate.fish

PowerShell:
  PS> fluxgate completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> fluxgate completion powershell > fluxgate.ps1
  # and source this file from your PowerShell profile.
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			}
			return nil
		},
	}
	return cmd
}
