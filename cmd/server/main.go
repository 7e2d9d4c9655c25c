package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

// options are the flags shared by every subcommand.
type options struct {
	configPath string
	envFile    string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "npc-voice",
		Short:        "Voiced LLM conversations for game NPCs",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadEnvFile(opts.envFile)
		},
		// Without a subcommand the binary serves, so the game mod can
		// launch it with no arguments.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "./config.yaml", "path to the YAML config file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with NPCVOICE_* overrides, skipped when missing")

	root.AddCommand(serveCmd(opts))
	root.AddCommand(checkCmd(opts))
	root.AddCommand(encryptCmd())
	root.AddCommand(versionCmd())
	return root
}

// loadEnvFile exports the variables of path that are not already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("env file %s: %w", path, err)
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the npc-voice version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(version)
		},
	}
}
