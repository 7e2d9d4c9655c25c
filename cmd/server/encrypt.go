package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"npc-voice/internal/infra/config"
)

func encryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [value]",
		Short: "Encrypt an API key for an enc: config value",
		Long: "Encrypt an API key with the passphrase in NPCVOICE_CONFIG_KEY and print the\n" +
			"enc: value to paste into the config. The value is read from stdin when no\n" +
			"argument is given, which keeps it out of the shell history.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase := os.Getenv("NPCVOICE_CONFIG_KEY")
			if passphrase == "" {
				return errors.New("NPCVOICE_CONFIG_KEY must be set")
			}

			var value string
			if len(args) == 1 {
				value = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read value: %w", err)
				}
				value = string(data)
			}
			value = strings.TrimSpace(value)
			if value == "" {
				return errors.New("nothing to encrypt")
			}

			enc, err := config.EncryptValue(value, passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "enc:"+enc)
			return nil
		},
	}
}
