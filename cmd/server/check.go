package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"npc-voice/internal/adapter/characters"
	"npc-voice/internal/infra/config"
	"npc-voice/internal/usecase/function"
	"npc-voice/internal/usecase/scheduling"
)

func checkCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config and the roster and function files it points at",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd.OutOrStdout(), opts)
		},
	}
}

func runCheck(out io.Writer, opts *options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		var ve *config.ValidationError
		if errors.As(err, &ve) {
			fmt.Fprintf(out, "Config errors (%d):\n", len(ve.Errors))
			printIssues(out, ve.Errors)
			return fmt.Errorf("config has %d errors", len(ve.Errors))
		}
		return err
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	var issues []string

	if cfg.Scheduler.Enabled {
		if _, err := scheduling.ParseSchedule(cfg.Scheduler.VoiceFileCleanup); err != nil {
			issues = append(issues, fmt.Sprintf("scheduler.voicefile_cleanup: %v", err))
		}
	}

	rosterEntries := 0
	if roster, err := characters.Load(cfg.Characters, quiet); err != nil {
		issues = append(issues, fmt.Sprintf("characters: %v", err))
	} else {
		rosterEntries = roster.Len()
	}

	functions := "disabled"
	if cfg.FunctionLLM.Enabled {
		if reg, err := function.LoadRegistry(cfg.Actions.Dir, quiet); err != nil {
			issues = append(issues, fmt.Sprintf("functions: %v", err))
		} else {
			functions = fmt.Sprint(reg.Len())
		}
	}

	fmt.Fprintf(out, "game:       %s\n", cfg.Game.Name)
	fmt.Fprintf(out, "data dir:   %s\n", cfg.Game.DataDir)
	fmt.Fprintf(out, "model:      %s\n", cfg.LLM.Provider.Model)
	fmt.Fprintf(out, "roster:     %d entries\n", rosterEntries)
	fmt.Fprintf(out, "functions:  %s\n", functions)

	if len(issues) == 0 {
		fmt.Fprintln(out, "No issues found.")
		return nil
	}
	fmt.Fprintf(out, "Errors (%d):\n", len(issues))
	printIssues(out, issues)
	return fmt.Errorf("check found %d errors", len(issues))
}

func printIssues(out io.Writer, issues []string) {
	for _, issue := range issues {
		fmt.Fprintf(out, "  - %s\n", issue)
	}
}
