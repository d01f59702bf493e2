package main

import (
	"os"

	"github.com/logrusorgru/aurora/v4"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// configureColor renews aurora.DefaultColorizer based on flags and TTY
func configureColor(cmd *cobra.Command) error {
	return configureColorFor(cmd, isatty.IsTerminal(os.Stdout.Fd()))
}

func configureColorFor(cmd *cobra.Command, isTTY bool) error {
	colors, err := cmd.Flags().GetBool("colors")
	if err != nil {
		return err
	}
	noColors, err := cmd.Flags().GetBool("no-colors")
	if err != nil {
		return err
	}

	var shouldColorize bool
	switch {
	case colors:
		shouldColorize = true
	case noColors:
		shouldColorize = false
	default:
		shouldColorize = isTTY
	}

	aurora.DefaultColorizer = aurora.New(aurora.WithColors(shouldColorize))
	return nil
}

// addColorControlFlags adds color control flags to the command
func addColorControlFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("colors", false, "Force colorized output even if no terminal is attached")
	cmd.Flags().Bool("no-colors", false, "Disable colorized output")
	cmd.MarkFlagsMutuallyExclusive("colors", "no-colors")
}
