// Command portal runs the content platform API and a few offline helpers.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/gvirila/portal/auth"
	"github.com/gvirila/portal/content"
	"github.com/gvirila/portal/safe"
	"github.com/spf13/cobra"

	_ "modernc.org/sqlite"
)

// maxInput caps what parse and tutorial read from stdin.
const maxInput = 4 << 20

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "portal",
		Short:         "Georgian AI content platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "portal.yaml", "path to the YAML configuration file")
	root.AddCommand(serveCmd(), parseCmd(), tutorialCmd(), hashPasswordCmd())
	return root
}

func parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse",
		Short: "Split post text from stdin into display sections (JSON)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := readInput(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return writeOut(cmd.OutOrStdout(), content.Parse(text))
		},
	}
}

func tutorialCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tutorial",
		Short: "Parse a tutorial from stdin into its structure (JSON)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := readInput(cmd.InOrStdin())
			if err != nil {
				return err
			}
			res := content.ParseTutorial(text)
			if err := writeOut(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return errors.New(res.Error)
			}
			return nil
		},
	}
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print the bcrypt hash of a password (argument or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pw string
			if len(args) == 1 {
				pw = args[0]
			} else {
				in, err := readInput(cmd.InOrStdin())
				if err != nil {
					return err
				}
				pw = strings.TrimRight(in, "\r\n")
			}
			hash, err := auth.HashPassword(pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func readInput(r io.Reader) (string, error) {
	data, err := safe.LimitedReadAll(r, maxInput)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(data), nil
}

func writeOut(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func setupLogging(level slog.Level) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}
