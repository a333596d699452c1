package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zinacoffee/menuguard"
	"github.com/zinacoffee/menuguard/security"
)

// writeJSON prints v as indented JSON
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCleanupCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete stale rate windows and archive old audit events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts, cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.server.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newRestoreCmd(opts *globalOptions) *cobra.Command {
	var passphraseStdin bool

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Seed the default house menu",
		Long: `Seed the default house menu into the configured store.

The master passphrase is read from MENUGUARD_RESTORE_PASSPHRASE or, with
--passphrase-stdin, from the first line of standard input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			passphrase, err := readPassphrase(cmd.InOrStdin(), passphraseStdin)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), opts, cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.server.Config.Storage.Backend == menuguard.StorageBackendMemory {
				a.logger.Warn("Restoring into the memory backend, the menu is discarded when the command exits")
			}

			result, err := a.server.RestoreDefaults(cmd.Context(), menuguard.Caller{IPAddress: cliIPAddress}, passphrase)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().BoolVar(&passphraseStdin, "passphrase-stdin", false, "Read the master passphrase from standard input")

	return cmd
}

func readPassphrase(in io.Reader, fromStdin bool) (string, error) {
	if !fromStdin {
		passphrase := os.Getenv("MENUGUARD_RESTORE_PASSPHRASE")
		if passphrase == "" {
			return "", errors.New("set MENUGUARD_RESTORE_PASSPHRASE or use --passphrase-stdin")
		}
		return passphrase, nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	passphrase := strings.TrimRight(line, "\r\n")
	if passphrase == "" {
		return "", errors.New("empty passphrase")
	}
	return passphrase, nil
}

func newCSRFCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "csrf",
		Short: "Issue and verify CSRF tokens",
	}

	var subject string
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a CSRF token for a subject",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tokens, err := newTokenService(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			token, err := tokens.Issue(subject)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), token)
		},
	}
	issueCmd.Flags().StringVar(&subject, "subject", "", "Subject ID the token is bound to")
	_ = issueCmd.MarkFlagRequired("subject")

	var verifySubject string
	verifyCmd := &cobra.Command{
		Use:   "verify TOKEN",
		Short: "Verify a CSRF token for a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := newTokenService(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if !tokens.Verify(args[0], verifySubject) {
				return errors.New("token is invalid or expired")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	}
	verifyCmd.Flags().StringVar(&verifySubject, "subject", "", "Subject ID the token must be bound to")
	_ = verifyCmd.MarkFlagRequired("subject")

	cmd.AddCommand(issueCmd, verifyCmd)
	return cmd
}

// newTokenService builds a CSRF token service from the configured secret
// without opening any store
func newTokenService(opts *globalOptions, logOutput io.Writer) (*security.TokenService, error) {
	logger, err := newLogger(logOutput, opts.LogLevel, opts.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(opts, logger)
	if err != nil {
		return nil, err
	}

	secret := cfg.Security.CSRFSecret
	if secret == "" {
		if cfg.IsProduction() && !cfg.Security.AllowInsecureCSRFSecret {
			return nil, errors.New("refusing the insecure fallback CSRF secret in production")
		}
		logger.Error("SECURITY WARNING: CSRF secret is not configured, using the insecure fallback")
		secret = security.InsecureFallbackCSRFSecret
	}
	return security.NewTokenService(secret)
}

func newCheckCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and connect to storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts, cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.server.Config
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "environment:        %s\n", cfg.Environment)
			fmt.Fprintf(out, "storage:            %s\n", cfg.Storage.Backend)
			fmt.Fprintf(out, "administrators:     %d\n", len(cfg.AuthorizedEmails))
			fmt.Fprintf(out, "master passphrase:  %t\n", cfg.Security.MasterPassphraseHash != "")
			fmt.Fprintf(out, "insecure csrf:      %t\n", a.server.Tokens.UsesInsecureFallback())
			fmt.Fprintln(out, "configuration OK")
			return nil
		},
	}
}

func newHashPassphraseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-passphrase",
		Short: "Print the bcrypt hash of a master passphrase read from standard input",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			passphrase, err := readPassphrase(cmd.InOrStdin(), true)
			if err != nil {
				return err
			}
			hash, err := menuguard.HashMasterPassphrase(passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
