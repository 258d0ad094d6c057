package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/noah-isme/esim-admin/internal/auth"
)

func (a *App) keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Create and hash service API keys",
	}

	var name string
	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Generate a random API key and its ADMIN_API_KEY_HASHES entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := "esk_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
			return a.printKey(key, name, true)
		},
	}
	newCmd.Flags().StringVar(&name, "name", "", "key name recorded in the audit trail")

	hashCmd := &cobra.Command{
		Use:   "hash KEY",
		Short: "Hash an existing API key for ADMIN_API_KEY_HASHES",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.printKey(args[0], name, false)
		},
	}
	hashCmd.Flags().StringVar(&name, "name", "", "key name recorded in the audit trail")

	cmd.AddCommand(newCmd, hashCmd)
	return cmd
}

func (a *App) printKey(key, name string, showKey bool) error {
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		return err
	}
	entry := hash
	if name = strings.TrimSpace(name); name != "" {
		if strings.ContainsAny(name, ":;") {
			return errors.New("--name must not contain ':' or ';'")
		}
		entry = name + ":" + hash
	}
	if showKey {
		fmt.Fprintf(a.Out, "key:   %s\n", key)
	}
	fmt.Fprintf(a.Out, "entry: %s\n", entry)
	return nil
}

func (a *App) tokenCmd() *cobra.Command {
	var (
		subject  string
		secret   string
		issuer   string
		audience string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a dashboard access token signed with JWT_SECRET",
		Long: `token signs an HS256 access token for local development and scripts.
The secret defaults to the JWT_SECRET environment variable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if strings.TrimSpace(secret) == "" {
				return errors.New("no signing secret; pass --secret or set JWT_SECRET")
			}
			svc, err := auth.NewService(auth.Config{Secret: secret, Issuer: issuer, Audience: audience, TokenTTL: ttl})
			if err != nil {
				return err
			}
			token, expiresAt, err := svc.IssueToken(subject)
			if err != nil {
				return err
			}
			data := map[string]any{"token": token, "subject": subject, "expiresAt": expiresAt.UTC().Format(time.RFC3339)}
			return a.render(data, Table{
				Header: []string{"SUBJECT", "EXPIRES", "TOKEN"},
				Rows:   [][]string{{subject, data["expiresAt"].(string), token}},
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&subject, "subject", "", "admin user id placed in the sub claim")
	flags.StringVar(&secret, "secret", "", "HS256 signing secret (default $JWT_SECRET)")
	flags.StringVar(&issuer, "issuer", "", "iss claim (default esim-admin)")
	flags.StringVar(&audience, "audience", "", "aud claim (default esim-admin-dashboard)")
	flags.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func (a *App) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or update the adminctl config file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with the token masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			shown := map[string]string{
				"baseURL": a.cfg.BaseURL,
				"token":   mask(a.cfg.Token),
				"output":  a.cfg.Output,
				"timeout": a.cfg.Timeout.String(),
			}
			return a.render(shown, Table{
				Header: []string{"BASE URL", "TOKEN", "OUTPUT", "TIMEOUT"},
				Rows:   [][]string{{shown["baseURL"], shown["token"], shown["output"], shown["timeout"]}},
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set",
		Short: "Persist --base-url, --token and --output to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ConfigPath(a.cfgFile)
			if err != nil {
				return err
			}
			current, err := LoadConfig(a.cfgFile)
			if err != nil {
				return err
			}
			if a.baseURL != "" {
				current.BaseURL = a.baseURL
			}
			if a.token != "" {
				current.Token = a.token
			}
			if a.output != "" {
				current.Output = a.output
			}
			if a.timeout > 0 {
				current.Timeout = a.timeout
			}
			if err := SaveConfig(path, current); err != nil {
				return err
			}
			fmt.Fprintf(a.Out, "saved %s\n", path)
			return nil
		},
	})
	return cmd
}

func mask(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}
