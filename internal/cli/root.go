// Package cli implements adminctl, a terminal client for the eSIM admin API.
// It computes the same views and price previews as the dashboard without
// writing anything.
package cli

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/esim-admin/internal/obs"
	"github.com/noah-isme/esim-admin/internal/resilience"
	"github.com/noah-isme/esim-admin/internal/upstream"
)

// App carries the flags and config shared by every command.
type App struct {
	Out io.Writer
	// HTTP is the transport used for the admin API; nil uses a default client.
	HTTP *http.Client

	cfgFile  string
	baseURL  string
	token    string
	output   string
	timeout  time.Duration
	logLevel string

	cfg    Config
	logger zerolog.Logger
}

// NewRootCmd builds the adminctl command tree writing to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	a := &App{Out: out}
	root := &cobra.Command{
		Use:   "adminctl",
		Short: "eSIM admin API from the command line",
		Long: `adminctl lists admin records and previews bulk price changes.

Connection settings are read from $HOME/.adminctl.yaml (baseURL, token) and
can be overridden with flags or ADMINCTL_BASE_URL / ADMINCTL_TOKEN.`,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.adminctl.yaml)")
	flags.StringVar(&a.baseURL, "base-url", "", "admin API base URL")
	flags.StringVar(&a.token, "token", "", "bearer token for the admin API")
	flags.StringVarP(&a.output, "output", "o", "", "output format: table, json or yaml")
	flags.DurationVar(&a.timeout, "timeout", 0, "per request timeout (default 30s)")
	flags.StringVarP(&a.logLevel, "loglevel", "l", "warn", "log level: debug, info, warn, error")

	root.AddCommand(
		a.usersCmd(),
		a.packagesCmd(),
		a.resourceCmd(upstream.SourceRefunds, "Refund requests"),
		a.resourceCmd(upstream.SourceApplications, "Partner applications"),
		a.resourceCmd(upstream.SourceOrders, "eSIM orders"),
		a.keysCmd(),
		a.tokenCmd(),
		a.configCmd(),
	)
	return root
}

// Execute runs adminctl with os.Args.
func Execute() {
	if err := NewRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *App) init() error {
	cfg, err := LoadConfig(a.cfgFile)
	if err != nil {
		return err
	}
	if a.baseURL != "" {
		cfg.BaseURL = a.baseURL
	}
	if a.token != "" {
		cfg.Token = a.token
	}
	if a.output != "" {
		cfg.Output = a.output
	}
	if a.timeout > 0 {
		cfg.Timeout = a.timeout
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	a.cfg = cfg
	a.logger = obs.NewLoggerTo(os.Stderr, "console", a.logLevel)
	return nil
}

func (a *App) client() (*upstream.Client, error) {
	if strings.TrimSpace(a.cfg.BaseURL) == "" {
		return nil, errors.New("no base URL configured; run `adminctl config set --base-url ...` or pass --base-url")
	}
	httpClient := a.HTTP
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return upstream.New(upstream.Config{
		BaseURL: a.cfg.BaseURL,
		Tokens:  upstream.StaticToken(a.cfg.Token),
		HTTP: resilience.HTTPClient{
			Client:      httpClient,
			BaseBackoff: 250 * time.Millisecond,
			MaxAttempts: 2,
			Jitter:      0.2,
			Timeout:     a.cfg.Timeout,
		},
		Logger: a.logger,
	})
}

func (a *App) render(data any, table Table) error {
	return Render(a.Out, a.cfg.Output, data, table)
}
