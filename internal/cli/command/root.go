// Package command defines the memsnap-cli commands.
//
// Artifact commands talk to a memsnap-server when --server is set and to
// the storage section of the configuration file otherwise.
package command

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/memsnap-go/internal/artifact"
	"github.com/yndnr/memsnap-go/internal/artifact/backends"
	"github.com/yndnr/memsnap-go/internal/artifact/httpstore"
	"github.com/yndnr/memsnap-go/internal/cli/output"
	"github.com/yndnr/memsnap-go/internal/infra/buildinfo"
	"github.com/yndnr/memsnap-go/internal/server/config"
	"github.com/yndnr/memsnap-go/internal/telemetry/logger"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "memsnap-cli",
		Usage:   "Inspect, build and move interpreter memory snapshots",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			InspectCommand(),
			EncodeCommand(),
			IndexCommand(),
			StoreCommand(),
			RunCommand(),
			TokenCommand(),
			VersionCommand(),
		},
		Before: setup,
		// --dso values carry comma separated handle lists.
		DisableSliceFlagSeparator: true,
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Configuration file (memsnap.yaml)",
			EnvVars: []string{"MEMSNAP_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "memsnap-server address; local storage is used when empty",
			EnvVars: []string{"MEMSNAP_SERVER"},
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Bearer token for the artifact service",
			EnvVars: []string{"MEMSNAP_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "ca-file",
			Usage:   "Extra CA bundle for https servers",
			EnvVars: []string{"MEMSNAP_CA_FILE"},
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Request timeout for the artifact service",
			Value: time.Minute,
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"V"},
			Usage:   "Log debug output to stderr",
		},
	}
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	Config  string
	Server  string
	Token   string
	CAFile  string
	Timeout time.Duration

	Output output.Format
	Wide   bool

	Verbose bool
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	format, _ := output.ParseFormat(c.String("output"))
	return &GlobalFlags{
		Config:  c.String("config"),
		Server:  c.String("server"),
		Token:   c.String("token"),
		CAFile:  c.String("ca-file"),
		Timeout: c.Duration("timeout"),
		Output:  format,
		Wide:    c.Bool("wide"),
		Verbose: c.Bool("verbose"),
	}
}

func setup(c *cli.Context) error {
	if _, err := output.ParseFormat(c.String("output")); err != nil {
		return err
	}
	level := "warn"
	if c.Bool("verbose") {
		level = "debug"
	}
	errw := c.App.ErrWriter
	if errw == nil {
		errw = os.Stderr
	}
	log, err := logger.New(logger.Config{Level: level, Format: "text", Output: errw})
	if err != nil {
		return err
	}
	logger.SetDefault(log)
	return nil
}

// loadConfig reads the configuration file named by --config, or the
// defaults when none is given.
func loadConfig(c *cli.Context, overrides map[string]any) (*config.ServerConfig, error) {
	cfg, err := config.Load(ParseGlobalFlags(c).Config, overrides)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openBackend returns the artifact service client when --server is set and
// the configured local backend otherwise.
func openBackend(c *cli.Context) (artifact.Backend, error) {
	flags := ParseGlobalFlags(c)
	slogger := logger.Slog(logger.Default())
	if flags.Server != "" {
		store, err := httpstore.New(httpstore.Config{
			BaseURL: flags.Server,
			Token:   flags.Token,
			CAFile:  flags.CAFile,
			Timeout: flags.Timeout,
			Logger:  slogger,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	}

	cfg, err := loadConfig(c, nil)
	if err != nil {
		return nil, err
	}
	opened, err := backends.Open(cfg.Storage, slogger, nil)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return opened, nil
}

// printResult renders data in the --output format.
func printResult(c *cli.Context, data any) error {
	flags := ParseGlobalFlags(c)
	return output.NewFormatter(flags.Output, flags.Wide).Format(c.App.Writer, data)
}

// isTable reports whether the table format is selected.
func isTable(c *cli.Context) bool {
	return ParseGlobalFlags(c).Output == output.FormatTable
}
