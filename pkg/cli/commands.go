// Package cli implements the xfer command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"xfer/pkg/config"
	"xfer/pkg/display"
	"xfer/pkg/downloader"
	"xfer/pkg/ftpclient"
)

type globalFlags struct {
	configPath     string
	verbose        bool
	connectTimeout time.Duration
}

type getFlags struct {
	output   string
	force    bool
	parallel int
}

// Run executes the command line args and reports the exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) (*ExecutionResult, error) {
	res := &ExecutionResult{}
	root := newRootCommand(ctx, streams{out: stdout, err: stderr}, res)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

func newRootCommand(ctx context.Context, s streams, res *ExecutionResult) *cobra.Command {
	var (
		gf  globalFlags
		mgr Managers
	)

	root := &cobra.Command{
		Use:           "xfer",
		Short:         "Fetch files and list directories over HTTP and FTP",
		Long:          `xfer retrieves remote files over HTTP(S) and FTP(S) and lists FTP directories.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(s.err, gf.verbose)
			return setup(cmd, &gf, s, &mgr)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if mgr.Disp != nil {
				mgr.Disp.Close()
			}
			if mgr.Downloads != nil {
				logMetrics(mgr.Downloads)
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&gf.configPath, "config", "c", "", "config file path (default "+config.DefaultPath()+")")
	pf.BoolVarP(&gf.verbose, "verbose", "v", false, "verbose output")
	pf.DurationVar(&gf.connectTimeout, "connect-timeout", 0, "connect timeout, e.g. 10s (default from config)")

	root.AddCommand(
		newGetCommand(ctx, s, &mgr, res),
		newListCommand(ctx, s, &mgr, res),
		newVersionCommand(s),
	)
	return root
}

func newGetCommand(ctx context.Context, s streams, mgr *Managers, res *ExecutionResult) *cobra.Command {
	var f getFlags
	cmd := &cobra.Command{
		Use:   "get URL...",
		Short: "Download one or more files",
		Example: `  xfer get https://example.com/file.iso
  xfer get -o ./isos ftp://mirror.example.com/pub/a.iso ftp://mirror.example.com/pub/b.iso`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			code, err := runGet(ctx, s, mgr, args, f)
			res.ExitCode = code
			return err
		},
	}
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "destination file, or directory for several URLs")
	cmd.Flags().BoolVar(&f.force, "force", false, "replace existing files")
	cmd.Flags().IntVarP(&f.parallel, "parallel", "p", 0, "concurrent downloads (default from config)")
	return cmd
}

func newListCommand(ctx context.Context, s streams, mgr *Managers, res *ExecutionResult) *cobra.Command {
	return &cobra.Command{
		Use:     "list URL",
		Short:   "List an FTP directory",
		Example: `  xfer list ftp://mirror.example.com/pub/`,
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			code, err := runList(ctx, s, mgr, args[0])
			res.ExitCode = code
			return err
		},
	}
}

func newVersionCommand(s streams) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(*cobra.Command, []string) {
			fmt.Fprintln(s.out, config.GetBuildInfo())
		},
	}
}

func setupLogging(w io.Writer, verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// setup loads the configuration and builds the managers.
func setup(cmd *cobra.Command, gf *globalFlags, s streams, mgr *Managers) error {
	cfg, err := config.Load(gf.configPath)
	if err != nil {
		return fmt.Errorf("error initializing config: %w", err)
	}
	if gf.connectTimeout > 0 {
		cfg.SetConnectTimeout(gf.connectTimeout)
	}
	if cmd.Flags().Changed("parallel") {
		p, _ := cmd.Flags().GetInt("parallel")
		if p <= 0 {
			return fmt.Errorf("invalid --parallel %d: want a positive number", p)
		}
		cfg.SetParallel(p)
	}
	cfg.Freeze()

	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return fmt.Errorf("error initializing tls: %w", err)
	}

	ftpType := ftpclient.Binary
	if cfg.GetFTPType() == "ascii" {
		ftpType = ftpclient.ASCII
	}

	disp := display.NewWriterDisplay(s.err)
	disp.SetVerbose(gf.verbose)

	mgr.Cfg = cfg
	mgr.Disp = disp
	mgr.TLS = tlsCfg
	mgr.Downloads = downloader.NewManager(downloader.Options{
		ConnectTimeout: cfg.GetConnectTimeout(),
		IOTimeout:      cfg.GetIOTimeout(),
		UserAgent:      cfg.GetUserAgent(),
		EventBuffer:    cfg.GetEventBuffer(),
		FTPType:        ftpType,
	})

	slog.Debug("Configuration loaded", "file", cfg.GetConfigFile(), "downloadDir", cfg.GetDownloadDir(),
		"connectTimeout", cfg.GetConnectTimeout(), "parallel", cfg.GetParallel())
	return nil
}
