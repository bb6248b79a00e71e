package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/rcrowley/go-metrics"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"xfer/pkg/display"
	"xfer/pkg/downloader"
	"xfer/pkg/fetch"
	"xfer/pkg/transfer"
)

// prepare returns the request hook applying configured TLS and FTP defaults.
func (m *Managers) prepare() func(*transfer.Request) {
	return func(req *transfer.Request) {
		if req.TLS != nil && m.TLS != nil {
			cfg := m.TLS.Clone()
			cfg.ServerName = req.TLS.ServerName
			req.TLS = cfg
		}
		if req.Scheme == transfer.SchemeFTP && req.Credentials == nil && m.Cfg.GetFTPUser() != "" {
			req.Credentials = &transfer.Credentials{
				Username: m.Cfg.GetFTPUser(),
				Password: m.Cfg.GetFTPPassword(),
			}
		}
	}
}

func runGet(ctx context.Context, s streams, mgr *Managers, urls []string, f getFlags) (int, error) {
	theme := DefaultTheme()

	if f.output != "" && len(urls) > 1 {
		if st, err := os.Stat(f.output); err != nil || !st.IsDir() {
			return 1, fmt.Errorf("--output must be an existing directory when fetching %d URLs", len(urls))
		}
	}

	plans := make([]*fetch.Plan, 0, len(urls))
	for _, u := range urls {
		plan, err := fetch.NewPlan(mgr.Cfg.GetDownloadDir(), u, f.output)
		if err != nil {
			return 1, err
		}
		plans = append(plans, plan)
	}

	fetcher := &fetch.Fetcher{
		Manager: mgr.Downloads,
		Display: mgr.Disp,
		Force:   f.force,
		Prepare: mgr.prepare(),
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs error
	)
	g.SetLimit(mgr.Cfg.GetParallel())

	for _, plan := range plans {
		plan := plan
		g.Go(func() error {
			err := fetcher.Fetch(ctx, plan)

			var line string
			switch {
			case err != nil:
				line = fmt.Sprintf("%s %s %s", theme.Styled(theme.Red, theme.Cross), plan.Target, theme.Styled(theme.Dim, err.Error()))
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", plan.Target, err))
				mu.Unlock()
			case plan.Skipped:
				line = fmt.Sprintf("%s %s %s", theme.Styled(theme.Yellow, theme.Skip), plan.Destination, theme.Styled(theme.Dim, "exists, use --force to replace"))
			default:
				line = fmt.Sprintf("%s %s %s", theme.Styled(theme.Green, theme.Check), plan.Destination,
					theme.Styled(theme.Dim, humanize.Bytes(uint64(plan.Outcome.Transferred))))
			}
			mgr.Disp.Print(line + "\n")
			return nil
		})
	}
	_ = g.Wait()

	if errs != nil {
		n := len(multierr.Errors(errs))
		slog.Debug("Downloads failed", "count", n, "error", errs)
		return 1, fmt.Errorf("%d of %d downloads failed", n, len(plans))
	}
	return 0, nil
}

func runList(ctx context.Context, s streams, mgr *Managers, rawURL string) (int, error) {
	theme := DefaultTheme()

	req, err := transfer.ParseRequest(rawURL, transfer.OpList, nil)
	if err != nil {
		return 1, err
	}
	mgr.prepare()(&req)

	h, err := mgr.Downloads.Submit(ctx, req)
	if err != nil {
		return 1, err
	}

	task := mgr.Disp.StartTask("List")
	task.SetStage("List", h.URL)

	var entries []transfer.DirEntry
	out, err := display.Watch(ctx, h.Events(), task, func(e transfer.DirEntry) {
		entries = append(entries, e)
		task.Progress(-1, fmt.Sprintf("%d entries", len(entries)))
	})
	task.Done()
	if err != nil {
		h.Cancel()
		return 1, err
	}
	if out.Err != nil {
		return 1, fmt.Errorf("list %s: %w", h.URL, out.Err)
	}

	data := pterm.TableData{{"", "Name", "Size", "Readable"}}
	for _, e := range entries {
		size := humanize.Bytes(uint64(e.Size))
		if e.Kind == transfer.Directory {
			size = "-"
		}
		readable := theme.Styled(theme.Green, "yes")
		if !e.Readable {
			readable = theme.Styled(theme.Red, "no")
		}
		data = append(data, []string{icon(theme, e.Kind), e.Name, size, readable})
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return 1, fmt.Errorf("failed to render listing: %w", err)
	}
	fmt.Fprintln(s.out, table)

	if out.ParseWarnings > 0 {
		mgr.Disp.Print(theme.Styled(theme.Yellow, fmt.Sprintf("%d listing lines could not be parsed\n", out.ParseWarnings)))
	}
	return 0, nil
}

func icon(t *Theme, k transfer.EntryKind) string {
	switch k {
	case transfer.Directory:
		return t.IconDir
	case transfer.SymbolicLink:
		return t.IconLink
	}
	return t.IconFile
}

// logMetrics writes the transfer metrics at debug level.
func logMetrics(m *downloader.Manager) {
	m.Registry().Each(func(name string, i any) {
		switch v := i.(type) {
		case metrics.Counter:
			slog.Debug("Metric", "name", name, "count", v.Count())
		case metrics.Meter:
			slog.Debug("Metric", "name", name, "count", v.Count(), "rate1", v.Rate1())
		case metrics.Timer:
			slog.Debug("Metric", "name", name, "count", v.Count(), "mean", v.Mean(), "max", v.Max())
		}
	})
}
