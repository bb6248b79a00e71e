package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"xfer/pkg/display"
	"xfer/pkg/downloader"
	"xfer/pkg/filelock"
	"xfer/pkg/transfer"
)

// Fetcher runs download plans through a downloader.Manager.
// Immutable
type Fetcher struct {
	Manager *downloader.Manager
	// Display shows a task per download. Optional.
	Display display.Display
	// Force replaces an existing destination.
	Force bool
	// Prepare adjusts each request before submission, e.g. TLS settings or
	// default credentials. Optional.
	Prepare func(*transfer.Request)
}

// Fetch downloads plan.Source to plan.Destination unless the destination
// exists and Force is unset.
func (f *Fetcher) Fetch(ctx context.Context, plan *Plan) error {
	run := func() error {
		for _, stage := range []Stage{f.DownloadStage, FinalizeStage} {
			if err := stage(ctx, plan); err != nil {
				return err
			}
		}
		slog.Info("Download complete", "url", plan.Target, "path", plan.Destination, "bytes", plan.Outcome.Transferred)
		return nil
	}

	if f.Force {
		unlock, err := filelock.Lock(ctx, plan.Destination)
		if err != nil {
			return err
		}
		defer func() { _ = unlock() }()
		return run()
	}

	ran := false
	err := filelock.Ensure(ctx, plan.Destination, func() error {
		ran = true
		return run()
	})
	if err == nil && !ran {
		slog.Info("Already downloaded", "path", plan.Destination)
		plan.Skipped = true
	}
	return err
}

// DownloadStage transfers the source into the part file.
func (f *Fetcher) DownloadStage(ctx context.Context, plan *Plan) error {
	slog.Info("Downloading", "url", plan.Target, "path", plan.PartPath)

	file, err := os.Create(plan.PartPath)
	if err != nil {
		return fmt.Errorf("download stage failed: %w", err)
	}

	out, err := f.transfer(ctx, plan, file)
	cerr := file.Close()
	if err == nil {
		err = out.Err
	}
	if err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(plan.PartPath)
		return fmt.Errorf("download stage failed: %w", err)
	}

	plan.Outcome = out
	return nil
}

func (f *Fetcher) transfer(ctx context.Context, plan *Plan, file *os.File) (transfer.Outcome, error) {
	req, err := transfer.ParseRequest(plan.Source, transfer.OpGet, file)
	if err != nil {
		return transfer.Outcome{}, err
	}
	if f.Prepare != nil {
		f.Prepare(&req)
	}

	h, err := f.Manager.Submit(ctx, req)
	if err != nil {
		return transfer.Outcome{}, err
	}

	var task display.Task
	if f.Display != nil {
		task = f.Display.StartTask(plan.Name)
		task.SetStage("Download", plan.Target)
		defer task.Done()
	}

	out, err := display.Watch(ctx, h.Events(), task, nil)
	if err != nil {
		// ctx is done; the file must not be written to after return.
		h.Cancel()
		return h.Wait(context.Background())
	}
	return out, nil
}

// FinalizeStage moves the completed part file to the destination.
func FinalizeStage(_ context.Context, plan *Plan) error {
	if err := os.Rename(plan.PartPath, plan.Destination); err != nil {
		return fmt.Errorf("finalize stage failed: %w", err)
	}
	return nil
}
