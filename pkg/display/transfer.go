package display

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"xfer/pkg/transfer"
)

// Describe renders progress as "1.0 MB / 4.2 MB (512 kB/s)", or
// "1.0 MB downloaded" when the total is unknown.
func Describe(p transfer.Progress, elapsed time.Duration) string {
	if p.Total < 0 {
		return fmt.Sprintf("%s downloaded", humanize.Bytes(uint64(p.Transferred)))
	}

	var speed float64
	if s := elapsed.Seconds(); s > 0 {
		speed = float64(p.Transferred) / s
	}
	return fmt.Sprintf("%s / %s (%s/s)",
		humanize.Bytes(uint64(p.Transferred)),
		humanize.Bytes(uint64(p.Total)),
		humanize.Bytes(uint64(speed)))
}

// Watch consumes the events of a request, reflecting progress on task and
// passing listing entries to onEntry, which may be nil. It returns the
// terminal outcome. task.Done is left to the caller.
func Watch(ctx context.Context, events *transfer.Channel, task Task, onEntry func(transfer.DirEntry)) (transfer.Outcome, error) {
	start := time.Now()
	for {
		ev, err := events.Next(ctx)
		if errors.Is(err, io.EOF) {
			o, _ := events.Outcome()
			return o, nil
		}
		if err != nil {
			return transfer.Outcome{}, err
		}

		switch ev.Kind {
		case transfer.EventProgress:
			if task != nil {
				task.Progress(ev.Progress.Percent(), Describe(ev.Progress, time.Since(start)))
			}
		case transfer.EventEntry:
			if onEntry != nil {
				onEntry(ev.Entry)
			}
		case transfer.EventDone:
			return ev.Outcome, nil
		}
	}
}
