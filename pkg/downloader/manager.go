package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rcrowley/go-metrics"

	"xfer/pkg/transfer"
)

// Handle identifies a submitted request.
// Immutable
type Handle struct {
	ID        uuid.UUID
	Scheme    transfer.Scheme
	Operation transfer.Operation
	// URL is the request target without credentials.
	URL string

	events *transfer.Channel
	cancel context.CancelFunc
}

// Events returns the request's event channel.
func (h *Handle) Events() *transfer.Channel {
	return h.events
}

// Cancel aborts the request. The outcome becomes a CancelledError unless
// the request already finished.
func (h *Handle) Cancel() {
	h.cancel()
}

// Wait blocks until the request finished or ctx is done.
func (h *Handle) Wait(ctx context.Context) (transfer.Outcome, error) {
	return h.events.Wait(ctx)
}

// Manager dispatches requests to the protocol clients.
// Mutable
type Manager struct {
	opts    Options
	metrics *managerMetrics

	mu        sync.Mutex
	factories map[transfer.Scheme]Factory
	running   map[uuid.UUID]*Handle
	wg        sync.WaitGroup
}

// NewManager returns a Manager serving http(s) and ftp(s).
func NewManager(opts Options) *Manager {
	m := &Manager{
		opts:      opts,
		metrics:   newManagerMetrics(opts.Registry),
		factories: make(map[transfer.Scheme]Factory),
		running:   make(map[uuid.UUID]*Handle),
	}
	m.Register(transfer.SchemeHTTP, NewHTTPClient)
	m.Register(transfer.SchemeFTP, NewFTPClient)
	return m
}

// Register installs the factory used for scheme, replacing any previous one.
func (m *Manager) Register(scheme transfer.Scheme, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[scheme] = f
}

// Registry returns the metrics registry of the Manager.
func (m *Manager) Registry() metrics.Registry {
	return m.metrics.registry
}

// Submit validates req and starts it on its own goroutine. An invalid
// request is rejected with an InvalidStateError before any network
// activity and no Handle is created.
func (m *Manager) Submit(ctx context.Context, req transfer.Request) (*Handle, error) {
	if err := req.Validate(); err != nil {
		m.metrics.rejected()
		return nil, err
	}

	m.mu.Lock()
	factory, ok := m.factories[req.Scheme]
	m.mu.Unlock()
	if !ok {
		m.metrics.rejected()
		return nil, transfer.NewError(transfer.KindInvalidState, "submit",
			fmt.Errorf("no client registered for scheme %s", req.Scheme))
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ID:        uuid.New(),
		Scheme:    req.Scheme,
		Operation: req.Operation,
		URL:       req.URL(),
		events:    transfer.NewChannel(m.opts.EventBuffer),
		cancel:    cancel,
	}

	m.mu.Lock()
	m.running[h.ID] = h
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(ctx, h, factory, req)
	return h, nil
}

// Cancel aborts the request behind h.
func (m *Manager) Cancel(h *Handle) {
	if h != nil {
		h.Cancel()
	}
}

// Shutdown cancels every running request and waits until all of them
// published their outcome, or ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, h := range m.running {
		h.Cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run(ctx context.Context, h *Handle, factory Factory, req transfer.Request) {
	defer m.wg.Done()
	defer h.cancel()

	start := time.Now()
	slog.Debug("Transfer started", "id", h.ID, "url", h.URL, "operation", req.Operation)

	client := factory(req, m.opts, h.events)
	res, err := execute(ctx, client, req)

	// The client is closed before the outcome becomes visible.
	if cerr := client.Close(); cerr != nil {
		slog.Debug("Closing transfer client failed", "id", h.ID, "error", cerr)
	}

	err = normalize(ctx, err)
	out := transfer.Outcome{Result: res, Err: err}
	elapsed := time.Since(start)
	m.metrics.record(req.Scheme, out, elapsed)

	if err != nil {
		slog.Debug("Transfer failed", "id", h.ID, "url", h.URL, "kind", out.Kind(), "error", err)
	} else {
		slog.Debug("Transfer finished", "id", h.ID, "url", h.URL, "bytes", res.Transferred, "elapsed", elapsed)
	}

	m.mu.Lock()
	delete(m.running, h.ID)
	m.mu.Unlock()

	h.events.Finish(out)
}

func execute(ctx context.Context, c Client, req transfer.Request) (transfer.Result, error) {
	if err := c.Connect(ctx, req.Host, req.Port); err != nil {
		return transfer.Result{}, err
	}

	// FTP always logs in, anonymously without credentials. HTTP only
	// needs Login to attach basic credentials.
	if req.Scheme == transfer.SchemeFTP || req.Credentials != nil {
		var user, password string
		if req.Credentials != nil {
			user, password = req.Credentials.Username, req.Credentials.Password
		}
		if err := c.Login(ctx, user, password); err != nil {
			return transfer.Result{}, err
		}
	}

	switch req.Operation {
	case transfer.OpGet:
		return c.Get(ctx, req.Path, req.Destination)
	case transfer.OpList:
		return c.List(ctx, req.Path)
	}
	return transfer.Result{}, transfer.NewError(transfer.KindInvalidState, "execute",
		fmt.Errorf("unknown operation: %s", req.Operation))
}

// normalize makes every failure a *transfer.Error.
func normalize(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var te *transfer.Error
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return transfer.NewError(transfer.KindCancelled, "transfer", err)
	}
	return transfer.NewError(transfer.KindTransport, "transfer", err)
}
