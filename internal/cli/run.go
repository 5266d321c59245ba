package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aretw0/prdflow"
	"github.com/aretw0/prdflow/internal/config"
	"github.com/aretw0/prdflow/internal/console"
	"github.com/aretw0/prdflow/internal/presentation/tui"
	natsadapter "github.com/aretw0/prdflow/pkg/adapters/nats"
	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/observability"
	"github.com/aretw0/prdflow/pkg/session"
)

// RunOptions contains the per-invocation settings of the run command.
type RunOptions struct {
	// Input is the product description; empty means ask for it.
	Input   string
	JSON    bool
	Verbose bool
	// Quiet suppresses the banner.
	Quiet     bool
	SkipProbe bool
	// SaveTo, when set, receives the final snapshot as JSON.
	SaveTo string

	In  io.Reader
	Out io.Writer
	Err io.Writer
}

func (o *RunOptions) defaults() {
	if o.In == nil {
		o.In = os.Stdin
	}
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.Err == nil {
		o.Err = os.Stderr
	}
}

// Execute runs one session and maps user interruptions to a clean exit.
func Execute(ctx context.Context, cfg config.Config, opts RunOptions) error {
	_, err := RunSession(ctx, cfg, opts)
	return handleExecutionError(err)
}

// RunSession performs one workflow run against the configured backend and
// presents it through the text or JSON console.
func RunSession(ctx context.Context, cfg config.Config, opts RunOptions) (domain.Session, error) {
	opts.defaults()
	logger := createLogger(cfg.LogLevel, opts.Err)

	metrics := observability.NewMetrics()
	if cfg.MetricsAddr != "" {
		stop := serveMetrics(cfg.MetricsAddr, metrics, logger)
		defer stop()
	}

	clientOpts := []prdflow.Option{
		prdflow.WithLogger(logger),
		prdflow.WithMetrics(metrics),
		prdflow.WithTimeout(cfg.HTTPTimeout),
		prdflow.WithMaxLineSize(cfg.MaxLineSize),
	}

	if cfg.NATS.URL != "" {
		var natsOpts []natsadapter.Option
		if cfg.NATS.Subject != "" {
			natsOpts = append(natsOpts, natsadapter.WithSubjectPrefix(cfg.NATS.Subject))
		}
		pub, err := natsadapter.Connect(cfg.NATS.URL, natsOpts...)
		if err != nil {
			return domain.Session{}, fmt.Errorf("failed to connect event mirror: %w", err)
		}
		defer pub.Close()
		clientOpts = append(clientOpts, prdflow.WithPublisher(pub))
	}

	var client *prdflow.Client
	switch cfg.Transport {
	case config.TransportSocket:
		clientOpts = append(clientOpts, prdflow.WithReconnectPolicy(cfg.Reconnect))
		client = prdflow.NewSocket(cfg.Socket, clientOpts...)
	default:
		if !opts.SkipProbe {
			hs, err := Probe(ctx, http.DefaultClient, cfg.Stream.BaseURL)
			if err != nil {
				return domain.Session{}, fmt.Errorf("backend unavailable: %w", err)
			}
			if hs.Status == "degraded" {
				logger.Warn("backend reports degraded health", "base_url", cfg.Stream.BaseURL)
			}
		}
		client = prdflow.NewStream(cfg.Stream, clientOpts...)
	}
	defer client.Close(context.WithoutCancel(ctx))

	d := console.NewDriver(newHandler(opts), console.WithDriverLogger(logger))
	s := client.NewSession(session.WithHooks(d.Hooks()))
	defer s.Close(context.WithoutCancel(ctx))
	snap, err := d.Run(ctx, s, opts.Input)

	if opts.SaveTo != "" {
		if serr := saveSnapshot(opts.SaveTo, snap); serr != nil {
			err = errors.Join(err, serr)
		}
	}
	return snap, err
}

func newHandler(opts RunOptions) console.Handler {
	if opts.JSON {
		return console.NewJSONHandler(opts.In, opts.Out)
	}
	hopts := []console.TextHandlerOption{console.WithVerbose(opts.Verbose)}
	if f, ok := opts.Out.(*os.File); ok && tui.IsTerminal(f) {
		if r := tui.RendererFor(f); r != nil {
			hopts = append(hopts, console.WithTextHandlerRenderer(r))
		}
		if !opts.Quiet {
			tui.PrintBanner(f)
		}
	}
	return console.NewTextHandler(opts.In, opts.Out, hopts...)
}

func serveMetrics(addr string, m *observability.Metrics, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener stopped", "addr", addr, "err", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func saveSnapshot(path string, snap domain.Session) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by a run with SaveTo.
func LoadSnapshot(path string) (domain.Session, error) {
	var snap domain.Session
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if snap.Stages == nil {
		snap.Stages = map[string]map[string]any{}
	}
	return snap, nil
}
