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
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aretw0/prdflow/internal/logging"
	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/wire"
)

// SignalContext wraps a context and captures the signal that cancelled it.
type SignalContext struct {
	context.Context
	Cancel func()
	start  sync.Once
	stop   sync.Once
	sigCh  chan os.Signal
	sigVal os.Signal
	mu     sync.Mutex
}

// NewSignalContext creates a context that is cancelled on SIGINT or SIGTERM.
// Unlike signal.NotifyContext it remembers which signal arrived.
func NewSignalContext(parent context.Context) *SignalContext {
	ctx, cancel := context.WithCancel(parent)
	sc := &SignalContext{
		Context: ctx,
		Cancel:  cancel,
		sigCh:   make(chan os.Signal, 1),
	}

	sc.start.Do(func() {
		signal.Notify(sc.sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			select {
			case sig := <-sc.sigCh:
				sc.mu.Lock()
				sc.sigVal = sig
				sc.mu.Unlock()
				sc.Cancel()
			case <-sc.Context.Done():
			}
			sc.stop.Do(func() {
				signal.Stop(sc.sigCh)
			})
		}()
	})

	return sc
}

// Signal returns the signal that cancelled the context, or nil.
func (sc *SignalContext) Signal() os.Signal {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.sigVal
}

// Interrupted reports whether a signal cut a failed run short. Ctrl+C can
// surface as EOF on stdin just before the signal lands, so it waits up to
// grace for one.
func (sc *SignalContext) Interrupted(err error, grace time.Duration) bool {
	if err == nil {
		return false
	}
	if sc.Signal() == nil {
		t := time.NewTimer(grace)
		defer t.Stop()
		select {
		case <-sc.Done():
		case <-t.C:
		}
	}
	return sc.Signal() != nil
}

// createLogger builds the stderr logger for level, falling back to info
// for unknown names.
func createLogger(level string, w io.Writer) *slog.Logger {
	lvl, err := logging.ParseLevel(level)
	l := logging.NewWithWriter(w, lvl)
	if err != nil {
		l.Warn("unknown log level, using info", "level", level)
	}
	return l
}

// HealthStatus is the decoded body of GET /health.
type HealthStatus struct {
	Status        string `json:"status"`
	Connections   int    `json:"connections"`
	Conversations int    `json:"conversations"`
}

// Probe checks the backend's /health endpoint. An unreachable backend is a
// *domain.TransportError; a reachable but degraded one is reported through
// the returned status.
func Probe(ctx context.Context, client *http.Client, baseURL string) (HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var hs HealthStatus
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/health", nil)
	if err != nil {
		return hs, &domain.TransportError{Op: "health", Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return hs, &domain.TransportError{Op: "health", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return hs, &domain.TransportError{Op: "health", Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		// Backends without a health route are assumed healthy.
		hs.Status = "unknown"
		return hs, nil
	case resp.StatusCode >= 500 && resp.StatusCode != http.StatusServiceUnavailable:
		return hs, wire.ParseErrorBody(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &hs); err != nil {
		return hs, domain.NewDecodeError(body, "invalid health body", err)
	}
	return hs, nil
}

func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, io.EOF)
}

// handleExecutionError maps user interruptions to a clean exit.
func handleExecutionError(err error) error {
	if err == nil || isInterrupted(err) {
		return nil
	}
	return err
}

func printSystemMessage(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, ">>> %s\n", fmt.Sprintf(format, args...))
}
