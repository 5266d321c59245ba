package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/report"
	"github.com/aretw0/prdflow/pkg/session"
	"github.com/muesli/termenv"
)

// TextHandler is the interactive terminal front end.
type TextHandler struct {
	Reader   *bufio.Reader
	Writer   io.Writer
	Renderer ContentRenderer

	out     *termenv.Output
	verbose bool

	mu        sync.Mutex
	inputChan chan inputResult
	startOnce sync.Once
}

type inputResult struct {
	text string
	err  error
}

// TextHandlerOption configures a TextHandler.
type TextHandlerOption func(*TextHandler)

// WithTextHandlerRenderer renders the final report through renderer.
func WithTextHandlerRenderer(renderer ContentRenderer) TextHandlerOption {
	return func(h *TextHandler) {
		h.Renderer = renderer
	}
}

// WithVerbose also prints status messages and dropped-record notices.
func WithVerbose(v bool) TextHandlerOption {
	return func(h *TextHandler) {
		h.verbose = v
	}
}

// NewTextHandler creates a handler for standard text IO.
func NewTextHandler(r io.Reader, w io.Writer, opts ...TextHandlerOption) *TextHandler {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	h := &TextHandler{
		Reader: bufio.NewReader(r),
		Writer: w,
		out:    termenv.NewOutput(w),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *TextHandler) initPump() {
	h.startOnce.Do(func() {
		h.inputChan = make(chan inputResult)
		go h.pump()
	})
}

// pump reads lines in the background so Input can honour cancellation.
func (h *TextHandler) pump() {
	for {
		text, err := h.Reader.ReadString('\n')
		if text != "" {
			h.inputChan <- inputResult{text: text}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				close(h.inputChan)
				return
			}
			h.inputChan <- inputResult{err: err}
			time.Sleep(50 * time.Millisecond)
		}
	}
}

func (h *TextHandler) color(s, hex string) termenv.Style {
	return h.out.String(s).Foreground(h.out.Color(hex))
}

func (h *TextHandler) println(a ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintln(h.Writer, a...)
}

func (h *TextHandler) Event(ctx context.Context, ev domain.Event) {
	switch e := ev.(type) {
	case domain.StatusEvent:
		switch e.Connectivity {
		case domain.Connected:
			h.println(h.color("● connected", "#34d399"))
		case domain.Disconnected:
			h.println(h.color(fmt.Sprintf("○ disconnected (code %d)", e.Code), "#fbbf24"))
		default:
			if h.verbose && e.Message != "" {
				h.println(h.color("· "+e.Message, "#9ca3af"))
			}
		}
	case domain.ProgressEvent:
		if h.verbose {
			h.println(h.color("· "+e.Message, "#9ca3af"))
		}
	case domain.ClarifierBatchEvent:
		pending := 0
		for _, q := range e.Questions {
			if q.Pending() {
				pending++
			}
		}
		if pending > 0 {
			h.println(h.color(fmt.Sprintf("The clarifier has %d question(s) for you.", pending), "#818cf8").Bold())
		}
	case domain.StageResultEvent:
		h.println(h.color("✓ "+e.Stage, "#a78bfa"))
	case domain.CompleteEvent:
		h.println(h.color("✓ summary", "#a78bfa"))
	case domain.ErrorEvent:
		if errors.Is(e.Err, domain.ErrDecode) && !h.verbose {
			return
		}
		h.println(h.color("! "+e.Message(), "#fb7185"))
	}
}

func (h *TextHandler) Transition(ctx context.Context, t session.Transition) {
	if t.To == domain.StateRunning || t.To.Terminal() {
		h.println(h.out.String(report.Progress(t.Session)).Faint())
	}
}

func (h *TextHandler) Ask(ctx context.Context, question string) error {
	h.println()
	h.println(h.out.String(question).Bold())
	return nil
}

func (h *TextHandler) Input(ctx context.Context) (string, error) {
	h.initPump()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
			h.mu.Lock()
			fmt.Fprint(h.Writer, "> ")
			h.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case res, ok := <-h.inputChan:
			if !ok {
				return "", io.EOF
			}
			if res.err != nil {
				return "", res.err
			}
			return strings.TrimSpace(res.text), nil
		}
	}
}

func (h *TextHandler) Result(ctx context.Context, s domain.Session, err error) error {
	if err != nil {
		h.println(h.color("Workflow failed: "+err.Error(), "#fb7185").Bold())
	}
	output := report.Render(s)
	if h.Renderer != nil {
		if rendered, rerr := h.Renderer(output); rerr == nil {
			output = rendered
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, werr := fmt.Fprintln(h.Writer, strings.TrimSpace(output))
	return werr
}
