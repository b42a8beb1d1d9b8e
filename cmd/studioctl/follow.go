package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/orchestrator"
)

// eventPrinter writes orchestrator events as one line each and wakes up
// followers.
type eventPrinter struct {
	mu     sync.Mutex
	out    io.Writer
	notify chan struct{}
}

func newEventPrinter(out io.Writer) *eventPrinter {
	return &eventPrinter{out: out, notify: make(chan struct{}, 1)}
}

func (p *eventPrinter) Publish(sessionID string, ev model.Event) {
	p.mu.Lock()
	fmt.Fprintln(p.out, formatEvent(ev))
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func formatEvent(ev model.Event) string {
	ts := ev.At.Format("15:04:05")
	switch ev.Type {
	case model.EventStatusChange:
		if ev.State == nil {
			return ts + " status"
		}
		line := fmt.Sprintf("%s status %s", ts, ev.State.Status)
		if ev.State.ProgressHint != nil {
			line += fmt.Sprintf(" (%d%%)", *ev.State.ProgressHint)
		}
		return line
	case model.EventCompleted:
		if ev.Result == nil {
			return ts + " completed"
		}
		return fmt.Sprintf("%s completed %q %s", ts, ev.Result.Title, strings.Join(ev.Result.AssetURLs, " "))
	case model.EventFailed:
		if ev.Error == nil {
			return ts + " failed"
		}
		line := fmt.Sprintf("%s failed %s: %s", ts, ev.Error.Code, ev.Error.Message)
		if ev.Error.Retryable {
			line += " (retry with `studioctl retry`)"
		}
		return line
	case model.EventQueueAdvance:
		if ev.QueueIndex == nil {
			return ts + " next request scheduled"
		}
		return fmt.Sprintf("%s next request #%d scheduled", ts, *ev.QueueIndex+1)
	case model.EventAdmissionDenied:
		if ev.Admission == nil {
			return ts + " insufficient credits"
		}
		a := ev.Admission
		line := fmt.Sprintf("%s insufficient credits: cost %d, balance %d, short %d", ts, a.Cost, a.Balance, a.Shortfall)
		if a.PurchaseURL != "" {
			line += ", top up at " + a.PurchaseURL
		}
		return line
	case model.EventQueueFinished:
		return fmt.Sprintf("%s queue finished with %d result(s)", ts, len(ev.Results))
	default:
		return fmt.Sprintf("%s %s", ts, ev.Type)
	}
}

// follow blocks until o has nothing left to do or ctx is done.
func follow(ctx context.Context, o *orchestrator.Orchestrator) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if o.Idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-printer.notify:
		case <-ticker.C:
		}
	}
}

// summarize prints how the session ended up once follow returns.
func summarize(w io.Writer, o *orchestrator.Orchestrator) {
	q := o.Queue()
	switch {
	case q.Halted:
		fmt.Fprintf(w, "queue halted at request %d of %d; top up credits and run `studioctl retry`\n", q.Cursor+1, q.Length)
	case q.Length == 0 && len(q.Results) == 0:
		fmt.Fprintln(w, "nothing to do")
	}
}
