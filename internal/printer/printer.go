// Package printer renders transcript events to a terminal. It is one
// consumer of the engine's event bus; the engine itself knows nothing
// about presentation.
package printer

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/lxyhes/iflow-engine/internal/event"
	"github.com/lxyhes/iflow-engine/pkg/types"
)

var (
	toolColor    = color.New(color.FgYellow)
	okColor      = color.New(color.FgGreen)
	failColor    = color.New(color.FgRed)
	planColor    = color.New(color.FgCyan)
	errColor     = color.New(color.FgRed, color.Bold)
	addedColor   = color.New(color.FgGreen)
	removedColor = color.New(color.FgRed)
)

// Printer writes a live rendering of the transcript as bus events arrive.
type Printer struct {
	mu          sync.Mutex
	w           io.Writer
	verbose     bool
	unsubscribe func()
	streaming   bool // an assistant record is being printed inline
}

// New creates a printer writing to w. verbose additionally prints
// thinking traces and tool outputs.
func New(w io.Writer, verbose bool) *Printer {
	return &Printer{w: w, verbose: verbose}
}

// Attach subscribes the printer to an engine bus.
func (p *Printer) Attach(bus *event.Bus) {
	p.unsubscribe = bus.SubscribeAll(p.handleEvent)
}

// Detach stops listening.
func (p *Printer) Detach() {
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

func (p *Printer) handleEvent(e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Type {
	case event.RecordAppended:
		data, ok := e.Data.(event.RecordAppendedData)
		if !ok {
			return
		}
		p.printAppended(data.Record)
	case event.RecordUpdated:
		data, ok := e.Data.(event.RecordUpdatedData)
		if !ok {
			return
		}
		p.printUpdated(data.Record, data.Delta)
	case event.TurnFinished, event.TurnAborted:
		if p.streaming {
			fmt.Fprintln(p.w)
			p.streaming = false
		}
	}
}

func (p *Printer) printAppended(rec *types.Record) {
	switch rec.Kind {
	case types.KindUser:
		// The REPL already echoes user input; just note attachments.
		for _, att := range rec.Attachments {
			fmt.Fprintf(p.w, "  attached %s\n", att.Filename)
		}
	case types.KindAssistant:
		fmt.Fprint(p.w, rec.Content)
		p.streaming = true
	case types.KindTool:
		p.breakLine()
		toolColor.Fprintf(p.w, "* %s", rec.Tool.Name)
		if rec.Tool.Label != "" {
			fmt.Fprintf(p.w, " %s", rec.Tool.Label)
		}
		if rec.Tool.Agent != nil {
			fmt.Fprintf(p.w, " [%s]", rec.Tool.Agent.Name)
		}
		fmt.Fprintln(p.w)
	case types.KindPlan:
		p.breakLine()
		planColor.Fprintln(p.w, "plan:")
		for i, step := range rec.Plan {
			marker := " "
			if step.Status == "done" {
				marker = "x"
			}
			fmt.Fprintf(p.w, "  %d. [%s] %s\n", i+1, marker, step.Title)
		}
	case types.KindError:
		p.breakLine()
		errColor.Fprintf(p.w, "error: %s\n", rec.Content)
	}
}

func (p *Printer) printUpdated(rec *types.Record, delta string) {
	switch rec.Kind {
	case types.KindAssistant:
		fmt.Fprint(p.w, delta)
		p.streaming = delta != "" || p.streaming
	case types.KindTool:
		p.breakLine()
		if rec.Tool.Status == types.ToolSuccess {
			okColor.Fprintf(p.w, "  ok %s\n", rec.Tool.Name)
		} else {
			failColor.Fprintf(p.w, "  failed %s\n", rec.Tool.Name)
		}
		if p.verbose && rec.Tool.Output != "" {
			fmt.Fprintln(p.w, indent(rec.Tool.Output, "    "))
		}
		if rec.Tool.Diff != "" {
			p.printDiff(rec.Tool.Diff)
		}
	}
}

// printDiff colorizes unified diff lines from a tool result.
func (p *Printer) printDiff(diff string) {
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			addedColor.Fprintln(p.w, "    "+line)
		case strings.HasPrefix(line, "-"):
			removedColor.Fprintln(p.w, "    "+line)
		default:
			fmt.Fprintln(p.w, "    "+line)
		}
	}
}

// breakLine ends an inline streaming run before block output.
func (p *Printer) breakLine() {
	if p.streaming {
		fmt.Fprintln(p.w)
		p.streaming = false
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
