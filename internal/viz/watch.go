package viz

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/stepd/internal/wire"
)

const historyLen = 60

type frameMsg wire.Message

type closedMsg struct{}

// Watch is a Bubble Tea model fed by decoded frames of a single job. It
// shows progress towards target iterations and the latest scalar fields.
type Watch struct {
	unit    string
	target  int
	frames  <-chan wire.Message
	iter    int
	events  int
	fields  map[string]float64
	history map[string][]float64
	result  any
	done    bool
	failed  bool
	width   int
}

func NewWatch(unit string, target int, frames <-chan wire.Message) Watch {
	if target < 1 {
		target = 1
	}
	return Watch{
		unit:    unit,
		target:  target,
		frames:  frames,
		fields:  make(map[string]float64),
		history: make(map[string][]float64),
		width:   80,
	}
}

func (w Watch) Init() tea.Cmd { return w.next() }

func (w Watch) next() tea.Cmd {
	frames := w.frames
	return func() tea.Msg {
		msg, ok := <-frames
		if !ok {
			return closedMsg{}
		}
		return frameMsg(msg)
	}
}

func (w Watch) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return w, tea.Quit
		}
	case tea.WindowSizeMsg:
		w.width = msg.Width
	case frameMsg:
		switch msg.Type {
		case wire.TypeDynamics:
			w.observe(msg.Data)
		case wire.TypeResult:
			w.result = msg.Data
			w.failed = wire.IsErrorResult(msg.Data)
			w.done = true
		}
		return w, w.next()
	case closedMsg:
		w.done = true
	}
	return w, nil
}

func (w *Watch) observe(data any) {
	m, ok := data.(map[string]any)
	if !ok {
		return
	}
	w.events++
	for k, v := range m {
		f, ok := v.(float64)
		if !ok {
			continue
		}
		if k == "t" {
			w.iter = int(f)
			continue
		}
		w.fields[k] = f
		h := append(w.history[k], f)
		if len(h) > historyLen {
			h = h[len(h)-historyLen:]
		}
		w.history[k] = h
	}
}

func (w Watch) View() string {
	var b strings.Builder

	status := StatusRunning.Render("running")
	switch {
	case w.failed:
		status = StatusFailed.Render("failed")
	case w.done:
		status = StatusDone.Render("done")
	}
	b.WriteString(Title.Render(w.unit) + "  " + status + "\n\n")

	pct := float64(w.iter) / float64(w.target)
	barWidth := min(40, max(w.width-30, 10))
	fmt.Fprintf(&b, "%s %s %d/%d\n\n", MetricLabel.Render("t"), ProgressBar(pct, barWidth), w.iter, w.target)

	keys := make([]string, 0, len(w.fields))
	for k := range w.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%-12s %s  %s\n",
			MetricLabel.Render(k),
			MetricValue.Render(fmt.Sprintf("%12.6g", w.fields[k])),
			Sparkline(w.history[k], 30))
	}

	if w.failed {
		if m, ok := w.result.(map[string]any); ok {
			fmt.Fprintf(&b, "\n%s\n", StatusFailed.Render(fmt.Sprint(m["error"])))
		}
	}

	b.WriteString("\n" + KeyHint.Render(fmt.Sprintf("%d events  q quit", w.events)))
	return Panel.Render(b.String())
}

// Done reports whether the job's result frame (or end of stream) was seen.
func (w Watch) Done() bool { return w.done }

// Failed reports whether the job ended with an error result.
func (w Watch) Failed() bool { return w.failed }

// RunWatch runs the live view until the user quits or ctx ends.
func RunWatch(ctx context.Context, unit string, target int, frames <-chan wire.Message, opts ...tea.ProgramOption) (Watch, error) {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(NewWatch(unit, target, frames), opts...).Run()
	if w, ok := final.(Watch); ok {
		return w, err
	}
	return Watch{}, err
}
