package console

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"agentmirror/internal/application/port"
	"agentmirror/internal/domain/model"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiDim    = "\033[2m"
)

// Sink prints pass results and ledger listings as plain text lines.
type Sink struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
}

func NewSink(out io.Writer, color bool) *Sink {
	if out == nil {
		out = os.Stdout
	}
	return &Sink{out: out, color: color}
}

func (s *Sink) colorize(str, c string) string {
	if !s.color {
		return str
	}
	return c + str + ansiReset
}

// WritePass prints a header line and one line per action.
func (s *Sink) WritePass(res *model.PassResult) error {
	if res == nil {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(s.colorize("[MIRROR] ", ansiDim))
	fmt.Fprintf(&sb, "%s %s actions=%d ok=%d failed=%d skipped=%d released=%s took=%s\n",
		res.FinishedAt.Format("2006-01-02 15:04:05"),
		res.Agent,
		len(res.Actions),
		res.Count("success"), res.Count("failed"), res.Count("skipped"),
		formatNum(res.ReleasedMargin),
		res.FinishedAt.Sub(res.StartedAt).Round(1e6),
	)

	for _, a := range res.Actions {
		sb.WriteString("  ")
		sb.WriteString(s.resultTag(a))
		fmt.Fprintf(&sb, " %-5s %-12s %-5s qty=%s", a.Action.Kind, a.Action.Symbol, a.Action.Side, formatNum(a.Action.Quantity))
		if a.Action.EntryID != 0 {
			fmt.Fprintf(&sb, " entry=%d", a.Action.EntryID)
		}
		if a.OrderID != "" {
			fmt.Fprintf(&sb, " order=%s", a.OrderID)
		}
		if a.Action.ReplaceGroup != "" {
			sb.WriteString(s.colorize(" replace="+shortID(a.Action.ReplaceGroup), ansiDim))
		}
		fmt.Fprintf(&sb, " (%s)", a.Action.Reason)
		if a.Err != "" {
			sb.WriteString(" ")
			sb.WriteString(s.colorize("err="+a.Err, ansiRed))
		}
		for _, w := range a.Warnings {
			sb.WriteString(" ")
			sb.WriteString(s.colorize("warn="+w, ansiYellow))
		}
		sb.WriteString("\n")
	}

	return s.write(sb.String())
}

// WriteEntries prints ledger entries, newest last.
func (s *Sink) WriteEntries(entries []*model.LedgerEntry) error {
	if len(entries) == 0 {
		return s.write("(no ledger entries)\n")
	}
	var sb strings.Builder
	for _, e := range entries {
		state := s.colorize("ACTIVE", ansiGreen)
		if !e.Active() {
			state = s.colorize("CLOSED "+e.ClosedAt.Format("2006-01-02 15:04:05"), ansiDim)
		}
		fmt.Fprintf(&sb, "%s %-20s %-12s %-5s qty=%s px=%s entry=%d order=%s %s",
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.Agent, e.Symbol, e.Side,
			formatNum(e.Quantity), formatNum(e.Price),
			e.EntryID, e.OrderID, state)
		if e.CloseReason != "" {
			fmt.Fprintf(&sb, " (%s)", e.CloseReason)
		}
		sb.WriteString("\n")
	}
	return s.write(sb.String())
}

func (s *Sink) resultTag(a model.ExecutedAction) string {
	switch a.Result() {
	case "success":
		return s.colorize("OK  ", ansiGreen)
	case "skipped":
		return s.colorize("SKIP", ansiYellow)
	default:
		return s.colorize("FAIL", ansiRed)
	}
}

func (s *Sink) write(str string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.out, str)
	return err
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var _ port.ResultSink = (*Sink)(nil)
