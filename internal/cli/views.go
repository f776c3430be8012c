package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/engine"
)

// styles are resolved against the output writer so that pipes and test
// buffers get plain text.
type styles struct {
	header lipgloss.Style
	ok     lipgloss.Style
	warn   lipgloss.Style
	bad    lipgloss.Style
	dim    lipgloss.Style
}

func stylesFor(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		header: r.NewStyle().Bold(true),
		ok:     r.NewStyle().Foreground(lipgloss.Color("2")),
		warn:   r.NewStyle().Foreground(lipgloss.Color("3")),
		bad:    r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		dim:    r.NewStyle().Faint(true),
	}
}

// itemResult is one record of a pass in command output.
type itemResult struct {
	LocalID         string `json:"local_id"`
	State           string `json:"state"`
	RemoteID        string `json:"remote_id,omitempty"`
	Error           string `json:"error,omitempty"`
	Skipped         bool   `json:"skipped,omitempty"`
	NeedsCorrection bool   `json:"needs_correction,omitempty"`
}

// passView is a PassSummary in command output.
type passView struct {
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Synced     int          `json:"synced"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	Pending    int          `json:"pending"`
	Items      []itemResult `json:"items,omitempty"`
}

func newPassView(s engine.PassSummary) *passView {
	v := &passView{
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Synced:     s.Synced,
		Failed:     s.Failed,
		Skipped:    s.Skipped,
		Pending:    s.Pending,
	}
	for _, it := range s.Items {
		v.Items = append(v.Items, itemResult{
			LocalID:         it.LocalID,
			State:           string(it.State),
			RemoteID:        it.RemoteID,
			Error:           it.Error,
			Skipped:         it.Skipped,
			NeedsCorrection: it.NeedsCorrection,
		})
	}
	return v
}

func (v *passView) line(st styles) string {
	parts := []string{st.ok.Render(fmt.Sprintf("%d synced", v.Synced))}
	if v.Failed > 0 {
		parts = append(parts, st.bad.Render(fmt.Sprintf("%d failed", v.Failed)))
	} else {
		parts = append(parts, "0 failed")
	}
	if v.Skipped > 0 {
		parts = append(parts, st.warn.Render(fmt.Sprintf("%d need correction", v.Skipped)))
	}
	parts = append(parts, fmt.Sprintf("%d pending", v.Pending))
	return strings.Join(parts, ", ")
}

// syncResult is the output of the sync command.
type syncResult struct {
	Started bool      `json:"started"`
	Pass    *passView `json:"pass,omitempty"`
}

func (r syncResult) RenderText(w io.Writer) error {
	st := stylesFor(w)
	if !r.Started {
		fmt.Fprintln(w, st.warn.Render("A sync is already running"))
		return nil
	}
	fmt.Fprintf(w, "%s %s\n", st.header.Render("Sync finished:"), r.Pass.line(st))
	for _, it := range r.Pass.Items {
		switch {
		case it.Skipped:
			fmt.Fprintf(w, "  %s  %s\n", it.LocalID, st.warn.Render("skipped, needs correction"))
		case it.Error != "":
			fmt.Fprintf(w, "  %s  %s\n", it.LocalID, st.bad.Render(it.Error))
		default:
			fmt.Fprintf(w, "  %s  %s\n", it.LocalID, st.ok.Render("-> "+it.RemoteID))
		}
	}
	return nil
}

// statusResult is the output of the status command.
type statusResult struct {
	Pending  int       `json:"pending"`
	LastPass *passView `json:"last_pass,omitempty"`
}

func (r statusResult) RenderText(w io.Writer) error {
	st := stylesFor(w)
	fmt.Fprintf(w, "%s %d\n", st.header.Render("Pending:"), r.Pending)
	if r.LastPass == nil {
		fmt.Fprintf(w, "%s %s\n", st.header.Render("Last sync:"), st.dim.Render("never"))
		return nil
	}
	fmt.Fprintf(w, "%s %s (%s)\n", st.header.Render("Last sync:"),
		r.LastPass.FinishedAt.Local().Format(time.DateTime), r.LastPass.line(st))
	return nil
}

// queueItem is a pending record in command output.
type queueItem struct {
	LocalID         string    `json:"local_id"`
	Collection      string    `json:"collection"`
	Title           string    `json:"title"`
	CreatedAt       time.Time `json:"created_at"`
	Attachments     int       `json:"attachments"`
	State           string    `json:"state"`
	Attempts        int       `json:"attempts"`
	LastError       string    `json:"last_error,omitempty"`
	NeedsCorrection bool      `json:"needs_correction"`
}

// queueResult is the output of the queue command.
type queueResult struct {
	Items []queueItem `json:"items"`
}

func newQueueResult(items []engine.PendingItem) queueResult {
	res := queueResult{Items: make([]queueItem, 0, len(items))}
	for _, it := range items {
		res.Items = append(res.Items, queueItem{
			LocalID:         it.LocalID,
			Collection:      it.Collection,
			Title:           it.Title,
			CreatedAt:       it.CreatedAt,
			Attachments:     it.AttachmentCount,
			State:           string(it.State),
			Attempts:        it.Attempts,
			LastError:       it.LastError,
			NeedsCorrection: it.NeedsCorrection,
		})
	}
	return res
}

func (r queueResult) RenderText(w io.Writer) error {
	st := stylesFor(w)
	if len(r.Items) == 0 {
		fmt.Fprintln(w, st.ok.Render("Queue is empty"))
		return nil
	}
	fmt.Fprintln(w, st.header.Render(fmt.Sprintf("%d pending", len(r.Items))))
	for _, it := range r.Items {
		state := it.State
		if it.NeedsCorrection {
			state = st.warn.Render("needs correction")
		} else if it.LastError != "" {
			state = st.bad.Render(state)
		}
		fmt.Fprintf(w, "  %s  %-12s %-24q %d photo(s)  %s\n",
			it.LocalID, it.Collection, it.Title, it.Attachments, state)
		if it.LastError != "" {
			fmt.Fprintf(w, "      %s\n", st.dim.Render(fmt.Sprintf("attempt %d: %s", it.Attempts, it.LastError)))
		}
	}
	return nil
}
