// Package report renders dataset and training summaries for the terminal.
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"corpusidx/pkg/store"
	"corpusidx/pkg/training"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFFF00")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#60A5FA"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#9CA3AF")).
			Padding(0, 1)

	savedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))
)

// Dataset pairs a split name with its stats.
type Dataset struct {
	Kind  string
	Stats store.Stats
}

func cell(width int, s string) string {
	return lipgloss.NewStyle().Width(width).Render(s)
}

func row(widths []int, cols ...string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = cell(widths[i], c)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

// Datasets renders one line per split.
func Datasets(sets []Dataset) string {
	widths := []int{8, 7, 10, 8, 10, 7, 12, 10}
	lines := []string{
		titleStyle.Render("Datasets"),
		headerStyle.Render(row(widths, "split", "format", "rows", "noise", "cursor", "width", "size", "commits")),
	}
	for _, d := range sets {
		st := d.Stats
		commits := fmt.Sprintf("%d", st.Commits)
		if st.ManifestLocked {
			commits = warnStyle.Render("locked")
		} else if st.LastCommit != nil && st.LastCommit.Sealed {
			commits += " ✓"
		}
		lines = append(lines, row(widths,
			d.Kind,
			st.Format,
			fmt.Sprintf("%d", st.Rows),
			fmt.Sprintf("%d", st.NoiseRows),
			fmt.Sprintf("%d", st.Cursor),
			fmt.Sprintf("%d", st.Width),
			humanBytes(st.ValidBytes+st.NoiseBytes),
			commits,
		))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

// History renders per-epoch metrics of one run. Epochs in saved are marked.
func History(run string, h *training.History, margin float64) string {
	widths := []int{7, 11, 10, 10, 10, 10, 7}
	lines := []string{
		titleStyle.Render("Run " + run),
		headerStyle.Render(row(widths, "epoch", "train acc", "train loss", "val acc", "val loss", "val f1", "saved")),
	}
	if h == nil || h.Len() == 0 {
		lines = append(lines, "no epochs recorded")
		return boxStyle.Render(strings.Join(lines, "\n"))
	}

	for i := 0; i < h.Len(); i++ {
		mark := ""
		prefix := &training.History{
			TrainAcc: h.TrainAcc[:i+1], TrainLoss: h.TrainLoss[:i+1], TrainF1: h.TrainF1[:i+1],
			ValAcc: h.ValAcc[:i+1], ValLoss: h.ValLoss[:i+1], ValF1: h.ValF1[:i+1],
		}
		if training.ShouldSave(prefix, margin) {
			mark = savedStyle.Render("*")
		}
		lines = append(lines, row(widths,
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%.2f%%", h.TrainAcc[i]),
			fmt.Sprintf("%.4f", h.TrainLoss[i]),
			fmt.Sprintf("%.2f%%", h.ValAcc[i]),
			fmt.Sprintf("%.4f", h.ValLoss[i]),
			fmt.Sprintf("%.4f", h.ValF1[i]["f1"]),
			mark,
		))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
