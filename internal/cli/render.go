package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"dogepal/internal/core"
)

var (
	colorBorder = lipgloss.Color("#575653")
	colorAccent = lipgloss.Color("#3AA99F")
	colorRed    = lipgloss.Color("#D14D41")
	colorOrange = lipgloss.Color("#DA702C")
	colorGreen  = lipgloss.Color("#879A39")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	totalStyle  = lipgloss.NewStyle().Bold(true)
)

const maxTitleWidth = 48

// FormatMoney renders an amount as $1,234.56.
func FormatMoney(v float64) string {
	if v < 0 {
		return "-$" + humanize.FormatFloat("#,###.##", -v)
	}
	return "$" + humanize.FormatFloat("#,###.##", v)
}

func priorityStyle(p core.Priority) lipgloss.Style {
	switch p {
	case core.PriorityHigh:
		return cellStyle.Foreground(colorRed)
	case core.PriorityMedium:
		return cellStyle.Foreground(colorOrange)
	default:
		return cellStyle.Foreground(colorGreen)
	}
}

// RenderRecommendations renders recommendations as a bordered table followed
// by the total potential savings.
func RenderRecommendations(recs []core.Recommendation) string {
	if len(recs) == 0 {
		return "No recommendations above the confidence threshold.\n"
	}

	rows := make([][]string, 0, len(recs))
	var total float64
	for _, r := range recs {
		subject := r.SubjectID
		if subject == "" {
			subject = "-"
		}
		rows = append(rows, []string{
			string(r.Priority),
			string(r.Kind),
			subject,
			truncate(r.Title, maxTitleWidth),
			fmt.Sprintf("%.2f", r.ConfidenceScore),
			FormatMoney(r.PotentialSavings),
		})
		total += r.PotentialSavings
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
		Headers("PRIORITY", "KIND", "TRANSACTION", "TITLE", "CONFIDENCE", "SAVINGS").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0:
				return priorityStyle(core.Priority(rows[row][0]))
			case col >= 4:
				return cellStyle.Align(lipgloss.Right)
			default:
				return cellStyle
			}
		})

	var b strings.Builder
	b.WriteString(t.Render())
	b.WriteString("\n")
	b.WriteString(totalStyle.Render(fmt.Sprintf("%d recommendations, %s potential savings",
		len(recs), FormatMoney(core.RoundCents(total)))))
	b.WriteString("\n")
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
