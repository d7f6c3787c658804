package client

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/tradeserver/internal/domain"
)

var (
	headerCell = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).PaddingRight(2)
	cell       = lipgloss.NewStyle().PaddingRight(2)
	totalStyle = lipgloss.NewStyle().Bold(true).MarginTop(1)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Render draws holdings as a table valued at each holding's last price.
func Render(holdings []domain.Holding) string {
	if len(holdings) == 0 {
		return boxStyle.Render("portfolio is empty")
	}

	columns := [][]string{
		{"SYMBOL"}, {"QUANTITY"}, {"AVG COST"}, {"LAST"}, {"VALUE"},
	}
	total := decimal.Zero
	for _, h := range holdings {
		value := h.MarketValue()
		total = total.Add(value)
		columns[0] = append(columns[0], h.Symbol)
		columns[1] = append(columns[1], h.Quantity.String())
		columns[2] = append(columns[2], h.AvgCost.StringFixed(2))
		columns[3] = append(columns[3], h.LastPrice.StringFixed(2))
		columns[4] = append(columns[4], value.StringFixed(2))
	}

	rendered := make([]string, len(columns))
	for i, col := range columns {
		lines := make([]string, len(col))
		lines[0] = headerCell.Render(col[0])
		for j := 1; j < len(col); j++ {
			lines[j] = cell.Render(col[j])
		}
		rendered[i] = strings.Join(lines, "\n")
	}

	table := lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
	footer := totalStyle.Render(fmt.Sprintf("TOTAL VALUE %s", total.StringFixed(2)))
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, table, footer))
}
