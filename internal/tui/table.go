package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mossy-p/mesh-signaling/internal/models"
)

// RoomTable renders the hub's room listing
func RoomTable(rooms []models.RoomInfo) string {
	if len(rooms) == 0 {
		return mutedStyle.Render("No active rooms")
	}

	rows := make([][]string, 0, len(rooms))
	for _, r := range rooms {
		members := make([]string, len(r.Members))
		for i, m := range r.Members {
			members[i] = string(m)
		}
		rows = append(rows, []string{r.ID, fmt.Sprintf("%d", r.MemberCount), strings.Join(members, ", ")})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("Room", "Members", "Participants").
		Rows(rows...).
		String()
}
