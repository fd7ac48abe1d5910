package cmd

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pterm/pterm"

	"github.com/ivdimova/inbox-triage-assistant/model"
)

const maxRowsPerCluster = 10

// clusterRows builds the table for one cluster, header row first.
func clusterRows(c model.Cluster) [][]string {
	rows := [][]string{{"From", "Subject", "Date", "Preview"}}

	for i, m := range c.Members {
		if i == maxRowsPerCluster {
			break
		}
		date := "N/A"
		if !m.Date.IsZero() {
			date = m.Date.Format("01/02")
		}
		rows = append(rows, []string{
			clip(senderName(m.Sender), 25, ""),
			clip(m.Subject, 40, "..."),
			date,
			clip(m.Preview, 30, "..."),
		})
	}

	if remaining := len(c.Members) - maxRowsPerCluster; remaining > 0 {
		rows = append(rows, []string{"...", fmt.Sprintf("+ %d more emails", remaining), "", ""})
	}
	return rows
}

// senderName drops the address part of "Name <addr>".
func senderName(sender string) string {
	name, _, _ := strings.Cut(sender, "<")
	return strings.TrimSpace(name)
}

// clip cuts s to n runes and appends suffix when it had to cut.
func clip(s string, n int, suffix string) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + suffix
}

func renderClusters(clusters []model.Cluster) {
	pterm.DefaultHeader.Println("Email Clusters")

	for i, c := range clusters {
		pterm.DefaultSection.Printf("Cluster %d: %s\n", i+1, c.Name)
		pterm.Println(c.Description)
		if len(c.Keywords) > 0 {
			pterm.Printf("Keywords: %s\n", strings.Join(c.Keywords, ", "))
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(clusterRows(c)).Render(); err != nil {
			pterm.Error.Printf("render cluster %d: %v\n", c.ID, err)
		}
		pterm.Println()
	}
}
