package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ivdimova/inbox-triage-assistant/cluster"
	"github.com/ivdimova/inbox-triage-assistant/filter"
	"github.com/ivdimova/inbox-triage-assistant/mbox"
	"github.com/ivdimova/inbox-triage-assistant/normalize"
)

// mboxReport counts sender domains, senders and subject keywords.
type mboxReport struct {
	Messages int
	Skipped  int
	Filtered int
	Counts   map[string]map[string]int
}

var reportCategories = []string{"Domain", "From", "Keyword"}

func newMboxStatsCommand() *cobra.Command {
	var (
		reportDir     string
		topN          int
		includeHeader []string
		includeBody   []string
		excludeHeader []string
		excludeBody   []string
	)

	mboxStatsCmd := &cobra.Command{
		Use:   "mbox-stats [mbox file]",
		Short: "Show which sender domains and subject words would drive clustering",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filterOpts := filter.Options{
				IncludeHeader: includeHeader,
				IncludeBody:   includeBody,
				ExcludeHeader: excludeHeader,
				ExcludeBody:   excludeBody,
			}
			includeActive := len(includeHeader) > 0 || len(includeBody) > 0
			excludeActive := len(excludeHeader) > 0 || len(excludeBody) > 0
			if includeActive && excludeActive {
				return fmt.Errorf("include and exclude flags are mutually exclusive")
			}
			f, err := filter.New(filterOpts)
			if err != nil {
				return fmt.Errorf("create filter: %w", err)
			}

			session, err := mbox.Open(args[0], nil)
			if err != nil {
				return err
			}
			defer session.Close()

			pterm.Info.Println("Analyzing mbox file:", args[0])
			report, err := buildMboxReport(cmd.Context(), session, f, time.Now())
			if err != nil {
				return err
			}

			printMboxReport(report, topN)

			if err := saveCSVReports(report.Counts, reportCategories, reportDir, 1000); err != nil {
				return fmt.Errorf("error saving CSV reports: %w", err)
			}
			pterm.Success.Printf("Reports saved to directory: %s\n", reportDir)
			return nil
		},
	}

	flags := mboxStatsCmd.Flags()
	flags.StringVarP(&reportDir, "output", "o", ".", "Output directory for CSV reports")
	flags.IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	flags.StringArrayVar(&includeHeader, "include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArrayVar(&includeBody, "include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArrayVar(&excludeHeader, "exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArrayVar(&excludeBody, "exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
	return mboxStatsCmd
}

func buildMboxReport(ctx context.Context, session *mbox.Session, f *filter.Filter, now time.Time) (mboxReport, error) {
	report := mboxReport{Counts: make(map[string]map[string]int)}
	for _, category := range reportCategories {
		report.Counts[category] = make(map[string]int)
	}

	ids, err := session.ListRecent(ctx, 0)
	if err != nil {
		return report, err
	}

	for _, id := range ids {
		payload, err := session.FetchPayload(ctx, id)
		if err != nil {
			report.Skipped++
			continue
		}
		if !f.Allows(payload) {
			report.Filtered++
			continue
		}
		msg, err := normalize.Normalize(payload, now)
		if err != nil {
			report.Skipped++
			continue
		}

		report.Messages++
		if domain := cluster.ExtractDomain(msg.Sender); domain != "" {
			report.Counts["Domain"][domain]++
		}
		if msg.Sender != "" {
			report.Counts["From"][msg.Sender]++
		}
		for _, word := range cluster.SubjectWords(msg.Subject) {
			if utf8.RuneCountInString(word) > 2 {
				report.Counts["Keyword"][word]++
			}
		}
	}
	return report, nil
}

func printMboxReport(report mboxReport, topN int) {
	total := report.Messages + report.Filtered
	var filterPercent float64
	if total > 0 {
		filterPercent = float64(report.Filtered) / float64(total) * 100
	}
	pterm.Info.Printf("Processed %d messages (skipped %d unreadable, %d by filters, %.2f%%)\n",
		report.Messages, report.Skipped, report.Filtered, filterPercent)

	for _, category := range reportCategories {
		pterm.DefaultSection.Printf("Top %d %s\n", topN, category)
		rows := [][]string{{"#", category, "Count"}}
		for i, p := range topPairs(report.Counts[category], topN) {
			rows = append(rows, []string{strconv.Itoa(i + 1), p.Key, strconv.Itoa(p.Value)})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	}
}

type countPair struct {
	Key   string
	Value int
}

// topPairs sorts by count descending, then key, and keeps at most limit.
func topPairs(counts map[string]int, limit int) []countPair {
	pairs := make([]countPair, 0, len(counts))
	for k, v := range counts {
		pairs = append(pairs, countPair{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})
	if limit >= 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}

func saveCSVReports(counter map[string]map[string]int, categories []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, category := range categories {
		filePath := filepath.Join(dir, fmt.Sprintf("report_%s.csv", normalizeHeaderName(category)))

		file, err := os.Create(filePath)
		if err != nil {
			return err
		}

		writer := csv.NewWriter(file)
		if err := writer.Write([]string{"Value", "Count"}); err != nil {
			file.Close()
			return err
		}

		for _, p := range topPairs(counter[category], limit) {
			if err := writer.Write([]string{p.Key, strconv.Itoa(p.Value)}); err != nil {
				file.Close()
				return err
			}
		}

		writer.Flush()
		file.Close()

		if err := writer.Error(); err != nil {
			return err
		}
	}

	return nil
}

func normalizeHeaderName(header string) string {
	name := strings.ToLower(header)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}
