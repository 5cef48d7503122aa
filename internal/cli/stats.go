package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"alarm-monitor/internal/domain"
)

// Stats is the aggregate view over the events table.
type Stats struct {
	Total      int64           `json:"total"`
	BySeverity []severityCount `json:"by_severity"`
	TopCodes   []codeCount     `json:"top_codes"`
	TopNames   []nameCount     `json:"top_names"`
	Earliest   *time.Time      `json:"earliest,omitempty"`
	Latest     *time.Time      `json:"latest,omitempty"`
}

type severityCount struct {
	Severity int   `json:"severity"`
	Count    int64 `json:"count"`
}

type codeCount struct {
	Code  int   `json:"code"`
	Count int64 `json:"count"`
}

type nameCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// NewStatsCommand creates the subcommand that summarizes the events table.
func NewStatsCommand(root *RootOptions) *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the stored alarm events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(root, top)
		},
	}
	cmd.Flags().IntVar(&top, "top", 5, "how many top codes and names to list")
	return cmd
}

func runStats(root *RootOptions, top int) error {
	st, err := openStore(root)
	if err != nil {
		return err
	}
	defer st.Close()

	var stats Stats
	if err := st.Events().Count(&stats.Total).Error; err != nil {
		return fmt.Errorf("count events: %w", err)
	}

	if stats.Total > 0 {
		if err := st.Events().
			Select("severity, COUNT(*) AS count").
			Group("severity").Order("severity").
			Scan(&stats.BySeverity).Error; err != nil {
			return fmt.Errorf("severity breakdown: %w", err)
		}
		if err := st.Events().
			Select("code, COUNT(*) AS count").
			Group("code").Order("count DESC").Limit(top).
			Scan(&stats.TopCodes).Error; err != nil {
			return fmt.Errorf("top codes: %w", err)
		}
		if err := st.Events().
			Select("name, COUNT(*) AS count").
			Group("name").Order("count DESC").Limit(top).
			Scan(&stats.TopNames).Error; err != nil {
			return fmt.Errorf("top names: %w", err)
		}

		var bounds []domain.AlarmEvent
		if err := st.Events().Order("time ASC").Limit(1).Find(&bounds).Error; err != nil {
			return fmt.Errorf("earliest event: %w", err)
		}
		if len(bounds) > 0 {
			t := bounds[0].Time
			stats.Earliest = &t
		}
		bounds = nil
		if err := st.Events().Order("time DESC").Limit(1).Find(&bounds).Error; err != nil {
			return fmt.Errorf("latest event: %w", err)
		}
		if len(bounds) > 0 {
			t := bounds[0].Time
			stats.Latest = &t
		}
	}

	if root.Format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Printf("Total events: %s\n", humanize.Comma(stats.Total))
	if stats.Total == 0 {
		return nil
	}

	fmt.Println("\nBy severity:")
	for _, s := range stats.BySeverity {
		fmt.Printf("  severity %d: %s\n", s.Severity, humanize.Comma(s.Count))
	}

	fmt.Println("\nTop codes:")
	for _, c := range stats.TopCodes {
		fmt.Printf("  %d: %s\n", c.Code, humanize.Comma(c.Count))
	}

	fmt.Println("\nTop names:")
	for _, n := range stats.TopNames {
		fmt.Printf("  %s: %s\n", n.Name, humanize.Comma(n.Count))
	}

	if stats.Earliest != nil && stats.Latest != nil {
		fmt.Printf("\nEarliest: %s\n", stats.Earliest.Format("2006-01-02 15:04:05.000"))
		fmt.Printf("Latest:   %s (%s)\n",
			stats.Latest.Format("2006-01-02 15:04:05.000"),
			humanize.Time(*stats.Latest))
	}
	return nil
}
