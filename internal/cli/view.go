package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"alarm-monitor/internal/domain"
)

const timeFlagLayout = "2006-01-02 15:04:05"

type viewOptions struct {
	*RootOptions
	limit    int
	code     int
	codeSet  bool // code 0 is a valid filter value, so presence is tracked
	severity int
	from     string
	to       string
}

// NewViewCommand creates the subcommand that lists stored events.
func NewViewCommand(root *RootOptions) *cobra.Command {
	opts := &viewOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "view",
		Short: "Show stored alarm events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.codeSet = cmd.Flags().Changed("code")
			return runView(opts)
		},
	}

	cmd.Flags().IntVar(&opts.limit, "limit", 20, "maximum number of events to show")
	cmd.Flags().IntVar(&opts.code, "code", 0, "only events with this code")
	cmd.Flags().IntVar(&opts.severity, "severity", -1, "only events with this severity")
	cmd.Flags().StringVar(&opts.from, "from", "", "only events at or after this time (YYYY-MM-DD HH:MM:SS)")
	cmd.Flags().StringVar(&opts.to, "to", "", "only events at or before this time (YYYY-MM-DD HH:MM:SS)")

	return cmd
}

func runView(opts *viewOptions) error {
	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	q := st.Events().Order("time DESC").Limit(opts.limit)
	if q, err = applyFilters(q, opts); err != nil {
		return err
	}

	var events []domain.AlarmEvent
	if err := q.Find(&events).Error; err != nil {
		return fmt.Errorf("query events: %w", err)
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}

	if len(events) == 0 {
		fmt.Println("No events match.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tINSTANCE\tNAME\tCODE\tSEVERITY\tCHANGE\tMESSAGE")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\t%s\t%s\n",
			e.Time.Format("2006-01-02 15:04:05.000"),
			e.Instance, e.Name, e.Code, e.Severity, e.Change, e.Message)
	}
	return w.Flush()
}

func applyFilters(q *gorm.DB, opts *viewOptions) (*gorm.DB, error) {
	if opts.codeSet {
		q = q.Where("code = ?", opts.code)
	}
	if opts.severity >= 0 {
		q = q.Where("severity = ?", opts.severity)
	}
	if opts.from != "" {
		t, err := time.ParseInLocation(timeFlagLayout, opts.from, time.Local)
		if err != nil {
			return nil, fmt.Errorf("invalid --from value: %w", err)
		}
		q = q.Where("time >= ?", t)
	}
	if opts.to != "" {
		t, err := time.ParseInLocation(timeFlagLayout, opts.to, time.Local)
		if err != nil {
			return nil, fmt.Errorf("invalid --to value: %w", err)
		}
		q = q.Where("time <= ?", t)
	}
	return q, nil
}
