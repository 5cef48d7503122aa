package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"alarm-monitor/internal/domain"
)

type clearOptions struct {
	*RootOptions
	yes    bool
	ledger bool
}

// NewClearCommand creates the subcommand that empties the events table (or,
// with --ledger, the processing-state table).
func NewClearCommand(root *RootOptions) *cobra.Command {
	opts := &clearOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all rows from the events table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(opts)
		},
	}

	cmd.Flags().BoolVar(&opts.yes, "yes", false, "skip the confirmation prompt")
	cmd.Flags().BoolVar(&opts.ledger, "ledger", false, "clear the processing-state table instead of the events table")

	return cmd
}

func runClear(opts *clearOptions) error {
	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	table := st.EventsTable()
	q := st.Events()
	if opts.ledger {
		table = st.LedgerTable()
		q = st.Ledger()
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fmt.Errorf("count rows in %s: %w", table, err)
	}
	if total == 0 {
		fmt.Printf("Table %s is already empty.\n", table)
		return nil
	}

	if !opts.yes && !confirm(table, total) {
		fmt.Println("Aborted.")
		return nil
	}

	var res int64
	if opts.ledger {
		r := st.Ledger().Where("1 = 1").Delete(&domain.FileProcessingRecord{})
		res, err = r.RowsAffected, r.Error
	} else {
		r := st.Events().Where("1 = 1").Delete(&domain.AlarmEvent{})
		res, err = r.RowsAffected, r.Error
	}
	if err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}

	fmt.Printf("Deleted %d rows from %s.\n", res, table)
	return nil
}

func confirm(table string, total int64) bool {
	fmt.Printf("Delete %d rows from %s? Type 'yes' to confirm: ", total, table)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	return strings.TrimSpace(scanner.Text()) == "yes"
}
