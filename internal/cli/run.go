package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для журнала обработки.
func NewRunCmd(storeFn func(cmd *cobra.Command) (*Store, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Inspect the processing log",
	}

	cmd.AddCommand(newRunListCmd(storeFn, outputFn))

	return cmd
}

func newRunListCmd(storeFn func(cmd *cobra.Command) (*Store, error), outputFn func() *Output) *cobra.Command {
	var (
		eventID int64
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List run log entries for an event",
		RunE: func(cmd *cobra.Command, args []string) error {
			if eventID == 0 {
				return fmt.Errorf("--event is required")
			}

			store, err := storeFn(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			out := outputFn()

			runs, err := store.Runs.ListByEvent(cmd.Context(), eventID, limit)
			if err != nil {
				return err
			}

			headers := []string{"ID", "ACTOR", "STATUS", "AT", "ERROR"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{
					strconv.FormatInt(r.ID, 10),
					r.Actor,
					string(r.Status),
					r.CreatedAt.Format(time.RFC3339),
					clipError(r.ErrorText),
				}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().Int64Var(&eventID, "event", 0, "Event ID (required)")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of rows")

	return cmd
}
