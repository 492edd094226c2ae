package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinova/dental-agents/internal/domain"
	"github.com/clinova/dental-agents/internal/repo"
)

// NewEventCmd создаёт группу команд для работы с очередью событий.
// storeFn — замыкание для ленивого подключения к БД после парсинга
// PersistentFlags.
func NewEventCmd(storeFn func(cmd *cobra.Command) (*Store, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Manage queue events",
	}

	cmd.AddCommand(
		newEventEnqueueCmd(storeFn, outputFn),
		newEventListCmd(storeFn, outputFn),
		newEventShowCmd(storeFn, outputFn),
		newEventRequeueCmd(storeFn, outputFn),
	)

	return cmd
}

func newEventEnqueueCmd(storeFn func(cmd *cobra.Command) (*Store, error), outputFn func() *Output) *cobra.Command {
	var (
		eventType     string
		payloadJSON   string
		priority      int
		runAt         string
		maxAttempts   int
		correlationID string
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a new event",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFn(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			out := outputFn()

			var payload map[string]any
			if payloadJSON != "" {
				if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
					return fmt.Errorf("invalid --payload: %w", err)
				}
			}

			params := repo.EnqueueParams{
				Type:          eventType,
				Payload:       payload,
				Priority:      priority,
				MaxAttempts:   maxAttempts,
				CorrelationID: correlationID,
			}
			if runAt != "" {
				t, err := time.Parse(time.RFC3339, runAt)
				if err != nil {
					return fmt.Errorf("invalid --run-at (want RFC3339): %w", err)
				}
				params.RunAt = &t
			}

			id, err := store.Events.Enqueue(cmd.Context(), store.Pool, params)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Event enqueued: %d", id))
			out.Print(
				[]string{"ID", "TYPE"},
				[][]string{{strconv.FormatInt(id, 10), eventType}},
				map[string]any{"id": id, "event_type": eventType},
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "", "Event type (required)")
	cmd.Flags().StringVar(&payloadJSON, "payload", "", "Payload as a JSON object")
	cmd.Flags().IntVar(&priority, "priority", 0, "Priority, lower runs first (default 50)")
	cmd.Flags().StringVar(&runAt, "run-at", "", "Do not process before this time (RFC3339)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Attempt limit (default 8)")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Correlation key")
	cmd.MarkFlagRequired("type")

	return cmd
}

func newEventListCmd(storeFn func(cmd *cobra.Command) (*Store, error), outputFn func() *Output) *cobra.Command {
	var (
		status    string
		eventType string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue events",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFn(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			out := outputFn()

			events, err := store.Events.List(cmd.Context(), repo.EventFilter{
				Status: domain.EventStatus(status),
				Type:   eventType,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "TYPE", "STATUS", "PRIO", "ATTEMPTS", "AVAILABLE_AT", "LAST_ERROR"}
			rows := make([][]string, len(events))
			for i, e := range events {
				rows[i] = []string{
					strconv.FormatInt(e.ID, 10),
					e.Type,
					string(e.Status),
					strconv.Itoa(e.Priority),
					fmt.Sprintf("%d/%d", e.Attempts, e.MaxAttempts),
					e.AvailableAt.Format(time.RFC3339),
					clipError(e.LastError),
				}
			}

			out.Print(headers, rows, events)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (NEW, PENDING, PROCESSING, DONE, FAILED)")
	cmd.Flags().StringVar(&eventType, "type", "", "Filter by event type")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of rows")

	return cmd
}

func newEventShowCmd(storeFn func(cmd *cobra.Command) (*Store, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show event details and its run log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid event id %q", args[0])
			}

			store, err := storeFn(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			out := outputFn()

			ev, err := store.Events.GetByID(cmd.Context(), id)
			if err != nil {
				return err
			}
			runs, err := store.Runs.ListByEvent(cmd.Context(), id, 100)
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "TYPE", "STATUS", "PRIO", "ATTEMPTS", "AVAILABLE_AT", "LOCKED_BY", "LAST_ERROR"},
				[][]string{{
					strconv.FormatInt(ev.ID, 10),
					ev.Type,
					string(ev.Status),
					strconv.Itoa(ev.Priority),
					fmt.Sprintf("%d/%d", ev.Attempts, ev.MaxAttempts),
					ev.AvailableAt.Format(time.RFC3339),
					ev.LockedBy,
					clipError(ev.LastError),
				}},
				map[string]any{"event": ev, "runs": runs},
			)

			if len(runs) > 0 {
				runRows := make([][]string, len(runs))
				for i, r := range runs {
					runRows[i] = []string{
						strconv.FormatInt(r.ID, 10),
						r.Actor,
						string(r.Status),
						r.CreatedAt.Format(time.RFC3339),
						clipError(r.ErrorText),
					}
				}
				out.Table([]string{"RUN", "ACTOR", "STATUS", "AT", "ERROR"}, runRows)
			}
			return nil
		},
	}
}

func newEventRequeueCmd(storeFn func(cmd *cobra.Command) (*Store, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue ID",
		Short: "Return a FAILED event to the queue with attempts reset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid event id %q", args[0])
			}

			store, err := storeFn(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			out := outputFn()

			if err := store.Events.Requeue(cmd.Context(), id); err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Event %d requeued", id))
			return nil
		},
	}
}

// clipError укорачивает текст ошибки для табличного вывода.
func clipError(s string) string {
	const max = 60
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
