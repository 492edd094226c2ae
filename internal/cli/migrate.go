package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/clinova/dental-agents/migrations"
)

// NewMigrateCmd создаёт команду применения миграций схемы очереди.
func NewMigrateCmd(storeFn func(cmd *cobra.Command) (*Store, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFn(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			out := outputFn()

			if err := migrations.Apply(cmd.Context(), store.Pool, slog.Default()); err != nil {
				return err
			}
			out.Success("Migrations applied")
			return nil
		},
	}
}
