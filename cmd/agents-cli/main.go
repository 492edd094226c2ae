// agents-cli — операторский инструмент очереди доменных событий.
//
// Использование:
//
//	agents-cli [--db-url DSN] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	event    Постановка и инспекция событий (enqueue, list, show, requeue)
//	run      Журнал обработки
//	migrate  Применение миграций схемы очереди
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clinova/dental-agents/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var dbURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "agents-cli",
		Short:         "Operator CLI for the clinic event queue",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", os.Getenv("DB_URL"), "Postgres connection string (defaults to DB_URL)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	storeFn := func(cmd *cobra.Command) (*cli.Store, error) {
		return cli.NewStore(cmd.Context(), dbURL)
	}
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewEventCmd(storeFn, outputFn),
		cli.NewRunCmd(storeFn, outputFn),
		cli.NewMigrateCmd(storeFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
