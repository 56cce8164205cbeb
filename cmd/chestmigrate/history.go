package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/gmcnew/migrate-chests/internal/persistence/indexdb"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded copy and merge runs as JSON lines, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.LedgerPath == "" {
				return errors.New("history needs a ledger: set --ledger or ledger_path")
			}
			ledger, err := indexdb.OpenSQLite(a.cfg.LedgerPath)
			if err != nil {
				return err
			}
			defer ledger.Close()

			runs, err := ledger.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(a.stdout)
			for _, r := range runs {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to list")
	return cmd
}
