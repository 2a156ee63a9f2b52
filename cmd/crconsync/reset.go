package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var resetConfirmed bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the export state; the next run sends everything again",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetConfirmed {
			return errors.New("reset discards all cursors and re-exports every row, pass --yes to confirm")
		}
		rt, err := build(cfg, appLogger, nil)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.svc.Reset(cmd.Context()); err != nil {
			return err
		}
		appLogger.Info("next export will send all data from the beginning")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetConfirmed, "yes", false, "confirm the reset")
}
