package main

import (
	"time"

	"github.com/spf13/cobra"

	"subwaybot/internal/app"
)

func newCheckCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and show how long each token stays valid",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep, err := app.CheckConfig(cfgPath, time.Now())
			if err != nil {
				return err
			}
			rep.Print(cmd.OutOrStdout())
			return rep.Invalid
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to the config file")
	return cmd
}
