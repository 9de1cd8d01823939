package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"order-concierge/internal/config"
)

func newRootCmd() *cobra.Command {
	var configFile string
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "concierge",
		Short:         "Chat order bot and real-time stock reservations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load(viper.New(), configFile)
			if err != nil {
				return err
			}
			return a.init(cfg)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a YAML config file")

	rootCmd.AddCommand(
		newServeCmd(a),
		newLambdaCmd(a),
		newSeedCmd(a),
	)
	return rootCmd
}
