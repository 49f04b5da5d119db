package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "hookwire",
	Short: "Verified hook programs without a kernel",
	Long: `hookwire statically verifies hook programs, attaches them to
observation points and drains the records they publish, entirely in
process.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			viper.SetConfigFile(path)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("reading config: %w", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file to read")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	viper.SetEnvPrefix("HOOKWIRE")
	viper.AutomaticEnv()

	viper.SetDefault("events.lane_capacity", 64)
	viper.SetDefault("events.poll_timeout", "100ms")
	viper.SetDefault("store.path", "hookwire.db")
	viper.SetDefault("hello.message", "")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(helloCmd, recordCmd)
}

func newLogger() (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	if viper.GetBool("verbose") {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
