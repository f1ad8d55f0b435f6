package cmd

import (
	"os"

	"github.com/bnema/portal-input/internal/config"
	"github.com/bnema/portal-input/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configPath string
	logFile    *os.File

	rootCmd = &cobra.Command{
		Use:   "portal-input",
		Short: "Send input via XDG RemoteDesktop portal",
		Long: `portal-input sends mouse and keyboard input to Wayland sessions through the
xdg-desktop-portal RemoteDesktop interface, with user consent via the portal dialog.
Input goes either through the portal Notify calls or over an EIS connection
obtained from the portal.`,
		SilenceUsage:       true,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $XDG_CONFIG_HOME/portal-input/portal-input.toml)")
	rootCmd.PersistentFlags().StringP("backend", "b", "", "Injection backend: eis or portal")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")

	bindFlags()
}

// bindFlags binds flags to viper keys.
func bindFlags() {
	viper.BindPFlag("input.backend", rootCmd.PersistentFlags().Lookup("backend"))
	viper.BindPFlag("logging.log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func setup(cmd *cobra.Command, args []string) error {
	config.SetConfigPath(configPath)
	if err := config.Init(); err != nil {
		return err
	}
	cfg := config.Get()
	logger.SetLevel(cfg.Logging.LogLevel)

	if cfg.Logging.FileLogging && logFile == nil {
		f, err := logger.SetupFileLogging(cmd.Name())
		if err != nil {
			return err
		}
		logFile = f
	}
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	logger.Logger.SetOutput(os.Stderr)
	return err
}
