package cmd

import (
	"os"

	"github.com/bnema/portal-input/internal/config"
	"github.com/bnema/portal-input/internal/logger"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage portal-input configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()

		logger.Info("Current Configuration:")
		logger.Infof("Config file: %s\n", config.GetConfigPath())

		logger.Info("[Session]")
		logger.Infof("  Client Name: %s", cfg.Session.ClientName)
		logger.Infof("  Handshake Timeout: %s", cfg.Session.HandshakeTimeout)
		logger.Infof("  Discovery Timeout: %s", cfg.Session.DiscoveryTimeout)
		logger.Infof("  Poll Interval: %s", cfg.Session.PollInterval)
		logger.Infof("  Flush Retries: %d", cfg.Session.FlushRetries)
		logger.Infof("  Max Protocol Errors: %d", cfg.Session.MaxProtocolErrors)

		logger.Info("\n[Input]")
		logger.Infof("  Backend: %s", cfg.Input.Backend)
		logger.Infof("  Click Delay: %s", cfg.Input.ClickDelay)
		logger.Infof("  Primary Button: %d", cfg.Input.PrimaryButton)
		logger.Infof("  Secondary Button: %d", cfg.Input.SecondaryButton)
		logger.Infof("  Shake: %d x %.0f px every %s", cfg.Input.ShakeCount, cfg.Input.ShakeDistance, cfg.Input.ShakeInterval)

		logger.Info("\n[Logging]")
		logger.Infof("  File Logging: %v", cfg.Logging.FileLogging)
		logger.Infof("  Log Level: %s", cfg.Logging.LogLevel)
		return nil
	},
}

var configSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save current configuration to file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Save(); err != nil {
			return err
		}
		logger.Infof("Configuration saved to: %s", config.GetConfigPath())
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file with defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.GetConfigPath()
		if _, err := os.Stat(configPath); err == nil {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				logger.Infof("Configuration file already exists at: %s", configPath)
				logger.Info("Use --force to overwrite")
				return nil
			}
		}

		if err := config.Save(); err != nil {
			return err
		}

		logger.Infof("Configuration initialized at: %s", configPath)
		logger.Info("\nYou can now:")
		logger.Info("  - Edit the configuration file directly")
		logger.Info("  - Use 'portal-input config show' to view current settings")
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite existing configuration")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSaveCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
