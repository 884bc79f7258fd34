package main

import (
	"github.com/hyperengineering/tether"
	"github.com/spf13/cobra"
)

var (
	cfgProfile   string
	cfgDBPath    string
	cfgRemoteURL string
	cfgToken     string
	cfgUserID    string
	cfgDebug     bool
)

var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "Tether - local-first journal replication CLI",
	Long: `Tether keeps a personal journal and its derived skills, solutions and
insights in a local store, optionally mirrored to a remote replica service
for cross-device access.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgProfile, "profile", "", "Local data profile (default: \"default\")")
	rootCmd.PersistentFlags().StringVar(&cfgDBPath, "db-path", "", "Path to the local database")
	rootCmd.PersistentFlags().StringVar(&cfgRemoteURL, "remote-url", "", "URL of the remote replica service")
	rootCmd.PersistentFlags().StringVar(&cfgToken, "token", "", "Session token for the remote replica service")
	rootCmd.PersistentFlags().StringVar(&cfgUserID, "user-id", "", "Authenticated user id")
	rootCmd.PersistentFlags().BoolVar(&cfgDebug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() tether.Config {
	cfg := tether.ConfigFromEnv()

	if cfgProfile != "" {
		cfg.Profile = cfgProfile
	}
	if cfgDBPath != "" {
		cfg.LocalPath = cfgDBPath
	}
	if cfgRemoteURL != "" {
		cfg.RemoteURL = cfgRemoteURL
	}
	if cfgToken != "" {
		cfg.Token = cfgToken
	}
	if cfgUserID != "" {
		cfg.UserID = cfgUserID
	}
	if cfgDebug {
		cfg.Debug = true
	}
	cfg.AppVersion = version

	return cfg
}

func newClient() (*tether.Client, error) {
	return tether.New(loadConfig())
}
