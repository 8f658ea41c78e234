// Package main is the kdsd daemon entrypoint: a single cobra command
// that loads configuration, bootstraps the KDS core, and serves the
// wire API over HTTP.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "kdsd",
	Short: "Key Distribution Service daemon",
	Long: `kdsd serves the KDS wire API: per-endpoint key storage, ticket
issuance for point-to-point sessions, and group-key distribution for
group membership.`,
	RunE: runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().String("config", "", "path to config file (yaml or json)")
	rootCmd.PersistentFlags().String("master-key-file", "", "path to the master key file (overrides config)")
	rootCmd.PersistentFlags().String("bind-address", "", "address to bind the wire API to (overrides config)")
	rootCmd.PersistentFlags().Int("port", 0, "port to bind the wire API to (overrides config)")
	rootCmd.PersistentFlags().String("keystore-backend", "", `KeyStore backend, "kv" or "sql" (overrides config)`)

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}
	viper.SetEnvPrefix("kds")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}
