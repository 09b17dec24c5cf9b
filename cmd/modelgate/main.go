// Command modelgate routes generation requests for named agents across
// self-hosted inference backends, failing over in preference order and
// finally to an optional cloud fallback.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

const defaultConfigPath = "modelgate.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "modelgate: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "modelgate",
		Short:         "Local model routing and failover dispatcher",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", configPathFromEnv(),
		"path to the YAML config (env MODELGATE_CONFIG)")

	path := func() string { return cfgPath }
	root.AddCommand(
		newServeCmd(path),
		newGenerateCmd(path),
		newStreamCmd(path),
		newHealthCmd(path),
		newDoctorCmd(path),
		newValidateCmd(path),
		newEncryptCmd(),
	)
	return root
}

func configPathFromEnv() string {
	if p := os.Getenv("MODELGATE_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}
