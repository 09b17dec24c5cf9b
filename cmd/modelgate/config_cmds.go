package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"modelgate/internal/infra/config"
)

func newValidateCmd(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the config and report every validation problem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath())
			if err != nil {
				var ve *config.ValidationError
				if errors.As(err, &ve) {
					fmt.Fprintln(cmd.ErrOrStderr(), ve.Error())
					return fmt.Errorf("%d problem(s) in %s", len(ve.Errors), cfgPath())
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config OK: %d backend(s), %d agent route(s), fallback %s\n",
				len(cfg.Backends), len(cfg.Routes.Agents), onOff(cfg.Fallback.Enabled))
			return nil
		},
	}
}

func newEncryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [value]",
		Short: "Encrypt a secret for the config file using MODELGATE_CONFIG_KEY",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase := os.Getenv("MODELGATE_CONFIG_KEY")
			if passphrase == "" {
				return errors.New("MODELGATE_CONFIG_KEY is not set")
			}
			value, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if strings.TrimSpace(value) == "" {
				return errors.New("nothing to encrypt")
			}
			enc, err := config.EncryptValue(value, passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), config.EncPrefix+enc)
			return nil
		},
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
