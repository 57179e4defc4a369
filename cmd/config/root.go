package config

import (
	"fmt"
	"io"
	"os"

	"github.com/ValentinKolb/pKV/cmd/util"
	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/spf13/cobra"
)

var (
	// ConfigCommands represents the config command group
	ConfigCommands = &cobra.Command{
		Use:   "config",
		Short: "Manage pKV server config files",
	}

	initCmd = &cobra.Command{
		Use:   "init [file]",
		Short: "Write a config file with all default values",
		Long:  "Write a TOML config file with all default server values. Without a file the config is printed to stdout.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			serializer, _ := cmd.Flags().GetString("serializer")

			var w io.Writer = os.Stdout
			if len(args) == 1 {
				flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
				if force {
					flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
				}
				file, err := os.OpenFile(args[0], flags, 0o644)
				if err != nil {
					return fmt.Errorf("failed to create config file: %w", err)
				}
				defer file.Close()
				w = file
			}

			if err := WriteTemplate(w, common.DefaultServerConfig(), serializer); err != nil {
				return err
			}
			if len(args) == 1 {
				fmt.Fprintf(os.Stderr, "config written to %s\n", args[0])
			}
			return nil
		},
	}
)

func init() {
	initCmd.Flags().Bool("force", false, util.WrapString("Overwrite an existing file"))
	ConfigCommands.AddCommand(initCmd)
}
