package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msreport/xlsxreport"
)

var appdirSetup bool

var appdirCmd = &cobra.Command{
	Use:   "appdir",
	Short: "Locate the xlsxreport app data directory",
	Long: `Locate the xlsxreport app data directory.

With --setup the directory is created and the default template files are
copied into it, overwriting existing copies.`,
	Args: cobra.NoArgs,
	RunE: runAppdir,
}

func init() {
	appdirCmd.Flags().BoolVar(&appdirSetup, "setup", false,
		"create the app data directory and copy the default templates")
}

func runAppdir(cmd *cobra.Command, args []string) error {
	if appdirSetup {
		dir, err := xlsxreport.SetupAppDir()
		if err != nil {
			return err
		}
		logger.Infow("app data directory ready", "path", dir)
		fmt.Fprintln(cmd.OutOrStdout(), dir)
		return nil
	}
	dir, err := xlsxreport.AppDir()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), dir)
	return nil
}
