// Command xlsxreport creates formatted Excel reports from delimited text
// files and YAML report templates.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var logger *zap.SugaredLogger

var rootCmd = &cobra.Command{
	Use:           "xlsxreport",
	Short:         "Generate formatted Excel reports from tabular data",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	zl, err := zap.NewDevelopment()
	if err != nil {
		os.Exit(1)
	}
	defer zl.Sync()
	logger = zl.Sugar()

	rootCmd.AddCommand(compileCmd, validateCmd, appdirCmd)
	if err := rootCmd.Execute(); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}
