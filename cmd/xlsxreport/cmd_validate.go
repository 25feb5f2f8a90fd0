package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msreport/xlsxreport"
)

var validateCmd = &cobra.Command{
	Use:   "validate TEMPLATE",
	Short: "Validate a report template file",
	Long: `Validate a report template file.

Reports all structural problems of the template document at once: sections
that match no section kind, tag patterns that do not compile, and format
references that are not defined in the template.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	path, err := xlsxreport.TemplatePath(args[0])
	if err != nil {
		return err
	}
	tmpl, err := xlsxreport.LoadTemplate(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: valid template with %d sections\n", path, len(tmpl.Sections))
	return nil
}
