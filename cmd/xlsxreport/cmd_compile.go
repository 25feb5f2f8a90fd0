package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/msreport/xlsxreport"
)

var compileFlags struct {
	outfile string
	outpath string
	sep     string
}

var compileCmd = &cobra.Command{
	Use:   "compile INFILE TEMPLATE",
	Short: "Create a formatted Excel report from a csv INFILE and a TEMPLATE file",
	Long: `Create a formatted Excel report from a csv INFILE and a TEMPLATE file.

The TEMPLATE argument is first used to look for a file with the specified
path. If no file is found, the xlsxreport app data directory is searched for
a template with the corresponding name.`,
	Args: cobra.ExactArgs(2),
	RunE: runCompile,
}

func init() {
	compileCmd.Flags().StringVarP(&compileFlags.outfile, "outfile", "o", "",
		"name of the report file, defaults to the INFILE name with the extension replaced by '.report.xlsx'")
	compileCmd.Flags().StringVar(&compileFlags.outpath, "outpath", "",
		"output path of the report file, overrides --outfile")
	compileCmd.Flags().StringVarP(&compileFlags.sep, "sep", "s", "\t",
		"delimiter of the input file")
}

func runCompile(cmd *cobra.Command, args []string) error {
	infile := args[0]
	sep, err := parseSep(compileFlags.sep)
	if err != nil {
		return err
	}
	templatePath, err := xlsxreport.TemplatePath(args[1])
	if err != nil {
		return err
	}
	reportPath := reportOutputPath(infile, compileFlags.outfile, compileFlags.outpath)

	logger.Infow("generating formatted Excel report",
		"input", infile, "template", templatePath, "report", reportPath)

	tmpl, err := xlsxreport.LoadTemplate(templatePath)
	if err != nil {
		return err
	}
	table, err := xlsxreport.OpenCSV(infile, sep)
	if err != nil {
		return err
	}
	if err := xlsxreport.WriteReport(reportPath, tmpl, table); err != nil {
		return err
	}
	logger.Infow("report written", "path", reportPath)
	return nil
}

func parseSep(s string) (rune, error) {
	switch s {
	case "\\t", "tab":
		return '\t', nil
	}
	runes := []rune(s)
	if len(runes) != 1 {
		return 0, fmt.Errorf("invalid separator %q, must be a single character", s)
	}
	return runes[0], nil
}

func reportOutputPath(infile, outfile, outpath string) string {
	if outpath != "" {
		return outpath
	}
	if outfile != "" {
		return filepath.Join(filepath.Dir(infile), outfile)
	}
	base := filepath.Base(infile)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(infile), base+".report.xlsx")
}
