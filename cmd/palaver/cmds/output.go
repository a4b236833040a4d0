package cmds

import (
	"encoding/json"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", outputTable, "Output format (table, json, yaml)")
}

// rows is a result that prints as a table or encodes as json/yaml.
type rows struct {
	headers []string
	cells   [][]string
	value   any
}

func writeRows(cmd *cobra.Command, w io.Writer, r rows) error {
	format, _ := cmd.Flags().GetString("output")
	switch format {
	case "", outputTable:
		table := tablewriter.NewWriter(w)
		table.SetHeader(r.headers)
		table.SetAutoWrapText(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.AppendBulk(r.cells)
		table.Render()
		return nil
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(r.value), "encode json")
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r.value); err != nil {
			return errors.Wrap(err, "encode yaml")
		}
		return errors.Wrap(enc.Close(), "encode yaml")
	default:
		return errors.Errorf("unknown output format %q", format)
	}
}
