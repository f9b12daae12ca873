package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"lesion-forge/internal/dataset"
)

func newInspectCmd() *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print split sizes and per-class sample counts",
		Args:  cobra.NoArgs,
		RunE:  InspectHandler,
	}
	inspectCmd.Flags().Bool("keys", false, "Also list the sample keys of every split")
	return inspectCmd
}

// InspectHandler indexes every configured split and prints one row per
// class with the sample counts of each split.
func InspectHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ds, err := openDataset(cmd.Context(), cfg, newLogger(cfg))
	if err != nil {
		return err
	}

	counts := make([][]int, len(dataset.Kinds))
	for i, kind := range dataset.Kinds {
		counts[i] = ds.ClassCounts(kind)
	}

	var data [][]string
	for class := 0; class < ds.NumClasses; class++ {
		row := []string{strconv.Itoa(class)}
		for i := range dataset.Kinds {
			row = append(row, strconv.Itoa(counts[i][class]))
		}
		data = append(data, row)
	}
	total := []string{"TOTAL"}
	for _, kind := range dataset.Kinds {
		total = append(total, strconv.Itoa(ds.Split(kind).Len()))
	}
	data = append(data, total)

	header := []string{"CLASS"}
	for _, kind := range dataset.Kinds {
		header = append(header, kind.String())
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	if listKeys, _ := cmd.Flags().GetBool("keys"); listKeys {
		for _, kind := range dataset.Kinds {
			for _, key := range ds.Keys(kind) {
				fmt.Fprintf(os.Stdout, "%s\t%s\n", kind, key)
			}
		}
	}
	return nil
}
