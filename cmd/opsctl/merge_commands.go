package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/campaignops/api/internal/merge"
)

func newMergeCommand(ctx *commandContext) *cobra.Command {
	mergeCmd := &cobra.Command{
		Use:   "merge",
		Short: "Resolve merge templates locally",
	}

	mergeCmd.AddCommand(newMergePreviewCommand(ctx))
	mergeCmd.AddCommand(newMergeExportCommand(ctx))

	return mergeCmd
}

type mergeFlags struct {
	templates  string
	context    []string
	campaignID string
}

func (f *mergeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.templates, "templates", "", "JSON file with merge templates")
	cmd.Flags().StringArrayVar(&f.context, "context", nil, "Context value as Field=value (repeatable)")
	cmd.Flags().StringVar(&f.campaignID, "campaign", "", "Take context values from this campaign")
	_ = cmd.MarkFlagRequired("templates")
}

// mergeContext combines campaign fields with explicit --context values; the
// explicit values win
func (f *mergeFlags) mergeContext(cmd *cobra.Command, ctx *commandContext) (map[string]*string, error) {
	mctx := map[string]*string{}
	if f.campaignID != "" {
		campaign, err := ctx.processor().GetCampaign(cmd.Context(), f.campaignID)
		if err != nil {
			return nil, fmt.Errorf("load campaign: %w", err)
		}
		mctx = campaign.MergeContext()
	}
	values, err := parseAssignments(f.context)
	if err != nil {
		return nil, err
	}
	for k, v := range values {
		mctx[k] = &v
	}
	return mctx, nil
}

func newMergePreviewCommand(ctx *commandContext) *cobra.Command {
	var (
		flags  mergeFlags
		record []string
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Resolve templates against one record",
		RunE: func(cmd *cobra.Command, args []string) error {
			tpls, err := readTemplates(flags.templates)
			if err != nil {
				return err
			}
			mctx, err := flags.mergeContext(cmd, ctx)
			if err != nil {
				return err
			}
			values, err := parseAssignments(record)
			if err != nil {
				return err
			}
			rec := make(map[string]*string, len(values))
			for k, v := range values {
				rec[k] = &v
			}

			resolver := merge.NewResolver(merge.SchemaFromRecords([]map[string]*string{rec}, mctx))
			out := cmd.OutOrStdout()
			for _, tpl := range tpls {
				rt := resolver.ResolveTemplate(tpl, rec, mctx)
				fmt.Fprintf(out, "== %s\nSubject: %s\n\n%s\n\n", rt.Name, rt.Subject, rt.Body)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringArrayVarP(&record, "record", "r", nil, "Record value as Field=value (repeatable)")
	return cmd
}

func newMergeExportCommand(ctx *commandContext) *cobra.Command {
	var (
		flags     mergeFlags
		input     string
		output    string
		assumeYes bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Resolve templates over every row of a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			tpls, err := readTemplates(flags.templates)
			if err != nil {
				return err
			}
			mctx, err := flags.mergeContext(cmd, ctx)
			if err != nil {
				return err
			}
			header, records, err := readRecords(input)
			if err != nil {
				return err
			}

			schema := merge.SchemaFromRecords(records, mctx)
			batch := merge.NewBatch(merge.NewResolver(schema), ctx.logger.Named("merge"))
			if ctx.config.Merge.BatchSize > 0 {
				batch.Size = ctx.config.Merge.BatchSize
			}
			if ctx.config.Merge.WarnThreshold > 0 {
				batch.WarnThreshold = ctx.config.Merge.WarnThreshold
			}
			confirm := confirmer(cmd.InOrStdin(), cmd.ErrOrStderr(), assumeYes)
			batch.Confirm = func(n int) bool { return confirm(cmd.Context(), n) }
			batch.OnProgress = func(pct int) {
				fmt.Fprintf(cmd.ErrOrStderr(), "\rresolving %3d%%", pct)
			}

			rows, err := batch.Run(cmd.Context(), records, tpls, mctx)
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			cols, lines := merge.Table(recordColumns(header, schema.RecordFields), tpls, rows)
			return writeOutput(cmd.OutOrStdout(), output, func(w io.Writer) error {
				return merge.WriteCSV(w, cols, lines)
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&input, "input", "i", "", "CSV file with a header row")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask before merging large record sets")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func readRecords(path string) ([]string, []map[string]*string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	header, records, err := merge.ReadCSV(f)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	return header, records, nil
}

// recordColumns keeps the file's column order, dropping blank headers
func recordColumns(header, known []string) []string {
	if len(header) == 0 {
		return known
	}
	cols := make([]string, 0, len(header))
	for _, h := range header {
		if h != "" {
			cols = append(cols, h)
		}
	}
	return cols
}

