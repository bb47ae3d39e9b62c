package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/campaignops/api/internal/gateway"
	"github.com/campaignops/api/internal/model"
	"github.com/campaignops/api/internal/orchestrator"
	"github.com/campaignops/api/internal/poller"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		fields     []string
		templates  string
		campaignID string
		wait       bool
		assumeYes  bool
	)

	cmd := &cobra.Command{
		Use:   "submit <kind> [files...]",
		Short: "Submit a job and follow it until it finishes",
		Long: "Submit a job of one of the kinds " + kindList() + ".\n" +
			"Enrichment jobs accept --templates to resolve merge templates over the enriched records.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := model.JobKind(args[0])
			if !kind.Valid() {
				return fmt.Errorf("unknown job kind %q (want one of %s)", args[0], kindList())
			}

			sub := gateway.Submission{Kind: kind, Fields: map[string]string{}}
			for _, path := range args[1:] {
				f, err := gateway.FileFromPath(path)
				if err != nil {
					return err
				}
				sub.Files = append(sub.Files, f)
			}
			parsed, err := parseAssignments(fields)
			if err != nil {
				return err
			}
			for k, v := range parsed {
				sub.Fields[k] = v
			}
			if campaignID != "" {
				sub.Fields[model.FormFieldCampaignID] = campaignID
			}

			req := orchestrator.Request{Submission: sub, CampaignID: campaignID}
			if templates != "" {
				if req.Templates, err = readTemplates(templates); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			tr := newTracker(out)
			orch := ctx.orchestrator(confirmer(cmd.InOrStdin(), out, assumeYes), tr.onChange)
			defer orch.Close()

			if campaignID != "" {
				campaign, err := ctx.processor().GetCampaign(cmd.Context(), campaignID)
				if err != nil {
					return fmt.Errorf("load campaign: %w", err)
				}
				req.Context = campaign.MergeContext()
			}

			job, err := orch.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "submitted %s job %s\n", job.Kind, job.ID)
			if !wait {
				return nil
			}

			final, err := tr.wait(cmd.Context(), job.ID)
			if err != nil {
				return err
			}
			if final.State == model.JobStateFailed {
				return fmt.Errorf("job %s failed: %s", final.ID, final.Error)
			}
			if len(final.Generated) > 0 {
				fmt.Fprintf(out, "resolved templates for %d records\n", len(final.Generated))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&fields, "field", "f", nil, "Metadata field as key=value (repeatable)")
	cmd.Flags().StringVar(&templates, "templates", "", "JSON file with merge templates")
	cmd.Flags().StringVar(&campaignID, "campaign", "", "Campaign to attach the job to")
	cmd.Flags().BoolVar(&wait, "wait", true, "Follow the job until it is ready or failed")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask before merging large record sets")
	return cmd
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var (
		follow   bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs known to the processor",
		Long: "List jobs known to the processor.\n" +
			"With --follow the list is re-fetched every interval and running jobs are tracked until they finish.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if follow {
				if interval <= 0 {
					interval = ctx.config.Poll.ListInterval
				}
				return followJobs(cmd.Context(), ctx, cmd.OutOrStdout(), interval)
			}

			reports, err := ctx.processor().ListJobs(cmd.Context())
			if err != nil {
				return err
			}
			if len(reports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}
			headers, rows, aligns := jobRows(reports)
			fmt.Fprint(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
			return nil
		},
	}

	cmd.Flags().BoolVar(&follow, "follow", false, "Keep the list up to date until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Refresh interval for --follow (defaults to the list interval)")
	return cmd
}

// followJobs reconciles the processor's list into an orchestrator until ctx
// is done, printing every change
func followJobs(ctx context.Context, cc *commandContext, out io.Writer, interval time.Duration) error {
	if interval <= 0 {
		interval = poller.ListInterval
	}
	tr := newTracker(out)
	orch := cc.orchestrator(nil, tr.onChange)
	defer orch.Close()

	// returns once ctx is done, which is how following ends
	orch.RefreshLoop(ctx, interval)
	return nil
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch <jobId>",
		Short: "Follow an existing job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config
			if interval <= 0 {
				interval = cfg.Poll.SubmissionInterval
			}

			obs := ctx.observer(ctx.processor())
			defer obs.Stop()

			out := cmd.OutOrStdout()
			done := make(chan poller.Observation, 1)
			if !obs.Watch(cmd.Context(), args[0], interval, func(o poller.Observation) {
				if o.Err != nil {
					done <- o
					return
				}
				fmt.Fprintln(out, statusLine(o.Report))
				if o.Report.State.Terminal() {
					done <- o
				}
			}) {
				return errors.New("already watching " + args[0])
			}

			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case o := <-done:
				if o.Err != nil {
					return o.Err
				}
				if o.Report.State == model.JobStateFailed {
					return fmt.Errorf("job %s failed: %s", o.JobID, o.Report.Error)
				}
				return nil
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "Polling interval (defaults to the submission interval)")
	return cmd
}

func newDismissCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <jobId>",
		Short: "Remove a job from the processor's list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch := ctx.orchestrator(nil, nil)
			defer orch.Close()
			if err := orch.Dismiss(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dismissed %s\n", args[0])
			return nil
		},
	}
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <jobId>",
		Short: "Download the result of a ready job as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := ctx.processor().Export(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer body.Close()

			return writeOutput(cmd.OutOrStdout(), output, func(w io.Writer) error {
				_, err := io.Copy(w, body)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	return cmd
}

func jobRows(reports []model.StatusReport) ([]string, [][]string, []columnAlignment) {
	headers := []string{"ID", "Kind", "State", "Progress", "Error"}
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		rows = append(rows, []string{
			r.JobID,
			string(r.Kind),
			string(r.State),
			strconv.Itoa(r.Progress) + "%",
			r.Error,
		})
	}
	return headers, rows, []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft}
}

func statusLine(r *model.StatusReport) string {
	line := fmt.Sprintf("%s  %-11s %3d%%", r.JobID, r.State, r.Progress)
	if r.Error != "" {
		line += "  " + r.Error
	}
	return line
}

func kindList() string {
	names := make([]string, len(model.ValidJobKinds))
	for i, k := range model.ValidJobKinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

// parseAssignments turns key=value flags into a map
func parseAssignments(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid assignment %q (want key=value)", p)
		}
		out[k] = v
	}
	return out, nil
}

func readTemplates(path string) ([]model.MergeTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	var tpls []model.MergeTemplate
	if err := json.Unmarshal(data, &tpls); err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}
	if len(tpls) == 0 {
		return nil, fmt.Errorf("no templates in %s", path)
	}
	return tpls, nil
}

// confirmer asks on in before merging a large record set. A prompt still
// waiting when ctx ends is answered no.
func confirmer(in io.Reader, out io.Writer, assumeYes bool) func(context.Context, int) bool {
	var (
		mu    sync.Mutex
		once  sync.Once
		lines = make(chan string)
	)
	// one reader for the whole session, so an abandoned prompt does not
	// leave a second read racing the next one
	start := func() {
		go func() {
			defer close(lines)
			reader := bufio.NewReader(in)
			for {
				line, err := reader.ReadString('\n')
				if line != "" {
					lines <- line
				}
				if err != nil {
					return
				}
			}
		}()
	}

	return func(ctx context.Context, records int) bool {
		if assumeYes {
			return true
		}
		mu.Lock()
		defer mu.Unlock()
		once.Do(start)

		fmt.Fprintf(out, "Resolve templates for %d records? [y/N] ", records)
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return false
		case answer := <-lines:
			answer = strings.ToLower(strings.TrimSpace(answer))
			return answer == "y" || answer == "yes"
		}
	}
}

func writeOutput(stdout io.Writer, path string, write func(io.Writer) error) error {
	if path == "" || path == "-" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
