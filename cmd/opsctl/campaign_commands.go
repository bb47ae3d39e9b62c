package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/campaignops/api/internal/model"
	"github.com/campaignops/api/internal/poller"
)

func newCampaignCommand(ctx *commandContext) *cobra.Command {
	campaignCmd := &cobra.Command{
		Use:   "campaign",
		Short: "Create and inspect campaigns",
	}

	campaignCmd.AddCommand(newCampaignCreateCommand(ctx))
	campaignCmd.AddCommand(newCampaignListCommand(ctx))
	campaignCmd.AddCommand(newCampaignShowCommand(ctx))
	campaignCmd.AddCommand(newCampaignAttachCommand(ctx))

	return campaignCmd
}

func newCampaignCreateCommand(ctx *commandContext) *cobra.Command {
	var req model.CreateCampaignRequest

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			campaign, err := ctx.processor().CreateCampaign(cmd.Context(), &req)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), campaignDetail(campaign))
			return nil
		},
	}

	cmd.Flags().StringVar(&req.ClientID, "client", "", "Client id")
	cmd.Flags().StringVar(&req.Name, "name", "", "Campaign name")
	cmd.Flags().StringVar(&req.Owner, "owner", "", "Owner (defaults to the caller)")
	cmd.Flags().StringVar(&req.StartDate, "start", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&req.EndDate, "end", "", "End date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newCampaignListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List campaigns",
		RunE: func(cmd *cobra.Command, args []string) error {
			campaigns, err := ctx.processor().ListCampaigns(cmd.Context())
			if err != nil {
				return err
			}
			if len(campaigns) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No campaigns")
				return nil
			}
			rows := make([][]string, 0, len(campaigns))
			for _, c := range campaigns {
				rows = append(rows, []string{c.ID, c.Name, c.ClientID, string(c.Status), fmt.Sprint(len(c.JobIDs))})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Name", "Client", "Status", "Jobs"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
}

func newCampaignShowCommand(ctx *commandContext) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "show <campaignId>",
		Short: "Show a campaign and its derived status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proc := ctx.processor()
			out := cmd.OutOrStdout()

			interval := ctx.config.Poll.CampaignInterval
			if interval <= 0 {
				interval = poller.CampaignInterval
			}

			var last model.CampaignStatus
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				campaign, err := proc.GetCampaign(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !follow {
					fmt.Fprint(out, campaignDetail(campaign))
					return nil
				}
				if campaign.Status != last {
					last = campaign.Status
					fmt.Fprintf(out, "%s  %s\n", campaign.ID, campaign.Status)
				}
				if campaign.Status != model.CampaignStatusProcessing {
					return nil
				}

				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().BoolVar(&follow, "follow", false, "Refresh until no job of the campaign is in flight")
	return cmd
}

func newCampaignAttachCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "attach <campaignId> <jobId>",
		Short: "Attach an existing job to a campaign",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			campaign, err := ctx.processor().AttachJob(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), campaignDetail(campaign))
			return nil
		},
	}
}

func campaignDetail(c *model.Campaign) string {
	rows := [][]string{
		{"ID", c.ID},
		{"Name", c.Name},
		{"Client", c.ClientID},
		{"Owner", c.Owner},
		{"Dates", dateRange(c.StartDate, c.EndDate)},
		{"Status", string(c.Status)},
		{"Jobs", fmt.Sprint(len(c.JobIDs))},
	}
	return renderTable([]string{"Field", "Value"}, rows, nil)
}

func dateRange(start, end string) string {
	switch {
	case start == "" && end == "":
		return ""
	case end == "":
		return start + " →"
	default:
		return start + " → " + end
	}
}
