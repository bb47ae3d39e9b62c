package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/campaignops/api/internal/effects"
	"github.com/campaignops/api/internal/model"
)

func newEffectsCommand(ctx *commandContext) *cobra.Command {
	effectsCmd := &cobra.Command{
		Use:   "effects",
		Short: "Work with effect chains",
	}
	effectsCmd.AddCommand(newEffectsComposeCommand(ctx))
	return effectsCmd
}

func newEffectsComposeCommand(ctx *commandContext) *cobra.Command {
	var (
		s      model.EffectSettings
		remote bool
		chain  bool
	)

	cmd := &cobra.Command{
		Use:   "compose <assetId>",
		Short: "Print the delivery locator of an asset with effects applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp model.ComposeResponse
			if remote {
				r, err := ctx.processor().Compose(cmd.Context(), &model.ComposeRequest{AssetID: args[0], Settings: s})
				if err != nil {
					return err
				}
				resp = *r
			} else {
				resp.Chain, resp.Locator = effects.NewCompositor(ctx.config.Effects.BaseURL).ComposeChain(args[0], s)
			}

			out := cmd.OutOrStdout()
			if chain && len(resp.Chain) > 0 {
				rows := make([][]string, 0, len(resp.Chain))
				for _, e := range resp.Chain {
					rows = append(rows, []string{string(e.Name), fmt.Sprint(e.Amount), effects.Segment(e)})
				}
				fmt.Fprint(out, renderTable([]string{"Effect", "Amount", "Segment"}, rows, []columnAlignment{alignLeft, alignRight, alignLeft}))
			}
			fmt.Fprintln(out, resp.Locator)
			return nil
		},
	}

	f := cmd.Flags()
	f.Float64Var(&s.FadeIn, "fade-in", 0, "Fade-in seconds")
	f.Float64Var(&s.FadeOut, "fade-out", 0, "Fade-out seconds")
	f.IntVar(&s.Blur, "blur", 0, "Blur strength")
	f.IntVar(&s.Brightness, "brightness", 0, "Brightness adjustment")
	f.IntVar(&s.Contrast, "contrast", 0, "Contrast adjustment")
	f.IntVar(&s.Saturation, "saturation", 0, "Saturation adjustment")
	f.Float64Var(&s.Speed, "speed", 0, "Playback speed multiplier")
	f.StringVar(&s.Filter, "filter", "", "Named artistic filter")
	f.IntVar(&s.Volume, "volume", 0, "Volume adjustment")
	f.StringVar(&s.Text.Text, "text", "", "Text overlay")
	f.StringVar(&s.Text.Font, "font", "", "Text overlay font")
	f.IntVar(&s.Text.Size, "font-size", 0, "Text overlay size")
	f.StringVar(&s.Text.Color, "text-color", "", "Text overlay color")
	f.StringVar(&s.Text.Position, "text-position", "", "Text overlay gravity")
	f.StringVar(&s.Image.AssetID, "overlay", "", "Image overlay asset id")
	f.IntVar(&s.Image.Width, "overlay-width", 0, "Image overlay width")
	f.IntVar(&s.Image.Opacity, "overlay-opacity", 0, "Image overlay opacity")
	f.StringVar(&s.Image.Position, "overlay-position", "", "Image overlay gravity")
	f.BoolVar(&remote, "remote", false, "Ask the processor instead of composing locally")
	f.BoolVar(&chain, "chain", false, "Also print the effect chain")

	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		s.Text.Enabled = s.Text.Text != ""
		s.Image.Enabled = s.Image.AssetID != ""
	}
	return cmd
}
