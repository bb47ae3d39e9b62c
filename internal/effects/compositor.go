// Package effects derives ordered effect chains from editable settings and
// serializes them into asset locators for the rendering service.
package effects

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/campaignops/api/internal/model"
)

// Settings is the editable settings object. Its zero value is neutral.
type Settings = model.EffectSettings

// Overlay defaults applied when a field is left empty
const (
	DefaultFont          = "Arial"
	DefaultFontSize      = 40
	DefaultTextColor     = "white"
	DefaultTextPosition  = "south"
	DefaultImagePosition = "north_east"
)

// Chain derives the ordered effect chain. Fade-in comes first, fade-out
// last with a negated amount, and every neutral category is omitted.
func Chain(s Settings) model.EffectChain {
	chain := model.EffectChain{}

	if s.FadeIn > 0 {
		chain = append(chain, fade(model.EffectFadeIn, s.FadeIn))
	}
	if s.Blur > 0 {
		chain = append(chain, simple(model.EffectBlur, "blur", s.Blur))
	}
	if s.Brightness != 0 {
		chain = append(chain, simple(model.EffectBrightness, "brightness", s.Brightness))
	}
	if s.Contrast != 0 {
		chain = append(chain, simple(model.EffectContrast, "contrast", s.Contrast))
	}
	if s.Saturation != 0 {
		chain = append(chain, simple(model.EffectSaturation, "saturation", s.Saturation))
	}
	if s.Speed != 0 && s.Speed != 1 {
		pct := int(math.Round((s.Speed - 1) * 100))
		chain = append(chain, model.Effect{
			Name:   model.EffectSpeed,
			Amount: s.Speed,
			Params: []model.Param{{Key: "e", Value: "accelerate:" + strconv.Itoa(pct)}},
		})
	}
	if f := strings.TrimSpace(s.Filter); f != "" && !strings.EqualFold(f, "none") {
		chain = append(chain, model.Effect{
			Name:   model.EffectFilter,
			Params: []model.Param{{Key: "e", Value: "art:" + escape(strings.ToLower(f))}},
		})
	}
	if s.Text.Enabled && s.Text.Text != "" {
		chain = append(chain, textOverlay(s.Text))
	}
	if s.Image.Enabled && s.Image.AssetID != "" {
		chain = append(chain, imageOverlay(s.Image))
	}
	if s.Volume != 0 {
		chain = append(chain, simple(model.EffectVolume, "volume", s.Volume))
	}
	if s.FadeOut > 0 {
		chain = append(chain, fade(model.EffectFadeOut, -s.FadeOut))
	}

	return chain
}

func fade(name model.EffectName, seconds float64) model.Effect {
	ms := int(math.Round(seconds * 1000))
	return model.Effect{
		Name:   name,
		Amount: seconds,
		Params: []model.Param{{Key: "e", Value: "fade:" + strconv.Itoa(ms)}},
	}
}

func simple(name model.EffectName, effect string, amount int) model.Effect {
	return model.Effect{
		Name:   name,
		Amount: float64(amount),
		Params: []model.Param{{Key: "e", Value: effect + ":" + strconv.Itoa(amount)}},
	}
}

// textOverlay flattens font, size and text into one layer token followed by
// color and gravity
func textOverlay(t model.TextOverlay) model.Effect {
	font := orDefault(t.Font, DefaultFont)
	size := t.Size
	if size <= 0 {
		size = DefaultFontSize
	}
	return model.Effect{
		Name:   model.EffectTextOverlay,
		Amount: float64(size),
		Params: []model.Param{
			{Key: "l", Value: "text:" + escape(font) + "_" + strconv.Itoa(size) + ":" + escape(t.Text)},
			{Key: "co", Value: escape(strings.TrimPrefix(orDefault(t.Color, DefaultTextColor), "#"))},
			{Key: "g", Value: escape(orDefault(t.Position, DefaultTextPosition))},
		},
	}
}

func imageOverlay(i model.ImageOverlay) model.Effect {
	params := []model.Param{{Key: "l", Value: escape(strings.ReplaceAll(i.AssetID, "/", ":"))}}
	if i.Width > 0 {
		params = append(params, model.Param{Key: "w", Value: strconv.Itoa(i.Width)})
	}
	if i.Opacity > 0 && i.Opacity < 100 {
		params = append(params, model.Param{Key: "o", Value: strconv.Itoa(i.Opacity)})
	}
	params = append(params, model.Param{Key: "g", Value: escape(orDefault(i.Position, DefaultImagePosition))})

	return model.Effect{
		Name:   model.EffectImageOverlay,
		Amount: float64(i.Opacity),
		Params: params,
	}
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

// escape percent-encodes a free-text value so it cannot split a segment or
// a parameter list
func escape(s string) string {
	return url.PathEscape(s)
}

// Segment serializes one effect as key_value tokens joined by commas
func Segment(e model.Effect) string {
	tokens := make([]string, len(e.Params))
	for i, p := range e.Params {
		tokens[i] = p.Key + "_" + p.Value
	}
	return strings.Join(tokens, ",")
}

// Locator joins the base, one segment per effect and the asset id with
// slashes. An empty chain yields base/assetID.
func Locator(base, assetID string, chain model.EffectChain) string {
	parts := make([]string, 0, len(chain)+2)
	parts = append(parts, strings.TrimRight(base, "/"))
	for _, e := range chain {
		parts = append(parts, Segment(e))
	}
	parts = append(parts, strings.TrimLeft(assetID, "/"))
	return strings.Join(parts, "/")
}

// Compositor builds locators against a fixed rendering base URL
type Compositor struct {
	BaseURL string
}

// NewCompositor creates a compositor for the given base URL
func NewCompositor(baseURL string) *Compositor {
	return &Compositor{BaseURL: baseURL}
}

// Compose returns the locator of assetID with settings applied
func (c *Compositor) Compose(assetID string, s Settings) string {
	return Locator(c.BaseURL, assetID, Chain(s))
}

// ComposeChain returns both the chain and its locator
func (c *Compositor) ComposeChain(assetID string, s Settings) (model.EffectChain, string) {
	chain := Chain(s)
	return chain, Locator(c.BaseURL, assetID, chain)
}
