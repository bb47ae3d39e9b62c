package model

// EffectName is one entry of the fixed effect vocabulary
type EffectName string

const (
	EffectFadeIn       EffectName = "fade-in"
	EffectFadeOut      EffectName = "fade-out"
	EffectBlur         EffectName = "blur"
	EffectBrightness   EffectName = "brightness"
	EffectContrast     EffectName = "contrast"
	EffectSaturation   EffectName = "saturation"
	EffectSpeed        EffectName = "speed"
	EffectTextOverlay  EffectName = "text-overlay"
	EffectImageOverlay EffectName = "image-overlay"
	EffectVolume       EffectName = "volume"
	EffectFilter       EffectName = "filter"
)

// Param is one flattened effect parameter, serialized as key_value
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Effect is a named, parameterized transformation
type Effect struct {
	Name   EffectName `json:"name"`
	Amount float64    `json:"amount"`
	Params []Param    `json:"params"`
}

// EffectChain is the ordered list of effects applied to one asset
type EffectChain []Effect

// Names returns the effect names in chain order
func (c EffectChain) Names() []EffectName {
	names := make([]EffectName, len(c))
	for i, e := range c {
		names[i] = e.Name
	}
	return names
}

// EffectSettings is the editable settings object the chain is derived from
type EffectSettings struct {
	FadeIn     float64      `json:"fadeIn" validate:"min=0,max=30"`
	FadeOut    float64      `json:"fadeOut" validate:"min=0,max=30"`
	Blur       int          `json:"blur" validate:"min=0,max=2000"`
	Brightness int          `json:"brightness" validate:"min=-99,max=100"`
	Contrast   int          `json:"contrast" validate:"min=-100,max=100"`
	Saturation int          `json:"saturation" validate:"min=-100,max=100"`
	Speed      float64      `json:"speed" validate:"min=0,max=4"`
	Filter     string       `json:"filter" validate:"omitempty,max=40"`
	Text       TextOverlay  `json:"text"`
	Image      ImageOverlay `json:"image"`
	Volume     int          `json:"volume" validate:"min=-100,max=400"`
}

// TextOverlay renders a caption over the asset
type TextOverlay struct {
	Enabled  bool   `json:"enabled"`
	Text     string `json:"text" validate:"max=500"`
	Font     string `json:"font" validate:"max=60"`
	Size     int    `json:"size" validate:"min=0,max=400"`
	Color    string `json:"color" validate:"max=30"`
	Position string `json:"position" validate:"max=20"`
}

// ImageOverlay places another asset over the asset
type ImageOverlay struct {
	Enabled  bool   `json:"enabled"`
	AssetID  string `json:"assetId" validate:"max=200"`
	Width    int    `json:"width" validate:"min=0,max=4000"`
	Opacity  int    `json:"opacity" validate:"min=0,max=100"`
	Position string `json:"position" validate:"max=20"`
}

// ComposeRequest asks for the locator of an asset with settings applied
type ComposeRequest struct {
	AssetID  string         `json:"assetId" validate:"required,min=1,max=200"`
	Settings EffectSettings `json:"settings"`
}

// ComposeResponse carries the chain and its serialized locator
type ComposeResponse struct {
	Locator string      `json:"locator"`
	Chain   EffectChain `json:"chain"`
}
