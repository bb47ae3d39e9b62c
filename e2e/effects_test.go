package e2e

import (
	"net/http"
	"testing"
)

func TestEffectsCompose(t *testing.T) {
	ta := setupApp(t)

	body := `{"assetId": "promo.mp4", "settings": {"fadeIn": 1, "fadeOut": 0.5, "blur": 100}}`
	resp := ta.doAuthRequest(t, http.MethodPost, "/api/effects/compose", body)
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	want := testEffectsBase + "/e_fade:1000/e_blur:100/e_fade:-500/promo.mp4"
	if result["locator"] != want {
		t.Errorf("expected locator %s, got %v", want, result["locator"])
	}
	if chain, _ := result["chain"].([]interface{}); len(chain) != 3 {
		t.Errorf("expected 3 effects, got %d", len(chain))
	}
}

func TestEffectsCompose_Neutral(t *testing.T) {
	ta := setupApp(t)

	resp := ta.doAuthRequest(t, http.MethodPost, "/api/effects/compose", `{"assetId": "promo.mp4", "settings": {"speed": 1, "filter": "none"}}`)
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["locator"] != testEffectsBase+"/promo.mp4" {
		t.Errorf("expected bare locator, got %v", result["locator"])
	}
}

func TestEffectsCompose_InvalidBody(t *testing.T) {
	ta := setupApp(t)

	resp := ta.doAuthRequest(t, http.MethodPost, "/api/effects/compose", `{"settings": {"blur": -5}}`)
	assertStatus(t, resp, http.StatusBadRequest)
}
