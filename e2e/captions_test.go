package e2e

import (
	"net/http"
	"strings"
	"testing"
)

func TestCaptionsGenerate_Mock(t *testing.T) {
	ta := setupApp(t)

	body := `{"platform": "instagram", "tone": "playful", "topic": "our spring sale", "keywords": ["spring", "sale"], "count": 2}`
	resp := ta.doAuthRequest(t, http.MethodPost, "/api/captions/generate", body)
	assertStatus(t, resp, http.StatusOK)

	captions, _ := parseJSON(t, resp)["captions"].([]interface{})
	if len(captions) != 2 {
		t.Fatalf("expected 2 captions, got %d", len(captions))
	}
	first, _ := captions[0].(string)
	if !strings.Contains(first, "our spring sale") || !strings.Contains(first, "#spring") {
		t.Errorf("unexpected caption %q", first)
	}
}

func TestCaptionsGenerate_InvalidPlatform(t *testing.T) {
	ta := setupApp(t)

	resp := ta.doAuthRequest(t, http.MethodPost, "/api/captions/generate", `{"platform": "myspace", "tone": "friendly", "topic": "x"}`)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestCaptionsGenerate_NoAuth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/captions/generate", `{"platform": "x", "tone": "friendly", "topic": "x"}`, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUnauthorized)
}
