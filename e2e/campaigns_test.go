package e2e

import (
	"net/http"
	"testing"

	"github.com/campaignops/api/internal/model"
)

const validCampaignBody = `{
	"clientId": "acme",
	"name": "Spring Launch",
	"startDate": "2025-03-01",
	"endDate": "2025-03-31"
}`

func createCampaign(t *testing.T, ta *testApp) string {
	t.Helper()
	resp := ta.doAuthRequest(t, http.MethodPost, "/api/campaigns", validCampaignBody)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.StatusCode, readBody(t, resp))
	}
	result := parseJSON(t, resp)
	id, _ := result["id"].(string)
	if id == "" {
		t.Fatal("expected 'id' in response")
	}
	return id
}

func campaignStatus(t *testing.T, ta *testApp, id string) string {
	t.Helper()
	resp := ta.doAuthRequest(t, http.MethodGet, "/api/campaigns/"+id, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	status, _ := parseJSON(t, resp)["status"].(string)
	return status
}

func TestCampaignCreate_Success(t *testing.T) {
	ta := setupApp(t)

	resp := ta.doAuthRequest(t, http.MethodPost, "/api/campaigns", validCampaignBody)
	assertStatus(t, resp, http.StatusCreated)

	result := parseJSON(t, resp)
	if result["status"] != string(model.CampaignStatusDraft) {
		t.Errorf("expected status draft, got %v", result["status"])
	}
	if result["owner"] != ta.userID {
		t.Errorf("expected owner to default to the caller, got %v", result["owner"])
	}
}

func TestCampaignCreate_InvalidBody(t *testing.T) {
	ta := setupApp(t)

	resp := ta.doAuthRequest(t, http.MethodPost, "/api/campaigns", `{"clientId": "acme"}`)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = ta.doAuthRequest(t, http.MethodPost, "/api/campaigns",
		`{"clientId": "acme", "name": "x", "startDate": "2025-03-31", "endDate": "2025-03-01"}`)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestCampaignGet_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp := ta.doAuthRequest(t, http.MethodGet, "/api/campaigns/00000000-0000-0000-0000-000000000000", "")
	assertStatus(t, resp, http.StatusNotFound)
}

func TestCampaignStatusFollowsJobs(t *testing.T) {
	ta := setupApp(t)
	campaignID := createCampaign(t, ta)

	jobID := ta.submitAndID(t, model.JobKindEnrichment, nil, contactsFile())
	resp := ta.doAuthRequest(t, http.MethodPost, "/api/campaigns/"+campaignID+"/jobs/"+jobID, "")
	assertStatus(t, resp, http.StatusOK)

	// attaching twice is a no-op
	resp = ta.doAuthRequest(t, http.MethodPost, "/api/campaigns/"+campaignID+"/jobs/"+jobID, "")
	assertStatus(t, resp, http.StatusOK)
	if jobs, _ := parseJSON(t, resp)["jobIds"].([]interface{}); len(jobs) != 1 {
		t.Errorf("expected one attached job, got %d", len(jobs))
	}

	if got := campaignStatus(t, ta, campaignID); got != string(model.CampaignStatusProcessing) {
		t.Errorf("expected processing while the job runs, got %s", got)
	}

	if err := ta.process(t, jobID, model.JobKindEnrichment); err != nil {
		t.Fatalf("processing failed: %v", err)
	}
	if got := campaignStatus(t, ta, campaignID); got != string(model.CampaignStatusReady) {
		t.Errorf("expected ready once the job finished, got %s", got)
	}

	failing := ta.submitAndID(t, model.JobKindPostConversion, map[string]string{"campaignId": campaignID})
	resp = ta.doAuthRequest(t, http.MethodPost, "/api/campaigns/"+campaignID+"/jobs/"+failing, "")
	assertStatus(t, resp, http.StatusOK)
	_ = ta.process(t, failing, model.JobKindPostConversion)
	if got := campaignStatus(t, ta, campaignID); got != string(model.CampaignStatusFailed) {
		t.Errorf("expected failed once any job failed, got %s", got)
	}
}

func TestCampaignAttach_UnknownJob(t *testing.T) {
	ta := setupApp(t)
	campaignID := createCampaign(t, ta)

	resp := ta.doAuthRequest(t, http.MethodPost, "/api/campaigns/"+campaignID+"/jobs/00000000-0000-0000-0000-000000000000", "")
	assertStatus(t, resp, http.StatusNotFound)
}

func TestCampaignList(t *testing.T) {
	ta := setupApp(t)
	first := createCampaign(t, ta)
	second := createCampaign(t, ta)

	resp := ta.doAuthRequest(t, http.MethodGet, "/api/campaigns", "")
	assertStatus(t, resp, http.StatusOK)

	campaigns, _ := parseJSON(t, resp)["campaigns"].([]interface{})
	if len(campaigns) != 2 {
		t.Fatalf("expected 2 campaigns, got %d", len(campaigns))
	}
	ids := map[string]bool{}
	for _, c := range campaigns {
		ids[c.(map[string]interface{})["id"].(string)] = true
	}
	if !ids[first] || !ids[second] {
		t.Errorf("expected both campaigns listed, got %v", ids)
	}
}
