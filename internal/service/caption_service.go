package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/campaignops/api/internal/client"
	"github.com/campaignops/api/internal/model"
)

const defaultCaptionCount = 3

// CaptionWriter produces social captions
type CaptionWriter interface {
	Generate(ctx context.Context, req *model.CaptionGenerateRequest) (*model.CaptionGenerateResponse, error)
}

// CaptionService writes platform captions using Groq AI
type CaptionService struct {
	groqClient *client.GroqClient
	campaigns  *CampaignService
}

// NewCaptionService creates a caption service. campaigns may be nil.
func NewCaptionService(groqClient *client.GroqClient, campaigns *CampaignService) *CaptionService {
	return &CaptionService{
		groqClient: groqClient,
		campaigns:  campaigns,
	}
}

// Generate writes req.Count captions, three by default
func (s *CaptionService) Generate(ctx context.Context, req *model.CaptionGenerateRequest) (*model.CaptionGenerateResponse, error) {
	count := req.Count
	if count <= 0 {
		count = defaultCaptionCount
	}

	campaignName := ""
	if req.CampaignID != "" && s.campaigns != nil {
		campaign, err := s.campaigns.Get(ctx, req.CampaignID)
		if err != nil {
			return nil, err
		}
		campaignName = campaign.Name
	}

	if s.groqClient == nil || !s.groqClient.IsConfigured() {
		return s.generateMock(req, count), nil
	}

	response, err := s.groqClient.ChatCompletion(ctx, captionSystemPrompt(req.Platform), buildCaptionPrompt(req, count, campaignName))
	if err != nil {
		return nil, fmt.Errorf("AI generation failed: %w", err)
	}

	captions, err := parseCaptionResponse(response)
	if err != nil {
		return nil, fmt.Errorf("failed to parse AI response: %w", err)
	}
	if len(captions) > count {
		captions = captions[:count]
	}
	return &model.CaptionGenerateResponse{Captions: captions}, nil
}

func captionSystemPrompt(platform model.Platform) string {
	return fmt.Sprintf(`You are a social media copywriter who writes for %s.
Captions must respect the platform's length and hashtag conventions.
Always output your response as valid JSON in the exact format requested.
Do not include any text outside the JSON structure.`, platform)
}

func buildCaptionPrompt(req *model.CaptionGenerateRequest, count int, campaignName string) string {
	campaign := ""
	if campaignName != "" {
		campaign = fmt.Sprintf("\nCampaign: %s", campaignName)
	}
	keywords := "none"
	if len(req.Keywords) > 0 {
		keywords = strings.Join(req.Keywords, ", ")
	}

	return fmt.Sprintf(`Write %d different captions about: %s
Tone: %s
Keywords to include: %s%s

Output as JSON: {"captions": ["caption1","caption2"]}`,
		count, req.Topic, req.Tone, keywords, campaign)
}

func parseCaptionResponse(response string) ([]string, error) {
	response = extractJSON(response)

	var result struct {
		Captions []string `json:"captions"`
	}
	if err := json.Unmarshal([]byte(response), &result); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}
	if len(result.Captions) == 0 {
		return nil, fmt.Errorf("no captions in response")
	}
	return result.Captions, nil
}

// extractJSON cuts the outermost object out of a response with extra text
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start != -1 && end != -1 && end > start {
		return s[start : end+1]
	}
	return s
}

var mockOpeners = map[model.Tone][]string{
	model.ToneFriendly:     {"Say hello to", "We think you'll love", "Here's a little something:", "Good news about", "Meet"},
	model.ToneProfessional: {"Introducing", "Discover", "Learn more about", "Now available:", "Presenting"},
	model.TonePlayful:      {"Guess what?", "Plot twist:", "Not to brag, but", "Psst...", "Okay, hear us out:"},
	model.ToneUrgent:       {"Last chance:", "Don't miss", "Ends soon:", "Hurry!", "Only today:"},
}

// generateMock returns deterministic captions for development/testing
func (s *CaptionService) generateMock(req *model.CaptionGenerateRequest, count int) *model.CaptionGenerateResponse {
	openers := mockOpeners[req.Tone]
	if len(openers) == 0 {
		openers = mockOpeners[model.ToneFriendly]
	}

	tags := make([]string, 0, len(req.Keywords))
	for _, k := range req.Keywords {
		tags = append(tags, "#"+strings.ReplaceAll(strings.TrimSpace(k), " ", ""))
	}

	captions := make([]string, count)
	for i := range captions {
		caption := fmt.Sprintf("%s %s", openers[i%len(openers)], req.Topic)
		if len(tags) > 0 && req.Platform != model.PlatformLinkedIn {
			caption += " " + strings.Join(tags, " ")
		}
		captions[i] = caption
	}
	return &model.CaptionGenerateResponse{Captions: captions}
}
