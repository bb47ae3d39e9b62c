package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/campaignops/api/internal/model"
)

const (
	campaignTTL         = 30 * 24 * time.Hour
	userCampaignsKeyFmt = "user:%s:campaigns"
)

var ErrCampaignNotFound = errors.New("campaign not found")

// CampaignService keeps campaign records in redis and derives their status
// from the attached jobs
type CampaignService struct {
	redis  *redis.Client
	jobs   *JobService
	logger *zap.Logger
}

func NewCampaignService(redisClient *redis.Client, jobs *JobService, logger *zap.Logger) *CampaignService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CampaignService{
		redis:  redisClient,
		jobs:   jobs,
		logger: logger,
	}
}

// Create stores a new campaign in draft status
func (s *CampaignService) Create(ctx context.Context, userID string, req *model.CreateCampaignRequest) (*model.Campaign, error) {
	campaign := &model.Campaign{
		ID:        uuid.New().String(),
		ClientID:  req.ClientID,
		Name:      req.Name,
		Owner:     req.Owner,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		JobIDs:    []string{},
		Status:    model.CampaignStatusDraft,
		CreatedAt: time.Now().UTC(),
	}
	if campaign.Owner == "" {
		campaign.Owner = userID
	}

	if err := s.save(ctx, campaign); err != nil {
		return nil, err
	}
	key := fmt.Sprintf(userCampaignsKeyFmt, userID)
	if err := s.redis.SAdd(ctx, key, campaign.ID).Err(); err != nil {
		return nil, fmt.Errorf("failed to index campaign: %w", err)
	}
	s.redis.Expire(ctx, key, campaignTTL)

	s.logger.Info("campaign created", zap.String("campaignId", campaign.ID), zap.String("clientId", campaign.ClientID))
	return campaign, nil
}

// Get loads a campaign with its status derived from its jobs. Expired jobs
// no longer count.
func (s *CampaignService) Get(ctx context.Context, id string) (*model.Campaign, error) {
	campaign, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	states := make([]model.JobState, 0, len(campaign.JobIDs))
	for _, jobID := range campaign.JobIDs {
		job, err := s.jobs.GetJob(ctx, jobID)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		states = append(states, job.State)
	}
	campaign.Status = model.DeriveCampaignStatus(states)
	return campaign, nil
}

// List returns the user's campaigns, newest first
func (s *CampaignService) List(ctx context.Context, userID string) ([]model.Campaign, error) {
	ids, err := s.redis.SMembers(ctx, fmt.Sprintf(userCampaignsKeyFmt, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}

	campaigns := make([]model.Campaign, 0, len(ids))
	for _, id := range ids {
		c, err := s.Get(ctx, id)
		if errors.Is(err, ErrCampaignNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	slices.SortFunc(campaigns, func(a, b model.Campaign) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return campaigns, nil
}

// AttachJob links an existing job to the campaign. Attaching twice is a no-op.
func (s *CampaignService) AttachJob(ctx context.Context, campaignID, jobID string) (*model.Campaign, error) {
	if _, err := s.jobs.GetJob(ctx, jobID); err != nil {
		return nil, err
	}

	campaign, err := s.load(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(campaign.JobIDs, jobID) {
		campaign.JobIDs = append(campaign.JobIDs, jobID)
		if err := s.save(ctx, campaign); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, campaignID)
}

func (s *CampaignService) load(ctx context.Context, id string) (*model.Campaign, error) {
	data, err := s.redis.Get(ctx, campaignKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, err
	}

	var campaign model.Campaign
	if err := json.Unmarshal(data, &campaign); err != nil {
		return nil, fmt.Errorf("failed to unmarshal campaign: %w", err)
	}
	return &campaign, nil
}

func (s *CampaignService) save(ctx context.Context, campaign *model.Campaign) error {
	data, err := json.Marshal(campaign)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign: %w", err)
	}
	if err := s.redis.Set(ctx, campaignKey(campaign.ID), data, campaignTTL).Err(); err != nil {
		return fmt.Errorf("failed to save campaign: %w", err)
	}
	return nil
}

func campaignKey(id string) string {
	return "campaign:" + id
}
