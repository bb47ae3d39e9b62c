package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/campaignops/api/internal/auth"
	"github.com/campaignops/api/internal/client"
	"github.com/campaignops/api/internal/config"
	"github.com/campaignops/api/internal/effects"
	"github.com/campaignops/api/internal/handler"
	"github.com/campaignops/api/internal/middleware"
	"github.com/campaignops/api/internal/model"
	"github.com/campaignops/api/internal/service"
	ws "github.com/campaignops/api/internal/websocket"
	"github.com/campaignops/api/internal/worker"
)

const (
	testJWTSecret     = "test-secret-for-e2e"
	testEffectsBase   = "https://cdn.test/video/upload"
	testStorageHost   = "http://files.test"
	testRedisAddr     = "localhost:6379"
	testRedisDatabase = 15 // keep clear of development data
)

// testApp holds all components needed for testing
type testApp struct {
	app    *fiber.App
	worker *worker.JobWorker
	userID string
	token  string
}

// setupApp wires the server the way main.go does, with unconfigured external
// clients so captions and storage fall back to their local implementations.
// Jobs are processed by calling the worker directly instead of running an
// asynq server. Skips when redis is not reachable.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	redisClient := redis.NewClient(&redis.Options{
		Addr: testRedisAddr,
		DB:   testRedisDatabase,
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { redisClient.Close() })

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: testRedisAddr,
		DB:   testRedisDatabase,
	})
	t.Cleanup(func() { asynqClient.Close() })

	validate := validator.New()
	logger := zap.NewNop()

	groqClient := client.NewGroqClient(&config.GroqConfig{}, logger) // no API key → mock captions
	storage := client.NewMemoryStorage(testStorageHost + "/files")
	compositor := effects.NewCompositor(testEffectsBase)

	hub := ws.NewHub(logger)
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)
	t.Cleanup(stopHub)

	// Services
	jobService := service.NewJobService(redisClient, asynqClient, logger)
	uploadService := service.NewUploadService(storage, logger)
	campaignService := service.NewCampaignService(redisClient, jobService, logger)
	exportService := service.NewExportService(jobService, uploadService, logger)
	mergeService := service.NewMergeService(campaignService, uploadService, config.MergeConfig{BatchSize: 2, WarnThreshold: 1000}, logger)
	captionService := service.NewCaptionService(groqClient, campaignService)
	hub.SetSnapshot(jobService.GetJob)

	// Handlers
	jobHandler := handler.NewJobHandler(jobService, uploadService, exportService, validate, logger)
	campaignHandler := handler.NewCampaignHandler(campaignService, validate)
	mergeHandler := handler.NewMergeHandler(mergeService, validate)
	effectsHandler := handler.NewEffectsHandler(compositor, validate)
	captionHandler := handler.NewCaptionHandler(captionService, validate)
	fileHandler := handler.NewFileHandler(uploadService)

	requireUser := middleware.RequireUser(middleware.BearerToken(middleware.LegacyToken(testJWTSecret)))
	rateLimiter := middleware.NewRateLimiter(redisClient, logger)

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"groq":  groqClient.IsConfigured(),
				"r2":    false,
				"redis": true,
				"auth":  true,
			},
		})
	})
	app.Get("/files/*", fileHandler.Get)

	api := app.Group("/api", requireUser)

	// Use very high rate limits so tests don't get blocked
	jobs := api.Group("/jobs")
	jobs.Post("/", rateLimiter.JobsLimit(10000), jobHandler.Submit)
	jobs.Get("/", jobHandler.List)
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Delete("/:jobId", jobHandler.Dismiss)
	jobs.Get("/:jobId/export", rateLimiter.ExportLimit(10000), jobHandler.Export)

	campaigns := api.Group("/campaigns", rateLimiter.CampaignsLimit(10000))
	campaigns.Post("/", campaignHandler.Create)
	campaigns.Get("/", campaignHandler.List)
	campaigns.Get("/:id", campaignHandler.Get)
	campaigns.Post("/:id/jobs/:jobId", campaignHandler.AttachJob)

	api.Post("/merge/preview", mergeHandler.Preview)
	api.Post("/merge/export", mergeHandler.Export)
	api.Post("/effects/compose", effectsHandler.Compose)
	api.Post("/captions/generate", rateLimiter.CaptionsLimit(10000), captionHandler.Generate)

	jobWorker := worker.NewJobWorker(jobService, uploadService, captionService, compositor, hub, 0, logger)

	// every test gets its own user so job and campaign lists do not mix
	userID := "test-user-" + uuid.NewString()
	return &testApp{
		app:    app,
		worker: jobWorker,
		userID: userID,
		token:  generateToken(t, userID),
	}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T, userID string) string {
	t.Helper()
	signed, err := auth.IssueLegacyToken(userID, "test@example.com", testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// process runs the queued task of a job to completion
func (ta *testApp) process(t *testing.T, jobID string, kind model.JobKind) error {
	t.Helper()
	payload, err := json.Marshal(model.JobTaskPayload{JobID: jobID, Kind: kind})
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return ta.worker.ProcessTask(context.Background(), asynq.NewTask(service.TaskTypeJob, payload))
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request as the app's test user.
func (ta *testApp) doAuthRequest(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	resp, err := doRequest(ta.app, method, path, body, map[string]string{
		"Authorization": "Bearer " + ta.token,
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

type testFile struct {
	name        string
	contentType string
	data        string
}

// submit posts a multipart job submission as the app's test user
func (ta *testApp) submit(t *testing.T, kind model.JobKind, fields map[string]string, files ...testFile) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField(model.FormFieldKind, string(kind)); err != nil {
		t.Fatalf("failed to write field: %v", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+model.FormFieldFiles+`"; filename="`+f.name+`"`)
		h.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("failed to create part: %v", err)
		}
		if _, err := io.WriteString(part, f.data); err != nil {
			t.Fatalf("failed to write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, "/api/jobs", &buf)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+ta.token)

	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// submitAndID submits a job that must be accepted and returns its id
func (ta *testApp) submitAndID(t *testing.T, kind model.JobKind, fields map[string]string, files ...testFile) string {
	t.Helper()
	resp := ta.submit(t, kind, fields, files...)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d: %s", http.StatusAccepted, resp.StatusCode, readBody(t, resp))
	}
	result := parseJSON(t, resp)
	id, _ := result["jobId"].(string)
	if id == "" {
		t.Fatal("expected 'jobId' in response")
	}
	return id
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
