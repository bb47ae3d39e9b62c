// Package gateway submits job inputs to the remote processor as a streamed
// multipart upload.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campaignops/api/internal/model"
)

// Submission is the input of one job
type Submission struct {
	Kind model.JobKind
	// Category overrides the kind's default media category
	Category model.MediaCategory
	Files    []File
	Fields   map[string]string
}

// ProgressFunc receives upload progress as a non-decreasing percentage
type ProgressFunc func(percent int)

// Gateway streams submissions to the processor upload endpoint
type Gateway struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *zap.Logger
}

// Option customizes a Gateway
type Option func(*Gateway)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

// WithToken sets the bearer token sent with each submission
func WithToken(token string) Option {
	return func(g *Gateway) { g.token = token }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New creates a gateway for the processor at baseURL
func New(baseURL string, opts ...Option) *Gateway {
	g := &Gateway{
		httpClient: &http.Client{Timeout: 30 * time.Minute},
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate checks a submission without touching the network
func Validate(sub Submission) error {
	_, err := prepare(sub)
	return err
}

// prepare validates the submission and returns its files with resolved
// media types
func prepare(sub Submission) ([]File, error) {
	if !sub.Kind.Valid() {
		return nil, &SubmissionError{Field: model.FormFieldKind, Reason: fmt.Sprintf("unknown job kind %q", sub.Kind)}
	}
	if sub.Kind.RequiresUpload() && len(sub.Files) == 0 {
		return nil, &SubmissionError{Field: model.FormFieldFiles, Reason: "at least one file is required"}
	}

	category := sub.Category
	if category == model.MediaCategoryNone {
		category = sub.Kind.Category()
	}
	files := slices.Clone(sub.Files)
	for i := range files {
		f := &files[i]
		if strings.TrimSpace(f.Name) == "" {
			return nil, &SubmissionError{Field: model.FormFieldFiles, Reason: fmt.Sprintf("file %d has no name", i)}
		}
		if f.Open == nil {
			return nil, &SubmissionError{Field: f.Name, Reason: "file has no content"}
		}
		ct, err := f.detect()
		if err != nil {
			return nil, &SubmissionError{Field: f.Name, Reason: fmt.Sprintf("cannot read file: %v", err)}
		}
		if !Matches(category, ct) {
			return nil, &SubmissionError{Field: f.Name, Reason: fmt.Sprintf("media type %s is not %s", ct, category)}
		}
		f.ContentType = ct
	}
	for k := range sub.Fields {
		if strings.TrimSpace(k) == "" {
			return nil, &SubmissionError{Field: "fields", Reason: "empty field name"}
		}
	}
	return files, nil
}

// Submit validates the submission, streams it to the processor and returns
// the assigned job id. Validation failures return *SubmissionError before any
// request is made; everything else returns *TransportError.
func (g *Gateway) Submit(ctx context.Context, sub Submission, onProgress ProgressFunc) (string, error) {
	files, err := prepare(sub)
	if err != nil {
		return "", err
	}
	sub.Files = files

	var total int64
	for _, f := range sub.Files {
		total += max(f.Size, 0)
	}
	progress := &progressCounter{total: total, fn: onProgress, last: -1}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	done := make(chan struct{})
	go func() {
		defer close(done)
		pw.CloseWithError(writeBody(mw, sub, progress))
	}()

	url := g.baseURL + "/api/jobs"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		pr.Close()
		<-done
		return "", &TransportError{Op: "submit", Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	g.logger.Debug("submitting job", zap.String("url", url), zap.String("kind", string(sub.Kind)), zap.Int("files", len(sub.Files)))

	resp, err := g.httpClient.Do(req)
	pr.CloseWithError(io.ErrUnexpectedEOF)
	<-done
	if err != nil {
		g.logger.Warn("submission failed", zap.String("url", url), zap.Error(err))
		return "", &TransportError{Op: "submit", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &TransportError{Op: "submit", Err: fmt.Errorf("failed to read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.logger.Warn("submission rejected", zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return "", &TransportError{Op: "submit", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out model.SubmitJobResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &TransportError{Op: "submit", Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}
	if out.JobID == "" {
		return "", &TransportError{Op: "submit", Err: fmt.Errorf("response carries no job id")}
	}

	progress.finish()
	g.logger.Info("job submitted", zap.String("jobId", out.JobID), zap.String("kind", string(sub.Kind)))
	return out.JobID, nil
}

func writeBody(mw *multipart.Writer, sub Submission, progress *progressCounter) error {
	if err := mw.WriteField(model.FormFieldKind, string(sub.Kind)); err != nil {
		return err
	}

	keys := make([]string, 0, len(sub.Fields))
	for k := range sub.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, sub.Fields[k]); err != nil {
			return err
		}
	}

	for _, f := range sub.Files {
		if err := writeFile(mw, f, progress); err != nil {
			return err
		}
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeFile(mw *multipart.Writer, f File, progress *progressCounter) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		model.FormFieldFiles, quoteEscaper.Replace(f.Name)))
	h.Set("Content-Type", f.ContentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()

	_, err = io.Copy(part, io.TeeReader(rc, progress))
	return err
}

// progressCounter turns bytes written into percent callbacks
type progressCounter struct {
	total int64
	sent  int64
	last  int
	fn    ProgressFunc
}

func (p *progressCounter) Write(b []byte) (int, error) {
	p.sent += int64(len(b))
	if p.total > 0 {
		// 100 is reserved for the acknowledged submission
		p.emit(min(int(p.sent*100/p.total), 99))
	}
	return len(b), nil
}

func (p *progressCounter) finish() {
	p.emit(100)
}

func (p *progressCounter) emit(pct int) {
	if pct <= p.last || p.fn == nil {
		return
	}
	p.last = pct
	p.fn(pct)
}
