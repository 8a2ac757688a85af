// Package prediction talks to a hosted image-to-image prediction API
// (Replicate-compatible): submit a prediction, check its status, download
// the output.
package prediction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"canvaspreview/internal/domain"
	"canvaspreview/internal/infra"
	"canvaspreview/internal/retry"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("prediction: api token is required")

const maxDownloadBytes = 32 << 20

// Options configures the prediction client.
type Options struct {
	APIToken       string
	BaseURL        string
	Model          string
	SyncWait       time.Duration
	RatePerSecond  float64
	Burst          int
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the prediction API.
type Client struct {
	apiToken   string
	baseURL    string
	model      string
	syncWait   time.Duration
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     *infra.Logger
	now        func() time.Time

	maxDownload int64
}

// SubmitRequest captures the inputs of one generation.
type SubmitRequest struct {
	Prompt      string
	Image       []byte
	ImageURL    string
	AspectRatio domain.AspectRatio
	Quality     domain.QualityTier
	// WebhookURL switches the submission to async: the provider calls back
	// instead of the caller waiting.
	WebhookURL string
}

type predictionRequest struct {
	Input               predictionInput `json:"input"`
	Webhook             string          `json:"webhook,omitempty"`
	WebhookEventsFilter []string        `json:"webhook_events_filter,omitempty"`
}

type predictionInput struct {
	Prompt       string `json:"prompt"`
	InputImage   string `json:"input_image"`
	AspectRatio  string `json:"aspect_ratio,omitempty"`
	Quality      string `json:"quality,omitempty"`
	OutputFormat string `json:"output_format"`
}

// Prediction is the provider's job document. It is also the webhook body.
type Prediction struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Output    json.RawMessage `json:"output"`
	Error     json.RawMessage `json:"error"`
	CreatedAt string          `json:"created_at"`
	URLs      struct {
		Get    string `json:"get"`
		Cancel string `json:"cancel"`
	} `json:"urls"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	model := strings.Trim(strings.TrimSpace(opts.Model), "/")
	if model == "" {
		model = "black-forest-labs/flux-kontext-pro"
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		l := infra.NewComponentLogger(*opts.Logger, "prediction")
		logger = &l
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiToken:   strings.TrimSpace(opts.APIToken),
		baseURL:    baseURL,
		model:      model,
		syncWait:   opts.SyncWait,
		limiter:    rate.NewLimiter(limit, burst),
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,

		maxDownload: maxDownloadBytes,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiToken != ""
}

// Submit creates one billed prediction. Transport failures and non-2xx
// responses are returned as *domain.Classification errors so the caller can
// retry them; a provider-reported terminal failure is returned in the result.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (domain.SubmissionResult, error) {
	if !c.HasCredentials() {
		return domain.SubmissionResult{}, &domain.Classification{
			Kind:    domain.ErrorInvalidRequest,
			Status:  http.StatusUnauthorized,
			Message: ErrMissingAPIKey.Error(),
		}
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return domain.SubmissionResult{}, domain.Invalid("prediction: prompt is required")
	}
	image := strings.TrimSpace(req.ImageURL)
	if len(req.Image) > 0 {
		image = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(req.Image)
	}
	if image == "" {
		return domain.SubmissionResult{}, domain.Invalid("prediction: input image is required")
	}

	payload := predictionRequest{
		Input: predictionInput{
			Prompt:       prompt,
			InputImage:   image,
			AspectRatio:  string(req.AspectRatio),
			OutputFormat: "jpg",
		},
	}
	if req.Quality != "" && req.Quality != domain.QualityAuto {
		payload.Input.Quality = string(req.Quality)
	}
	if hook := strings.TrimSpace(req.WebhookURL); hook != "" {
		payload.Webhook = hook
		payload.WebhookEventsFilter = []string{"completed"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.SubmissionResult{}, fmt.Errorf("prediction: encode request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return domain.SubmissionResult{}, retry.Classify(err)
	}

	endpoint := fmt.Sprintf("%s/models/%s/predictions", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.SubmissionResult{}, fmt.Errorf("prediction: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if payload.Webhook == "" && c.syncWait > 0 {
		httpReq.Header.Set("Prefer", "wait="+strconv.Itoa(int(c.syncWait/time.Second)))
	}

	pred, err := c.do(httpReq)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	result := pred.Result()
	c.logger.Debug().
		Str("model", c.model).
		Str("job_id", pred.ID).
		Str("status", string(result.Job.Status)).
		Bool("async", payload.Webhook != "").
		Msg("prediction: submitted")
	return result, nil
}

// Status fetches the current state of a pending job.
func (c *Client) Status(ctx context.Context, handle domain.JobHandle) (domain.SubmissionResult, error) {
	if !c.HasCredentials() {
		return domain.SubmissionResult{}, &domain.Classification{
			Kind:    domain.ErrorInvalidRequest,
			Status:  http.StatusUnauthorized,
			Message: ErrMissingAPIKey.Error(),
		}
	}
	endpoint := strings.TrimSpace(handle.StatusURL)
	if endpoint == "" {
		if handle.ID == "" {
			return domain.SubmissionResult{}, domain.Invalid("prediction: job handle is empty")
		}
		endpoint = c.baseURL + "/predictions/" + url.PathEscape(handle.ID)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.SubmissionResult{}, fmt.Errorf("prediction: build status request: %w", err)
	}
	pred, err := c.do(httpReq)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	return pred.Result(), nil
}

// Download fetches the output asset.
func (c *Client) Download(ctx context.Context, outputURL string) ([]byte, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(outputURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, "", fmt.Errorf("prediction: invalid output url: %q", outputURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("prediction: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", retry.Classify(fmt.Errorf("prediction: download output: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", retry.ClassifyStatus(resp.StatusCode, fmt.Sprintf("prediction: download status %d", resp.StatusCode), 0)
	}
	// One byte past the cap distinguishes an oversized asset from one that
	// fits exactly.
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDownload+1))
	if err != nil {
		return nil, "", retry.Classify(fmt.Errorf("prediction: read output: %w", err))
	}
	if int64(len(data)) > c.maxDownload {
		return nil, "", &domain.Classification{
			Kind:    domain.ErrorUnknown,
			Message: fmt.Sprintf("prediction: output exceeds %s", humanize.IBytes(uint64(c.maxDownload))),
		}
	}
	format := resp.Header.Get("Content-Type")
	if format == "" {
		format = http.DetectContentType(data)
	}
	return data, format, nil
}

func (c *Client) do(httpReq *http.Request) (*Prediction, error) {
	httpReq.Header.Set("Authorization", "Bearer "+c.apiToken)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, retry.Classify(fmt.Errorf("prediction: http request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.Classify(fmt.Errorf("prediction: read response: %w", err))
	}

	if resp.StatusCode >= 300 {
		message := fmt.Sprintf("prediction: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Detail != "" {
			message = fmt.Sprintf("prediction: %s (%d)", detail.Detail, resp.StatusCode)
		}
		retryAfter := retry.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		return nil, retry.ClassifyStatus(resp.StatusCode, message, retryAfter)
	}

	var pred Prediction
	if err := json.Unmarshal(raw, &pred); err != nil {
		return nil, &domain.Classification{Kind: domain.ErrorUnknown, Status: resp.StatusCode, Message: "prediction: decode response: " + err.Error()}
	}
	return &pred, nil
}

// ParseWebhook decodes a provider callback body.
func ParseWebhook(body []byte) (*Prediction, error) {
	var pred Prediction
	if err := json.Unmarshal(body, &pred); err != nil {
		return nil, fmt.Errorf("prediction: decode webhook: %w", err)
	}
	if strings.TrimSpace(pred.ID) == "" {
		return nil, errors.New("prediction: webhook without id")
	}
	return &pred, nil
}

// Result converts the provider document into a submission result.
func (p *Prediction) Result() domain.SubmissionResult {
	status := domain.ParseJobStatus(p.Status)
	res := domain.SubmissionResult{
		Job: domain.Job{
			ProviderJobID: p.ID,
			Status:        status,
		},
		Handle: domain.JobHandle{ID: p.ID, StatusURL: p.URLs.Get},
	}
	switch status {
	case domain.JobStatusSucceeded:
		res.Job.OutputURL = FirstOutput(p.Output)
		if res.Job.OutputURL == "" {
			res.Job.Status = domain.JobStatusFailed
			res.Failure = &domain.Classification{Kind: domain.ErrorUnknown, Message: "prediction: succeeded without output"}
		}
	case domain.JobStatusFailed:
		res.Job.ErrorMessage = errorText(p.Error)
		res.Failure = &domain.Classification{Kind: domain.ErrorUnknown, Message: "prediction failed: " + res.Job.ErrorMessage}
	case domain.JobStatusCanceled:
		res.Job.ErrorMessage = "canceled"
		res.Failure = &domain.Classification{Kind: domain.ErrorUnknown, Message: "prediction canceled"}
	case domain.JobStatusStarting, domain.JobStatusProcessing:
	}
	return res
}

// FirstOutput unwraps string or array-valued outputs to the first URL.
func FirstOutput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return strings.TrimSpace(single)
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, item := range many {
			if item = strings.TrimSpace(item); item != "" {
				return item
			}
		}
	}
	return ""
}

func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "unknown error"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
