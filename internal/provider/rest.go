package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// DefaultBaseURL is the provider REST API base.
	DefaultBaseURL = "https://api.zoom.us/v2"
	// DefaultAuthURL is the OAuth token endpoint.
	DefaultAuthURL = "https://zoom.us/oauth/token"
	// DefaultTimeout is the HTTP client timeout for provider requests.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries bounds the retry loop for transient failures.
	DefaultMaxRetries = 3
	// DefaultBackoffBase makes the backoff schedule 2^attempt seconds.
	DefaultBackoffBase = time.Second
	// DefaultRetryAfter is used when a rate-limit response carries no window.
	DefaultRetryAfter = 60 * time.Second
)

// Config holds REST client settings. Zero values fall back to defaults.
type Config struct {
	AccountID    string
	ClientID     string
	ClientSecret string
	BaseURL      string
	AuthURL      string
	Timeout      time.Duration
	MaxRetries   int
	BackoffBase  time.Duration
}

// RESTClient talks to the provider API with OAuth server-to-server
// credentials, bounded exponential-backoff retries, and rate-limit deferral.
type RESTClient struct {
	httpClient  *http.Client
	cfg         Config
	tokenSource oauth2.TokenSource
	limiter     *RateLimitQueue
	logger      *zap.Logger
}

var _ Client = (*RESTClient)(nil)

// NewRESTClient creates a provider REST client.
func NewRESTClient(cfg Config, limiter *RateLimitQueue, logger *zap.Logger) *RESTClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if limiter == nil {
		limiter = NewRateLimitQueue(logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	oauthCfg := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.AuthURL,
		EndpointParams: url.Values{
			"grant_type": []string{"account_credentials"},
			"account_id": []string{cfg.AccountID},
		},
		AuthStyle: oauth2.AuthStyleInParams,
	}

	return &RESTClient{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		cfg:         cfg,
		tokenSource: oauthCfg.TokenSource(context.Background()),
		limiter:     limiter,
		logger:      logger,
	}
}

// createMeetingRequest is the provider wire shape for meeting creation.
type createMeetingRequest struct {
	Topic     string           `json:"topic"`
	Type      int              `json:"type"`
	StartTime string           `json:"start_time,omitempty"`
	Duration  int              `json:"duration,omitempty"`
	Timezone  string           `json:"timezone,omitempty"`
	Agenda    string           `json:"agenda,omitempty"`
	Settings  *meetingSettings `json:"settings,omitempty"`
}

type meetingSettings struct {
	JoinBeforeHost bool   `json:"join_before_host"`
	WaitingRoom    bool   `json:"waiting_room"`
	MuteUponEntry  bool   `json:"mute_upon_entry"`
	AutoRecording  string `json:"auto_recording"`
}

type createMeetingResponse struct {
	ID        int64  `json:"id"`
	UUID      string `json:"uuid"`
	HostEmail string `json:"host_email"`
	StartURL  string `json:"start_url"`
	JoinURL   string `json:"join_url"`
	Password  string `json:"password"`
	CreatedAt string `json:"created_at"`
}

const meetingTypeScheduled = 2

// CreateMeeting creates a scheduled remote meeting for the given host.
func (c *RESTClient) CreateMeeting(ctx context.Context, input CreateMeetingInput) (*Meeting, error) {
	body := createMeetingRequest{
		Topic:     input.Topic,
		Type:      meetingTypeScheduled,
		StartTime: input.StartTime.UTC().Format(time.RFC3339),
		Duration:  input.DurationMinutes,
		Timezone:  input.Timezone,
		Agenda:    input.Agenda,
		Settings: &meetingSettings{
			JoinBeforeHost: false,
			WaitingRoom:    true,
			MuteUponEntry:  true,
			AutoRecording:  "cloud",
		},
	}
	path := fmt.Sprintf("/users/%s/meetings", url.PathEscape(input.HostEmail))
	respBody, status, err := c.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		c.logger.Error("create meeting rejected", zap.Int("status", status))
		return nil, ErrUnavailable
	}

	var resp createMeetingResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode create meeting response: %w", err)
	}
	createdAt, _ := time.Parse(time.RFC3339, resp.CreatedAt)
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &Meeting{
		ID:        resp.UUID,
		Number:    resp.ID,
		Passcode:  resp.Password,
		JoinURL:   resp.JoinURL,
		HostURL:   resp.StartURL,
		HostEmail: resp.HostEmail,
		CreatedAt: createdAt,
	}, nil
}

type listRecordingsResponse struct {
	RecordingFiles []struct {
		ID             string `json:"id"`
		RecordingType  string `json:"recording_type"`
		RecordingStart string `json:"recording_start"`
		RecordingEnd   string `json:"recording_end"`
		DownloadURL    string `json:"download_url"`
		PlayURL        string `json:"play_url"`
		FileSize       int64  `json:"file_size"`
		Status         string `json:"status"`
	} `json:"recording_files"`
}

// ListRecordings returns the recordings for a remote meeting. A provider
// "not found" means no recordings yet, not an error.
func (c *RESTClient) ListRecordings(ctx context.Context, meetingID string) ([]RecordingFile, error) {
	path := fmt.Sprintf("/meetings/%s/recordings", url.PathEscape(meetingID))
	respBody, status, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		c.logger.Error("list recordings rejected", zap.Int("status", status), zap.String("meeting_id", meetingID))
		return nil, ErrUnavailable
	}

	var resp listRecordingsResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode recordings response: %w", err)
	}
	files := make([]RecordingFile, 0, len(resp.RecordingFiles))
	for _, f := range resp.RecordingFiles {
		start, _ := time.Parse(time.RFC3339, f.RecordingStart)
		end, _ := time.Parse(time.RFC3339, f.RecordingEnd)
		files = append(files, RecordingFile{
			ID:          f.ID,
			Type:        normalizeRecordingType(f.RecordingType),
			DownloadURL: f.DownloadURL,
			PlayURL:     f.PlayURL,
			DurationMs:  recordingDurationMs(start, end),
			FileSize:    f.FileSize,
			RecordedAt:  start,
			Completed:   f.Status == "" || f.Status == "completed",
		})
	}
	return files, nil
}

// doRequest performs an authenticated request with retry, backoff, and
// rate-limit deferral. Returns the response body and status code.
func (c *RESTClient) doRequest(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request body: %w", err)
		}
	}

	attempt := 0
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}

		token, err := c.tokenSource.Token()
		if err != nil {
			// Credential details never leak past this boundary.
			c.logger.Error("provider token fetch failed", zap.String("path", path))
			return nil, 0, ErrConfiguration
		}

		var bodyReader io.Reader
		if jsonBody != nil {
			bodyReader = bytes.NewReader(jsonBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
		if err != nil {
			return nil, 0, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		token.SetAuthHeader(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			if attempt >= c.cfg.MaxRetries {
				c.logger.Error("provider request failed after all retries",
					zap.String("method", method), zap.String("path", path),
					zap.Int("attempts", attempt+1), zap.Error(err))
				return nil, 0, ErrUnavailable
			}
			if werr := c.backoff(ctx, method, path, attempt, err); werr != nil {
				return nil, 0, werr
			}
			attempt++
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, 0, fmt.Errorf("read response: %w", readErr)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			c.logger.Error("provider rejected credentials",
				zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))
			return nil, resp.StatusCode, ErrConfiguration
		case resp.StatusCode == http.StatusTooManyRequests:
			c.limiter.Block(parseRetryAfter(resp.Header.Get("Retry-After")))
			// Deferred, not retried: the next Wait blocks until the window
			// elapses, so the attempt counter is untouched.
			continue
		case resp.StatusCode >= http.StatusInternalServerError:
			if attempt >= c.cfg.MaxRetries {
				c.logger.Error("provider request failed after all retries",
					zap.String("method", method), zap.String("path", path),
					zap.Int("status", resp.StatusCode), zap.Int("attempts", attempt+1))
				return nil, resp.StatusCode, ErrUnavailable
			}
			if werr := c.backoff(ctx, method, path, attempt, fmt.Errorf("status %d", resp.StatusCode)); werr != nil {
				return nil, 0, werr
			}
			attempt++
			continue
		default:
			return respBody, resp.StatusCode, nil
		}
	}
}

// backoff sleeps 2^attempt * base, honoring ctx cancellation.
func (c *RESTClient) backoff(ctx context.Context, method, path string, attempt int, cause error) error {
	delay := c.cfg.BackoffBase * (1 << attempt)
	c.logger.Warn("provider request failed, retrying",
		zap.String("method", method), zap.String("path", path),
		zap.Int("attempt", attempt+1), zap.Duration("backoff", delay), zap.Error(cause))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return DefaultRetryAfter
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return DefaultRetryAfter
}
