package quark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/unzipq/unzipq/internal/metrics"
	"github.com/unzipq/unzipq/internal/tracing"
	"github.com/unzipq/unzipq/pkg/domain"
)

// DefaultBaseURL is the production endpoint of the drive API.
const DefaultBaseURL = "https://drive-pc.quark.cn/1/clouddrive"

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"

const (
	defaultPageSize = 500
	defaultRPS      = 4
	defaultBurst    = 4
)

// Options configures a Client. Zero fields fall back to production defaults;
// only Cookie is mandatory.
type Options struct {
	BaseURL  string
	Cookie   string
	PageSize int
	// RequestsPerSecond and Burst bound the request rate client-side. The
	// server rate-limits aggressively, so staying polite is cheaper than
	// burning retry attempts on 429s.
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Client talks to the drive API. Safe for concurrent use.
type Client struct {
	http      *http.Client
	baseURL   string
	cookie    string
	userAgent string
	pageSize  int
	limiter   *rate.Limiter
	logger    *slog.Logger
}

var _ API = (*Client)(nil)

// New builds a Client from options.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = defaultRPS
	}
	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		http:      opts.HTTPClient,
		baseURL:   opts.BaseURL,
		cookie:    opts.Cookie,
		userAgent: defaultUserAgent,
		pageSize:  opts.PageSize,
		limiter:   rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		logger:    opts.Logger,
	}
}

func (c *Client) ListChildren(ctx context.Context, parentFid string) ([]domain.RemoteNode, error) {
	q := url.Values{
		"pdir_fid": {parentFid},
		"_page":    {"1"},
		"_size":    {strconv.Itoa(c.pageSize)},
		"_sort":    {"file_type:asc,updated_at:desc"},
	}
	var data sortData
	if err := c.request(ctx, "file/sort", http.MethodGet, "/file/sort", q, nil, &data); err != nil {
		return nil, err
	}
	return data.List, nil
}

func (c *Client) SubmitExtract(ctx context.Context, archiveFid, toDirFid string) (string, error) {
	payload := map[string]any{
		"fid":           archiveFid,
		"pwd":           "",
		"select_mode":   2,
		"path_no_list":  []int{1},
		"curr_path_no":  0,
		"remember_pwd":  false,
		"conflict_mode": 3,
		"suffix_type":   0,
		"to_pdir_fid":   toDirFid,
	}
	var data unarchiveData
	err := c.request(ctx, "archive/unarchive", http.MethodPost, "/archive/unarchive", nil, payload, &data)
	if err != nil {
		var be *businessError
		if errors.As(err, &be) {
			return "", &domain.SubmissionRejectedError{Code: be.Code, Message: be.Message}
		}
		return "", err
	}
	if data.TaskID == "" {
		return "", &domain.TransportError{Op: "archive/unarchive", Err: fmt.Errorf("response carried no task id")}
	}
	return data.TaskID, nil
}

func (c *Client) PollStatus(ctx context.Context, taskID string) (domain.ExtractStatus, error) {
	q := url.Values{"task_id": {taskID}}
	var data taskData
	if err := c.request(ctx, "task", http.MethodGet, "/task", q, nil, &data); err != nil {
		return domain.ExtractStatus{}, err
	}
	switch data.Status {
	case wireTaskQueued, wireTaskRunning:
		return domain.ExtractStatus{State: domain.ExtractPending}, nil
	case wireTaskDone:
		return domain.ExtractStatus{State: domain.ExtractDone, SavedFids: data.SaveAs.SaveAsTopFids}, nil
	default:
		reason := data.Message
		if reason == "" {
			reason = fmt.Sprintf("task status %d", data.Status)
		}
		return domain.ExtractStatus{State: domain.ExtractFailed, Reason: reason}, nil
	}
}

func (c *Client) MoveNodes(ctx context.Context, fids []string, toDirFid string) error {
	payload := map[string]any{
		"action_type":  1,
		"to_pdir_fid":  toDirFid,
		"filelist":     fids,
		"exclude_fids": []string{},
	}
	return c.request(ctx, "file/move", http.MethodPost, "/file/move", nil, payload, nil)
}

func (c *Client) DeleteNodes(ctx context.Context, fids []string) error {
	payload := map[string]any{
		"action_type":  2,
		"filelist":     fids,
		"exclude_fids": []string{},
	}
	return c.request(ctx, "file/delete", http.MethodPost, "/file/delete", nil, payload, nil)
}

func (c *Client) RenameNode(ctx context.Context, fid, newName string) error {
	payload := map[string]any{
		"fid":       fid,
		"file_name": newName,
	}
	return c.request(ctx, "file/rename", http.MethodPost, "/file/rename", nil, payload, nil)
}

// businessError is a non-zero envelope from an otherwise healthy HTTP
// exchange. Operations map it to the right taxonomy entry; unmapped it is
// terminal.
type businessError struct {
	Op      string
	Code    int
	Message string
}

func (e *businessError) Error() string {
	return fmt.Sprintf("%s: server rejected request (code %d): %s", e.Op, e.Code, e.Message)
}

// request performs one rate-limited round trip and decodes the envelope into
// out. Network failures, HTTP 5xx and 429, and malformed bodies come back as
// domain.TransportError; other HTTP statuses and business envelopes are
// terminal.
func (c *Client) request(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	q := url.Values{
		"pr":           {"ucpro"},
		"fr":           {"pc"},
		"uc_param_str": {""},
	}
	for k, vs := range query {
		q[k] = vs
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+q.Encode(), reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Cookie", c.cookie)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Origin", "https://pan.quark.cn")
	req.Header.Set("Referer", "https://pan.quark.cn/")
	if body != nil {
		req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	}
	tracing.InjectHeaders(ctx, req.Header)

	c.logger.Debug("drive api request", "op", op, "method", method, "path", path)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.DriveRequestsTotal.WithLabelValues(op, "transport_error").Inc()
		return &domain.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.DriveRequestsTotal.WithLabelValues(op, "transport_error").Inc()
		return &domain.TransportError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.Debug("drive api response", "op", op, "status", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("http %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			metrics.DriveRequestsTotal.WithLabelValues(op, "transport_error").Inc()
			return &domain.TransportError{Op: op, Err: err}
		}
		metrics.DriveRequestsTotal.WithLabelValues(op, "http_error").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.DriveRequestsTotal.WithLabelValues(op, "transport_error").Inc()
		return &domain.TransportError{Op: op, Err: fmt.Errorf("malformed response: %w", err)}
	}
	if env.Code != 0 && env.Status != 0 {
		metrics.DriveRequestsTotal.WithLabelValues(op, "rejected").Inc()
		return &businessError{Op: op, Code: env.Code, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			metrics.DriveRequestsTotal.WithLabelValues(op, "transport_error").Inc()
			return &domain.TransportError{Op: op, Err: fmt.Errorf("malformed data payload: %w", err)}
		}
	}
	metrics.DriveRequestsTotal.WithLabelValues(op, "ok").Inc()
	return nil
}
