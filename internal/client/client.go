// Package client talks to the studio backend: it starts and stops datasource
// runs, executes ad hoc SQL and creates dashboard widgets.
//
// The client never retries. Failed calls return an *APIError carrying the
// backend's status, code and message.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/dataframe"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/logger"
)

const (
	// HeaderAPIKey carries the API key credential.
	HeaderAPIKey = "X-API-Key"
	// HeaderRequestID correlates a request with backend logs.
	HeaderRequestID = "X-Request-ID"

	defaultTimeout = 30 * time.Second
)

// Options configures a Client.
type Options struct {
	ServerURL string
	APIKey    string
	// Timeout bounds non-streaming calls. Streams are bounded by their
	// context only.
	Timeout time.Duration
	// UserAgent defaults to "studio-cli".
	UserAgent string
	Logger    *slog.Logger
	// HTTPClient replaces the underlying transport, mostly for tests.
	HTTPClient *http.Client
}

// Client is a studio backend client. It is safe for concurrent use.
type Client struct {
	http    *resty.Client
	log     *slog.Logger
	timeout time.Duration
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(opts.ServerURL, "/")
	if base == "" {
		return nil, errors.New("server URL is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", opts.ServerURL, err)
	}

	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	agent := opts.UserAgent
	if agent == "" {
		agent = "studio-cli"
	}

	var rc *resty.Client
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(base).
		SetHeader("User-Agent", agent).
		SetHeader("Accept", "application/json")
	if opts.APIKey != "" {
		rc.SetHeader(HeaderAPIKey, opts.APIKey)
	}

	c := &Client{http: rc, log: log, timeout: timeout}
	rc.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if r.Header.Get(HeaderRequestID) == "" {
			r.SetHeader(HeaderRequestID, uuid.NewString())
		}
		return nil
	})
	rc.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		c.log.Debug("api call",
			logger.Scope("client"),
			slog.String("method", resp.Request.Method),
			slog.String("url", resp.Request.URL),
			slog.Int("status", resp.StatusCode()),
			slog.Duration("elapsed", resp.Time()),
			slog.String("request_id", resp.Request.Header.Get(HeaderRequestID)),
		)
		return nil
	})
	return c, nil
}

// Datasource is a connected datasource or assistant.
type Datasource struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Section is a dashboard section that holds widgets.
type Section struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Dashboard is a shareable collection of widgets.
type Dashboard struct {
	ID       string    `json:"id" yaml:"id"`
	Name     string    `json:"name" yaml:"name"`
	Sections []Section `json:"sections,omitempty" yaml:"sections,omitempty"`
}

// SQLResult is the answer of an ad hoc SQL execution.
type SQLResult struct {
	Dataframe           dataframe.Frame `json:"dataframe"`
	VisualizationConfig json.RawMessage `json:"visualization_config,omitempty"`
}

// WidgetRequest pins a query to a dashboard section.
type WidgetRequest struct {
	Label                   string          `json:"label"`
	SQLCmd                  string          `json:"sql_cmd"`
	DatasourceID            string          `json:"datasource_id"`
	DataVisualizationConfig json.RawMessage `json:"data_visualization_config"`
}

// Widget is a created dashboard widget.
type Widget struct {
	ID        string `json:"id" yaml:"id"`
	Label     string `json:"label" yaml:"label"`
	SectionID string `json:"section_id,omitempty" yaml:"section_id,omitempty"`
}

// StartRun asks question against datasourceID and returns the run's event
// stream. The stream lives as long as ctx.
func (c *Client) StartRun(ctx context.Context, datasourceID, question string) (*Stream, error) {
	if datasourceID == "" {
		return nil, errors.New("datasource ID is required")
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "text/event-stream").
		SetBody(map[string]string{"user_query": question}).
		SetDoNotParseResponse(true).
		Post("/api/datasources/" + url.PathEscape(datasourceID) + "/runs")
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	body := resp.RawBody()
	if resp.StatusCode() >= http.StatusBadRequest {
		defer body.Close()
		data, _ := io.ReadAll(io.LimitReader(body, 1<<20))
		apiErr := ParseErrorBody(resp.StatusCode(), data)
		apiErr.RequestID = resp.Request.Header.Get(HeaderRequestID)
		return nil, apiErr
	}

	c.log.Debug("run stream opened", logger.Scope("client"), slog.String("datasource_id", datasourceID))
	return newStream(ctx, body, c.log), nil
}

// StopRun asks the backend to stop runID. Events already received are not
// affected; the stream ends once the backend closes it.
func (c *Client) StopRun(ctx context.Context, datasourceID, runID string) error {
	if datasourceID == "" || runID == "" {
		return errors.New("datasource ID and run ID are required")
	}
	path := "/api/datasources/" + url.PathEscape(datasourceID) + "/runs/" + url.PathEscape(runID) + "/stop"
	return c.do(ctx, http.MethodPost, path, nil, nil, nil)
}

// ExecuteSQL runs query and returns limit rows starting at skip.
func (c *Client) ExecuteSQL(ctx context.Context, datasourceID, query string, skip, limit int) (*SQLResult, error) {
	if datasourceID == "" {
		return nil, errors.New("datasource ID is required")
	}
	params := map[string]string{
		"skip":  strconv.Itoa(skip),
		"limit": strconv.Itoa(limit),
	}
	var out SQLResult
	path := "/api/datasources/" + url.PathEscape(datasourceID) + "/sql"
	if err := c.do(ctx, http.MethodPost, path, params, map[string]string{"query": query}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateWidget adds a widget to a dashboard section.
func (c *Client) CreateWidget(ctx context.Context, dashboardID, sectionID string, req WidgetRequest) (*Widget, error) {
	if dashboardID == "" || sectionID == "" {
		return nil, errors.New("dashboard ID and section ID are required")
	}
	if len(req.DataVisualizationConfig) == 0 {
		req.DataVisualizationConfig = json.RawMessage("{}")
	}
	var out Widget
	path := "/api/dashboards/" + url.PathEscape(dashboardID) + "/sections/" + url.PathEscape(sectionID) + "/widgets"
	if err := c.do(ctx, http.MethodPost, path, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDatasources returns the datasources visible to the API key.
func (c *Client) ListDatasources(ctx context.Context) ([]Datasource, error) {
	var out []Datasource
	if err := c.list(ctx, "/api/datasources", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListDashboards returns the dashboards visible to the API key.
func (c *Client) ListDashboards(ctx context.Context) ([]Dashboard, error) {
	var out []Dashboard
	if err := c.list(ctx, "/api/dashboards", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// list accepts a bare array or an {"items": [...]} envelope.
func (c *Client) list(ctx context.Context, path string, out any) error {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &raw); err != nil {
		return err
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var env struct {
			Items json.RawMessage `json:"items"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		raw = env.Items
		if len(raw) == 0 {
			raw = env.Data
		}
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := c.http.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr := ParseErrorBody(resp.StatusCode(), resp.Body())
		apiErr.RequestID = resp.Request.Header.Get(HeaderRequestID)
		return apiErr
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
