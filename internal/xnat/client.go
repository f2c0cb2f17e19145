// Package xnat implements archive.Catalog on XNAT's REST API.
package xnat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sourcegraph/conc/iter"
	"github.com/tidwall/gjson"

	"github.com/Joeycho/xnat-dicomweb-proxy/internal/archive"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/models"
)

const (
	contentTypeJSON = "application/json"

	// detail requests in flight per SessionsByField call
	detailFetchers = 4
)

// Client manages communication with the XNAT REST API.
type Client struct {
	BaseURL    string
	httpClient *http.Client

	// service account used for callers that sent no credentials
	serviceUser models.User
}

// NewClient creates a new XNAT API client with a default HTTP client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return NewClientWithHttpClient(baseURL, &http.Client{Timeout: timeout})
}

// NewClientWithHttpClient creates a new XNAT API client with a specific
// *http.Client, typically one with an instrumented transport.
func NewClientWithHttpClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

// WithServiceAccount sets the credentials used on behalf of guest callers.
func (c *Client) WithServiceAccount(name, password string) *Client {
	c.serviceUser = models.User{Name: name, Password: password}
	return c
}

// Project implements archive.Catalog.
func (c *Client) Project(ctx context.Context, user models.User, projectID string) (*models.Project, error) {
	if projectID == "" {
		return nil, archive.ErrNotFound
	}
	body, err := c.get(ctx, user, "/data/projects/"+url.PathEscape(projectID), nil)
	if err != nil {
		return nil, err
	}

	fields := gjson.GetBytes(body, "items.0.data_fields")
	if !fields.Exists() {
		return nil, archive.ErrNotFound
	}
	return &models.Project{
		ID:   fields.Get("ID").String(),
		Name: fields.Get("name").String(),
	}, nil
}

// SessionsByField implements archive.Catalog. Matching sessions are listed
// first and their details are then fetched concurrently, keeping list order.
// A session whose details cannot be fetched is left out of the result.
func (c *Client) SessionsByField(ctx context.Context, user models.User, field, value string) ([]models.Session, error) {
	if field != archive.FieldSessionUID && field != archive.FieldSessionProject {
		return nil, fmt.Errorf("%w: %s", archive.ErrUnsupportedField, field)
	}

	query := url.Values{}
	query.Set("xsiType", "xnat:imageSessionData")
	query.Set("columns", "ID,project,label,UID")
	query.Set(field, value)
	body, err := c.get(ctx, user, "/data/experiments", query)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, row := range gjson.GetBytes(body, "ResultSet.Result").Array() {
		if id := row.Get("ID").String(); id != "" {
			ids = append(ids, id)
		}
	}
	slog.DebugContext(ctx, "Listed XNAT sessions", "field", field, "value", value, "count", len(ids))
	if len(ids) == 0 {
		return []models.Session{}, nil
	}

	mapper := iter.Mapper[string, sessionResult]{MaxGoroutines: detailFetchers}
	results := mapper.Map(ids, func(id *string) sessionResult {
		s, err := c.session(ctx, user, *id)
		return sessionResult{id: *id, session: s, err: err}
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sessions := make([]models.Session, 0, len(results))
	for _, r := range results {
		switch {
		case r.err == nil:
			sessions = append(sessions, r.session)
		case errors.Is(r.err, archive.ErrNotFound):
			slog.DebugContext(ctx, "Skipping unreadable XNAT session", "experimentID", r.id)
		default:
			slog.WarnContext(ctx, "Skipping XNAT session", "experimentID", r.id, "error", r.err)
		}
	}
	return sessions, nil
}

type sessionResult struct {
	id      string
	session models.Session
	err     error
}

// session fetches one experiment with its scans and resources.
func (c *Client) session(ctx context.Context, user models.User, experimentID string) (models.Session, error) {
	body, err := c.get(ctx, user, "/data/experiments/"+url.PathEscape(experimentID), nil)
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to get session %s: %w", experimentID, err)
	}
	item := gjson.GetBytes(body, "items.0")
	if !item.Exists() {
		return models.Session{}, fmt.Errorf("session %s: %w", experimentID, archive.ErrNotFound)
	}
	return parseSession(item), nil
}

func parseSession(item gjson.Result) models.Session {
	df := item.Get("data_fields")
	s := models.Session{
		ID:        df.Get("ID").String(),
		UID:       df.Get("UID").String(),
		SubjectID: df.Get("subject_ID").String(),
		Label:     df.Get("label").String(),
		Date:      df.Get("date").String(),
		Project:   df.Get("project").String(),
	}
	for _, scanItem := range item.Get(`children.#(field=="scans/scan").items`).Array() {
		sdf := scanItem.Get("data_fields")
		scan := models.Scan{
			ID:          sdf.Get("ID").String(),
			UID:         sdf.Get("UID").String(),
			Modality:    sdf.Get("modality").String(),
			Description: firstNonEmpty(sdf.Get("series_description").String(), sdf.Get("type").String()),
		}
		for _, file := range scanItem.Get(`children.#(field=="file").items`).Array() {
			fdf := file.Get("data_fields")
			scan.Resources = append(scan.Resources, models.Resource{
				Label:    fdf.Get("label").String(),
				Location: fdf.Get("URI").String(),
			})
		}
		s.Scans = append(s.Scans, scan)
	}
	return s
}

// get performs an authenticated GET and returns the body of a 200 response.
// Denial and absence both map to archive.ErrNotFound.
func (c *Client) get(ctx context.Context, user models.User, path string, query url.Values) ([]byte, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("format", "json")
	targetURL := c.BaseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request to %s: %w", path, err)
	}
	req.Header.Set("Accept", contentTypeJSON)
	if creds := c.credentials(user); creds.Name != "" {
		req.SetBasicAuth(creds.Name, creds.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.ErrorContext(ctx, "XNAT client failed to execute request", "path", path, "error", err)
		return nil, fmt.Errorf("failed to execute request to %s: %w", path, err)
	}
	defer resp.Body.Close()

	logAttrs := []any{"path", path, "statusCode", resp.StatusCode}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusForbidden, http.StatusUnauthorized:
		slog.DebugContext(ctx, "XNAT denied or lacks entity", logAttrs...)
		return nil, archive.ErrNotFound
	default:
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		logAttrs = append(logAttrs, "responseBody", string(bodyBytes))
		slog.ErrorContext(ctx, "XNAT returned non-OK status", logAttrs...)
		return nil, fmt.Errorf("xnat returned non-OK status %d for %s", resp.StatusCode, path)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body from %s: %w", path, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON from %s", path)
	}
	return body, nil
}

func (c *Client) credentials(user models.User) models.User {
	if user.IsGuest() || user.Name == "" {
		return c.serviceUser
	}
	return user
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
