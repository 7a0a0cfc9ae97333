package hosting

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/splax/sitesmith/internal/domain"
	"github.com/splax/sitesmith/pkg/config"
)

// ErrMisconfigured replaces provider auth errors so credential state never
// leaks to callers.
var ErrMisconfigured = errors.New("hosting: service misconfigured")

// Deployment ready states reported by the provider.
const (
	StateReady    = "READY"
	StateError    = "ERROR"
	StateCanceled = "CANCELED"
)

// APIError represents a non-auth error response from the provider, surfaced
// verbatim.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("hosting request failed with status %d", e.Status)
	}
	return fmt.Sprintf("hosting request failed (%d): %s", e.Status, e.Message)
}

// IsConflict reports whether err is the provider's "already exists" answer.
func IsConflict(err error) bool {
	var apiErr APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

// FileRef identifies an uploaded file by content digest for deployment
// creation.
type FileRef struct {
	File string `json:"file"`
	SHA  string `json:"sha"`
	Size int    `json:"size"`
}

// Deployment is the provider's view of one deployment.
type Deployment struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	ReadyState string `json:"readyState"`
}

// Project is the provider's view of one hosting project.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client provides typed access to the deployment provider API.
type Client struct {
	baseURL    string
	token      string
	teamID     string
	httpClient *http.Client
	logger     *slog.Logger
}

// New constructs a provider client from service configuration.
func New(cfg config.APIConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.HostingAPIURL, "/"),
		token:      cfg.HostingToken,
		teamID:     cfg.HostingTeamID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, body any, v any) error {
	endpoint := c.baseURL + path
	if c.teamID != "" {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		endpoint += sep + "teamId=" + url.QueryEscape(c.teamID)
	}
	var reader io.Reader
	contentType := ""
	switch payload := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(payload)
		contentType = "application/octet-stream"
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.logger.Error("hosting provider rejected credentials", "status", resp.StatusCode, "path", path)
		return ErrMisconfigured
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error.Message == "" {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error.Message)
}

// Digest returns the provider's content address for a file.
func Digest(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

// UploadFile uploads one file content-addressed. A conflict response means
// the content is already present and is not an error.
func (c *Client) UploadFile(ctx context.Context, file domain.GeneratedFile) (FileRef, error) {
	digest := Digest(file.Content)
	headers := map[string]string{
		"x-vercel-digest": digest,
	}
	err := c.do(ctx, http.MethodPost, "/v2/files", headers, []byte(file.Content), nil)
	if err != nil && !IsConflict(err) {
		return FileRef{}, fmt.Errorf("upload %s: %w", file.Path, err)
	}
	return FileRef{File: file.Path, SHA: digest, Size: len(file.Content)}, nil
}

// EnsureProject creates the named hosting project, or fetches it when it
// already exists.
func (c *Client) EnsureProject(ctx context.Context, name string) (Project, error) {
	var project Project
	err := c.do(ctx, http.MethodPost, "/v9/projects", nil, map[string]string{"name": name}, &project)
	if err == nil {
		return project, nil
	}
	if !IsConflict(err) {
		return Project{}, err
	}
	if err := c.do(ctx, http.MethodGet, "/v9/projects/"+url.PathEscape(name), nil, nil, &project); err != nil {
		return Project{}, err
	}
	return project, nil
}

// CreateDeployment creates a deployment from previously uploaded file
// digests.
func (c *Client) CreateDeployment(ctx context.Context, projectName string, refs []FileRef) (Deployment, error) {
	body := map[string]any{
		"name":    projectName,
		"files":   refs,
		"target":  "production",
		"project": projectName,
	}
	var deployment Deployment
	if err := c.do(ctx, http.MethodPost, "/v13/deployments", nil, body, &deployment); err != nil {
		return Deployment{}, err
	}
	return deployment, nil
}

// GetDeployment polls deployment status by id.
func (c *Client) GetDeployment(ctx context.Context, deploymentID string) (Deployment, error) {
	var deployment Deployment
	if err := c.do(ctx, http.MethodGet, "/v13/deployments/"+url.PathEscape(deploymentID), nil, nil, &deployment); err != nil {
		return Deployment{}, err
	}
	return deployment, nil
}

// WaitForReady polls at a fixed interval under a hard ceiling until the
// deployment is ready. No backoff: publish latency matters more than provider
// politeness here.
func (c *Client) WaitForReady(ctx context.Context, deploymentID string, interval, ceiling time.Duration) (Deployment, error) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if ceiling <= 0 {
		ceiling = 2 * time.Minute
	}
	var deployment Deployment
	backoff := retry.WithMaxDuration(ceiling, retry.NewConstant(interval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		current, err := c.GetDeployment(ctx, deploymentID)
		if err != nil {
			return err
		}
		deployment = current
		switch current.ReadyState {
		case StateReady:
			return nil
		case StateError, StateCanceled:
			return fmt.Errorf("deployment %s entered state %s", deploymentID, current.ReadyState)
		default:
			return retry.RetryableError(fmt.Errorf("deployment %s not ready: %s", deploymentID, current.ReadyState))
		}
	})
	if err != nil {
		return deployment, err
	}
	return deployment, nil
}

// AddProjectDomain assigns a domain to a hosting project. "Already assigned"
// is not an error.
func (c *Client) AddProjectDomain(ctx context.Context, projectID, domainName string) error {
	path := "/v10/projects/" + url.PathEscape(projectID) + "/domains"
	err := c.do(ctx, http.MethodPost, path, nil, map[string]string{"name": domainName}, nil)
	if err != nil && !IsConflict(err) {
		return err
	}
	return nil
}

// RemoveProjectDomain detaches a domain from a hosting project.
func (c *Client) RemoveProjectDomain(ctx context.Context, projectID, domainName string) error {
	path := "/v9/projects/" + url.PathEscape(projectID) + "/domains/" + url.PathEscape(domainName)
	err := c.do(ctx, http.MethodDelete, path, nil, nil, nil)
	if err != nil {
		var apiErr APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil
		}
		return err
	}
	return nil
}

// DeleteProject removes a hosting project entirely.
func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	err := c.do(ctx, http.MethodDelete, "/v9/projects/"+url.PathEscape(projectID), nil, nil, nil)
	if err != nil {
		var apiErr APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil
		}
		return err
	}
	return nil
}

// Reachable reports whether a deployed URL answers at all. Used to decide
// whether an existing preview can be reused.
func (c *Client) Reachable(ctx context.Context, target string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
