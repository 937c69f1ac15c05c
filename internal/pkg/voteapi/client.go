package voteapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("votexport.voteapi")

// maxErrorBody caps how much of an error response is kept for diagnostics.
const maxErrorBody = 512

type Client struct {
	baseURL    *url.URL
	client     *http.Client
	dataSource string
}

type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithDataSource sets the dataSource filter of the submission listing.
func WithDataSource(source string) ClientOption {
	return func(c *Client) {
		c.dataSource = source
	}
}

// New returns a client for the API rooted at baseURL.
func New(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, errors.Annotatef(err, "parsing base URL %q", baseURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.NotValidf("base URL %q", baseURL)
	}

	c := &Client{
		baseURL:    u,
		client:     &http.Client{Timeout: 60 * time.Second},
		dataSource: "Coalition",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// UseDefaultClient routes requests through http.DefaultClient.
func (c *Client) UseDefaultClient() {
	c.client = http.DefaultClient
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Authenticate logs in and returns the bearer token for subsequent calls.
func (c *Client) Authenticate(ctx context.Context, email, password string) (Token, error) {
	body, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return "", &AuthError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/auth/login", nil), bytes.NewReader(body))
	if err != nil {
		return "", &AuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &AuthError{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &AuthError{StatusCode: resp.StatusCode, Err: errors.New(truncate(buf))}
	}

	var out loginResponse
	if err := json.Unmarshal(buf, &out); err != nil {
		return "", &AuthError{StatusCode: resp.StatusCode, Err: errors.Annotate(err, "decoding login response")}
	}
	if out.Token == "" {
		return "", &AuthError{StatusCode: resp.StatusCode, Err: errors.New("no token in login response")}
	}

	logger.Infof("logged in as %s", email)
	return Token(out.Token), nil
}

// ListSubmissions returns one page of submissions and whether more pages follow.
// Pages are 1-based.
func (c *Client) ListSubmissions(ctx context.Context, token Token, electionID string, page, pageSize int) ([]SubmissionSummary, bool, error) {
	q := url.Values{}
	q.Set("pageNumber", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	if c.dataSource != "" {
		q.Set("dataSource", c.dataSource)
	}

	var out Page[SubmissionSummary]
	p := fmt.Sprintf("/api/election-rounds/%s/form-submissions:byEntry", electionID)
	if err := c.getJSON(ctx, token, "list submissions", p, q, &out); err != nil {
		return nil, false, err
	}

	logger.Debugf("submissions page %d: %d items", page, len(out.Items))
	return out.Items, out.HasMore(page, pageSize), nil
}

// ListQuickReports returns one page of quick reports and whether more pages follow.
func (c *Client) ListQuickReports(ctx context.Context, token Token, electionID string, page, pageSize int) ([]QuickReport, bool, error) {
	q := url.Values{}
	q.Set("pageNumber", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))

	var out Page[QuickReport]
	p := fmt.Sprintf("/api/election-rounds/%s/quick-reports", electionID)
	if err := c.getJSON(ctx, token, "list quick reports", p, q, &out); err != nil {
		return nil, false, err
	}

	logger.Debugf("quick reports page %d: %d items", page, len(out.Items))
	return out.Items, out.HasMore(page, pageSize), nil
}

// GetSubmission fetches the full submission including answers, notes and attachments.
func (c *Client) GetSubmission(ctx context.Context, token Token, electionID, submissionID string) (*Submission, error) {
	var out Submission
	p := fmt.Sprintf("/api/election-rounds/%s/form-submissions/%s:v2", electionID, submissionID)
	if err := c.getJSON(ctx, token, "get submission "+submissionID, p, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetForm fetches a form definition.
func (c *Client) GetForm(ctx context.Context, token Token, electionID, formID string) (*Form, error) {
	var out Form
	p := fmt.Sprintf("/api/election-rounds/%s/forms/%s", electionID, formID)
	if err := c.getJSON(ctx, token, "get form "+formID, p, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadAttachment fetches the attachment body. The bearer token is only
// sent to the API host; presigned storage URLs carry their own credentials.
func (c *Client) DownloadAttachment(ctx context.Context, token Token, ref AttachmentRef) ([]byte, error) {
	if ref.URL == "" {
		return nil, &AttachmentError{AttachmentID: ref.ID, Err: errors.NotFoundf("download URL")}
	}

	u, err := url.Parse(ref.URL)
	if err != nil {
		return nil, &AttachmentError{AttachmentID: ref.ID, StatusCode: http.StatusNotFound, Err: err}
	}
	if !u.IsAbs() {
		u = c.baseURL.ResolveReference(u)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &AttachmentError{AttachmentID: ref.ID, StatusCode: http.StatusNotFound, Err: err}
	}
	if u.Host == c.baseURL.Host {
		req.Header.Set("Authorization", "Bearer "+string(token))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &AttachmentError{AttachmentID: ref.ID, Err: err}
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AttachmentError{AttachmentID: ref.ID, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &AttachmentError{AttachmentID: ref.ID, StatusCode: resp.StatusCode, Err: errors.New(truncate(buf))}
	}

	return buf, nil
}

func (c *Client) endpoint(p string, q url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + p
	u.RawPath = ""
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) getJSON(ctx context.Context, token Token, op, p string, q url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(p, q), nil)
	if err != nil {
		return errors.Annotate(err, op)
	}
	req.Header.Set("Authorization", "Bearer "+string(token))
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Annotate(err, op)
	}
	defer resp.Body.Close()

	// TODO: stream the listing body once pages grow beyond a few MB
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Annotate(err, op)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: truncate(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Annotatef(err, "%s: decoding response", op)
	}
	return nil
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
