// Package github is a small GitHub REST client covering commit statuses,
// gists and reference listing.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"serf-ci/src/refs"
)

var (
	ErrInvalidRepoURL = errors.New("invalid GitHub repository")
	ErrAuthFailed     = errors.New("authentication failed")
	ErrNotFound       = errors.New("not found")
)

// Commit status states accepted by GitHub.
const (
	StatePending = "pending"
	StateSuccess = "success"
	StateFailure = "failure"
	StateError   = "error"
)

// StatusDescription is the label serf attaches to every commit status.
const StatusDescription = "Serf Build Server"

var nwoPattern = regexp.MustCompile(`^(?:(?:https?|ssh|git)://(?:[^@/]+@)?[^/]+/|[^@/]+@[^:/]+:)?([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+?)(?:\.git)?/?$`)

// Status is one commit status update.
type Status struct {
	State       string `json:"state"`
	TargetURL   string `json:"target_url,omitempty"`
	Description string `json:"description,omitempty"`
	Context     string `json:"context,omitempty"`
}

// Client is a GitHub REST API client
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new GitHub client. An empty token sends unauthenticated requests.
func NewClient(token string) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: "https://api.github.com",
	}
}

// ParseNwo extracts "owner/repo" from an https, ssh or plain owner/repo reference.
func ParseNwo(repoURL string) (string, error) {
	matches := nwoPattern.FindStringSubmatch(strings.TrimSpace(repoURL))
	if matches == nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidRepoURL, repoURL)
	}
	return matches[1] + "/" + matches[2], nil
}

// PostCommitStatus sets the status of sha in repository nwo.
func (c *Client) PostCommitStatus(ctx context.Context, nwo, sha string, status Status) error {
	url := fmt.Sprintf("%s/repos/%s/statuses/%s", c.baseURL, nwo, sha)
	return c.do(ctx, "POST", url, status, nil)
}

// CreateGist creates a public gist holding files (name -> content) and returns its HTML URL.
func (c *Client) CreateGist(ctx context.Context, description string, files map[string]string) (string, error) {
	type gistFile struct {
		Content string `json:"content"`
	}
	payload := struct {
		Description string              `json:"description"`
		Public      bool                `json:"public"`
		Files       map[string]gistFile `json:"files"`
	}{
		Description: description,
		Public:      true,
		Files:       make(map[string]gistFile, len(files)),
	}
	for name, content := range files {
		payload.Files[name] = gistFile{Content: content}
	}

	var gist struct {
		HTMLURL string `json:"html_url"`
	}
	if err := c.do(ctx, "POST", c.baseURL+"/gists", payload, &gist); err != nil {
		return "", err
	}
	return gist.HTMLURL, nil
}

type branch struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

type pullRequest struct {
	Number int `json:"number"`
	Head   struct {
		SHA string `json:"sha"`
	} `json:"head"`
}

// ListRefs returns every branch head followed by every open pull request head
// of repository nwo. Pull requests are named by their full ref,
// "refs/pull/N/head", so a branch called "pull/N" stays distinct.
func (c *Client) ListRefs(ctx context.Context, nwo string) (refs.Snapshot, error) {
	var snapshot refs.Snapshot

	err := c.paginate(ctx, fmt.Sprintf("%s/repos/%s/branches", c.baseURL, nwo), func(body io.Reader) (int, error) {
		var page []branch
		if err := json.NewDecoder(body).Decode(&page); err != nil {
			return 0, err
		}
		for _, b := range page {
			snapshot = append(snapshot, refs.Reference{Name: b.Name, Object: refs.Object{SHA: b.Commit.SHA}})
		}
		return len(page), nil
	})
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}

	err = c.paginate(ctx, fmt.Sprintf("%s/repos/%s/pulls?state=open", c.baseURL, nwo), func(body io.Reader) (int, error) {
		var page []pullRequest
		if err := json.NewDecoder(body).Decode(&page); err != nil {
			return 0, err
		}
		for _, pr := range page {
			snapshot = append(snapshot, refs.Reference{
				Name:   fmt.Sprintf("refs/pull/%d/head", pr.Number),
				Object: refs.Object{SHA: pr.Head.SHA},
			})
		}
		return len(page), nil
	})
	if err != nil {
		return nil, fmt.Errorf("list pull requests: %w", err)
	}

	return snapshot, nil
}

// paginate walks pages of at most perPage entries until a short page arrives.
func (c *Client) paginate(ctx context.Context, url string, decode func(io.Reader) (int, error)) error {
	const perPage = 100 // GitHub's max per page

	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}

	for page := 1; ; page++ {
		pageURL := fmt.Sprintf("%s%sper_page=%d&page=%d", url, sep, perPage, page)

		resp, err := c.send(ctx, "GET", pageURL, nil)
		if err != nil {
			return err
		}

		n, err := decode(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}
		if n < perPage {
			return nil
		}
	}
}

func (c *Client) do(ctx context.Context, method, url string, payload, out interface{}) error {
	resp, err := c.send(ctx, method, url, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// send performs the request and turns any non-2xx response into an error.
func (c *Client) send(ctx context.Context, method, url string, payload interface{}) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		apiErr := fmt.Errorf("GitHub API error %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, fmt.Errorf("%w: %w", ErrAuthFailed, apiErr)
		case http.StatusNotFound:
			return nil, fmt.Errorf("%w: %w", ErrNotFound, apiErr)
		}
		return nil, apiErr
	}

	return resp, nil
}
