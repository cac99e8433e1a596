// Package github lists the repositories owned by a user via the GitHub
// REST API.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v67/github"
)

const (
	defaultListTimeout = 30 * time.Second

	// one listing request per page, a page ceiling guards against a
	// remote which never returns an empty page
	listPageSize = 100
	maxListPages = 100
)

// ErrInvalidResponse is returned when the listing endpoint replies with
// something that is not a well-formed repository list.
var ErrInvalidResponse = errors.New("server returned an invalid response")

// Lister queries the repository listing endpoint of the hosting API.
type Lister struct {
	client *gh.Client
	log    *slog.Logger
}

// NewLister creates a lister for the given API base URL. An empty apiURL
// means the public GitHub API, a zero timeout means the default of 30s.
// The timeout bounds each listing request so a hung request cannot hang
// the whole run.
func NewLister(apiURL string, timeout time.Duration, log *slog.Logger) (*Lister, error) {
	if timeout == 0 {
		timeout = defaultListTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	client := gh.NewClient(&http.Client{Timeout: timeout})
	if apiURL != "" {
		// client requires base URL with a trailing slash
		base, err := url.Parse(strings.TrimSuffix(apiURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid api url '%s': %w", apiURL, err)
		}
		client.BaseURL = base
	}

	return &Lister{client: client, log: log}, nil
}

// ListUserRepositories returns the deduplicated set of names of all
// repositories owned by the given user. It pages through the listing
// endpoint until a page comes back empty. Hitting the page ceiling is
// logged and the names collected so far are returned.
func (l *Lister) ListUserRepositories(ctx context.Context, user string) (map[string]struct{}, error) {
	endpoint := fmt.Sprintf("%susers/%s/repos", l.client.BaseURL, user)

	repos := make(map[string]struct{})
	for page := 1; ; page++ {
		if page > maxListPages {
			l.log.Error("got too many repositories, skipping the rest of the pages",
				"url", endpoint, "max-pages", maxListPages)
			break
		}

		opt := &gh.RepositoryListByUserOptions{
			// only repos owned by the user, not collaborations
			Type:        "owner",
			ListOptions: gh.ListOptions{Page: page, PerPage: listPageSize},
		}
		list, _, err := l.client.Repositories.ListByUser(ctx, user, opt)
		if err != nil {
			return nil, fmt.Errorf("failed to get a list of user repositories from %s page %d: %w",
				endpoint, page, classifyListError(err))
		}

		// an empty page signals the end of the listing
		if len(list) == 0 {
			break
		}

		// the API may in theory repeat entries across pages, collecting
		// into a set makes sure a name is only synced once
		for _, repo := range list {
			if name := repo.GetName(); name != "" {
				repos[name] = struct{}{}
			}
		}
	}

	return repos, nil
}

// classifyListError maps client errors onto the lister's taxonomy:
// a decode failure means the server did not return a repository list,
// an error response carries the HTTP status, anything else is a
// transport failure and is passed through.
func classifyListError(err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return ErrInvalidResponse
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return fmt.Errorf("server returned %s", respErr.Response.Status)
	}

	return err
}
