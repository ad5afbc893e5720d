package gitops

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// OpenPullRequest opens a pull request for the pushed fix branch and
// returns its URL. The call is not idempotent: a retry after an
// ambiguous failure could open a duplicate PR, so callers treat any
// error here as terminal for the run.
func (c *Client) OpenPullRequest(ctx context.Context, owner, repo, branch, base, title, body string) (string, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.token})
	gh := github.NewClient(oauth2.NewClient(ctx, ts))
	if c.APIBase != "" {
		u, err := url.Parse(c.APIBase + "/")
		if err != nil {
			return "", &DeliveryError{Err: err}
		}
		gh.BaseURL = u
	}

	pr, _, err := gh.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(branch),
		Base:  github.String(base),
		Body:  github.String(body),
	})
	if err != nil {
		return "", &DeliveryError{Err: fmt.Errorf("create pull request: %w", err)}
	}

	return pr.GetHTMLURL(), nil
}
