package gitsource

import (
	"net/url"
	"strings"

	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"panopticon/internal/repoerr"
)

// NormalizeURL validates a repository identifier and rewrites it into
// the https form used for cloning. Accepted inputs are http(s) URLs and
// scp-like identifiers (git@host:owner/repo), both with or without the
// .git suffix.
func NormalizeURL(raw string) (string, error) {
	const op = "gitsource.NormalizeURL"

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", repoerr.New(repoerr.KindInvalidInput, op, "repository URL is empty")
	}

	// scp-like form: git@host:owner/repo(.git)
	if rest, ok := strings.CutPrefix(raw, "git@"); ok {
		host, repoPath, found := strings.Cut(rest, ":")
		if !found || host == "" {
			return "", repoerr.New(repoerr.KindInvalidInput, op, "invalid repository URL %q", raw)
		}
		if err := validateRepoPath(op, repoPath); err != nil {
			return "", err
		}
		return "https://" + host + "/" + strings.TrimSuffix(strings.Trim(repoPath, "/"), ".git") + ".git", nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", repoerr.New(repoerr.KindInvalidInput, op, "invalid repository URL %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", repoerr.New(repoerr.KindInvalidInput, op, "unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", repoerr.New(repoerr.KindInvalidInput, op, "repository URL %q has no host", raw)
	}
	if u.User != nil {
		// Credentials travel via the auth config, never inside the URL.
		return "", repoerr.New(repoerr.KindInvalidInput, op, "repository URL must not embed credentials")
	}
	if err := validateRepoPath(op, u.Path); err != nil {
		return "", err
	}

	normalized := u.Scheme + "://" + u.Host + "/" + strings.TrimSuffix(strings.Trim(u.Path, "/"), ".git") + ".git"
	return normalized, nil
}

func validateRepoPath(op, repoPath string) error {
	trimmed := strings.TrimSuffix(strings.Trim(repoPath, "/"), ".git")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return repoerr.New(repoerr.KindInvalidInput, op, "repository path %q must be namespace/project", repoPath)
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return repoerr.New(repoerr.KindInvalidInput, op, "repository path %q has empty segments", repoPath)
		}
	}
	return nil
}

// tokenAuth builds the HTTP basic auth for a personal access token.
// GitLab expects the literal username "oauth2" with the token as
// password; GitHub ignores the username. An empty token means
// anonymous access.
func tokenAuth(token string) *githttp.BasicAuth {
	if token == "" {
		return nil
	}
	return &githttp.BasicAuth{
		Username: "oauth2",
		Password: token,
	}
}
