package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v55/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/w3c/groups-server/internal/domain"
	apperrors "github.com/w3c/groups-server/internal/errors"
	"github.com/w3c/groups-server/internal/logging"
	"github.com/w3c/groups-server/internal/paging"
)

// githubCollector implements Collector using the GitHub REST and GraphQL APIs
type githubCollector struct {
	client   *github.Client
	graphql  *githubv4.Client
	limiter  RateLimiter
	retry    paging.RetryPolicy
	pageSize int
}

type options struct {
	apiURL      string
	graphqlURL  string
	httpClient  *http.Client
	rateLimiter RateLimiter
	retry       paging.RetryPolicy
	pageSize    int
}

// Option configures the GitHub collector
type Option func(*options)

// WithAPIURL sets the REST API base URL
func WithAPIURL(u string) Option {
	return func(o *options) { o.apiURL = u }
}

// WithGraphQLURL sets the GraphQL endpoint
func WithGraphQLURL(u string) Option {
	return func(o *options) { o.graphqlURL = u }
}

// WithHTTPClient sets the client whose transport carries the requests
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithRateLimiter replaces the default rate limiter
func WithRateLimiter(rl RateLimiter) Option {
	return func(o *options) { o.rateLimiter = rl }
}

// WithRetryPolicy sets how rate-limited requests are retried
func WithRetryPolicy(p paging.RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

// WithPageSize sets the number of repositories requested per GraphQL page
func WithPageSize(n int) Option {
	return func(o *options) { o.pageSize = n }
}

// NewGitHubCollector creates a new GitHub collector
func NewGitHubCollector(token string, opts ...Option) (Collector, error) {
	o := options{
		retry:    paging.DefaultRetryPolicy(),
		pageSize: 10,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rateLimiter == nil {
		o.rateLimiter = NewRateLimiter(1.2)
	}

	base := http.DefaultTransport
	if o.httpClient != nil && o.httpClient.Transport != nil {
		base = o.httpClient.Transport
	}
	httpClient := &http.Client{Transport: &rateLimitTransport{base: base, limiter: o.rateLimiter}}
	if token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		httpClient = oauth2.NewClient(ctx, ts)
	}

	client := github.NewClient(httpClient)
	if o.apiURL != "" {
		u := o.apiURL
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		baseURL, err := url.Parse(u)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL: %w", err)
		}
		client.BaseURL = baseURL
	}

	gql := githubv4.NewClient(httpClient)
	if o.graphqlURL != "" {
		gql = githubv4.NewEnterpriseClient(o.graphqlURL, httpClient)
	}

	return &githubCollector{
		client:   client,
		graphql:  gql,
		limiter:  o.rateLimiter,
		retry:    o.retry,
		pageSize: o.pageSize,
	}, nil
}

type repositoryNode struct {
	Name  string
	Owner struct {
		Login string
	}
	HomepageURL *string `graphql:"homepageUrl"`
	Description *string
	IsArchived  bool
	IsPrivate   bool
	Manifest    *struct {
		Blob struct {
			Text *string
		} `graphql:"... on Blob"`
	} `graphql:"w3cjson: object(expression: \"HEAD:w3c.json\")"`
}

type repositoryConnection struct {
	Nodes    []repositoryNode
	PageInfo struct {
		EndCursor   githubv4.String
		HasNextPage bool
	}
}

type organizationRepositoriesQuery struct {
	Organization struct {
		Repositories repositoryConnection `graphql:"repositories(first: $first, after: $cursor)"`
	} `graphql:"organization(login: $login)"`
}

type userRepositoriesQuery struct {
	User struct {
		Repositories repositoryConnection `graphql:"repositories(first: $first, after: $cursor)"`
	} `graphql:"user(login: $login)"`
}

// ListRepositories iterates over the repositories of an account.
// The account type is looked up before the first page.
func (c *githubCollector) ListRepositories(login string) *paging.Iterator[*domain.Repository] {
	var accountType string

	fetch := func(ctx context.Context, cursor *string) ([]*domain.Repository, paging.PageInfo, error) {
		if accountType == "" {
			t, err := c.accountType(ctx, login)
			if err != nil {
				return nil, paging.PageInfo{}, err
			}
			accountType = t
		}

		vars := map[string]any{
			"login":  githubv4.String(login),
			"first":  githubv4.Int(c.pageSize),
			"cursor": (*githubv4.String)(nil),
		}
		if cursor != nil {
			vars["cursor"] = githubv4.NewString(githubv4.String(*cursor))
		}

		var conn repositoryConnection
		if accountType == "user" {
			var q userRepositoriesQuery
			if err := c.graphql.Query(ctx, &q, vars); err != nil {
				return nil, paging.PageInfo{}, c.classifyQuery(err, "repositories of "+login)
			}
			conn = q.User.Repositories
		} else {
			var q organizationRepositoriesQuery
			if err := c.graphql.Query(ctx, &q, vars); err != nil {
				return nil, paging.PageInfo{}, c.classifyQuery(err, "repositories of "+login)
			}
			conn = q.Organization.Repositories
		}

		repos := make([]*domain.Repository, 0, len(conn.Nodes))
		for _, n := range conn.Nodes {
			repos = append(repos, n.toDomain())
		}
		return repos, paging.PageInfo{
			EndCursor:   string(conn.PageInfo.EndCursor),
			HasNextPage: conn.PageInfo.HasNextPage,
		}, nil
	}

	return paging.Cursor(fetch, c.retry)
}

func (n repositoryNode) toDomain() *domain.Repository {
	repo := &domain.Repository{
		Name:        n.Name,
		Owner:       domain.Owner{Login: n.Owner.Login},
		HomepageURL: deref(n.HomepageURL),
		Description: deref(n.Description),
		IsArchived:  n.IsArchived,
		IsPrivate:   n.IsPrivate,
	}
	if n.Manifest != nil && deref(n.Manifest.Blob.Text) != "" {
		text := *n.Manifest.Blob.Text
		repo.ManifestText = &text
	}
	return repo
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// accountType returns "organization" or "user"
func (c *githubCollector) accountType(ctx context.Context, login string) (string, error) {
	user, err := paging.Do(ctx, c.retry, func(ctx context.Context) (*github.User, error) {
		u, _, err := c.client.Users.Get(ctx, login)
		return u, classify(err, "account "+login)
	})
	if err != nil {
		return "", err
	}
	if strings.EqualFold(user.GetType(), "user") {
		return "user", nil
	}
	return "organization", nil
}

// GetRepository retrieves one repository and its manifest text
func (c *githubCollector) GetRepository(ctx context.Context, owner, name string) (*domain.Repository, error) {
	gh, err := paging.Do(ctx, c.retry, func(ctx context.Context) (*github.Repository, error) {
		r, _, err := c.client.Repositories.Get(ctx, owner, name)
		return r, classify(err, "repository "+owner+"/"+name)
	})
	if err != nil {
		return nil, err
	}

	repo := &domain.Repository{
		Name:        gh.GetName(),
		Owner:       domain.Owner{Login: gh.GetOwner().GetLogin()},
		HomepageURL: gh.GetHomepage(),
		Description: gh.GetDescription(),
		IsArchived:  gh.GetArchived(),
		IsPrivate:   gh.GetPrivate(),
	}

	file, err := c.GetFile(ctx, FileRef{Owner: repo.Owner.Login, Repo: repo.Name, Path: ManifestPath})
	switch {
	case err == nil:
		if text := string(file.Content); text != "" {
			repo.ManifestText = &text
		}
	case apperrors.IsNotFound(err):
	default:
		logging.FromContext(ctx).Warn().Err(err).Str("repository", repo.FullName()).Msg("could not read manifest")
	}
	return repo, nil
}

// GetFile retrieves a file. An empty branch reads the default branch.
func (c *githubCollector) GetFile(ctx context.Context, ref FileRef) (*File, error) {
	var opts *github.RepositoryContentGetOptions
	if ref.Branch != "" {
		opts = &github.RepositoryContentGetOptions{Ref: ref.Branch}
	}

	content, err := paging.Do(ctx, c.retry, func(ctx context.Context) (*github.RepositoryContent, error) {
		fc, _, _, err := c.client.Repositories.GetContents(ctx, ref.Owner, ref.Repo, ref.Path, opts)
		return fc, classify(err, ref.String())
	})
	if err != nil {
		return nil, err
	}
	if content == nil || content.GetType() != "file" {
		return nil, apperrors.NewBadRequestError(ref.String() + " is not a file")
	}

	text, err := content.GetContent()
	if err != nil {
		return nil, apperrors.NewUpstreamError("decode "+ref.String(), err)
	}
	return &File{SHA: content.GetSHA(), Content: []byte(text)}, nil
}

// PutFile creates or updates a file on a branch
func (c *githubCollector) PutFile(ctx context.Context, ref FileRef, message string, content []byte) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
	}
	if ref.Branch != "" {
		opts.Branch = github.String(ref.Branch)
	}

	current, err := c.GetFile(ctx, ref)
	switch {
	case err == nil:
		opts.SHA = github.String(current.SHA)
	case apperrors.IsNotFound(err):
	default:
		return fmt.Errorf("put %s: %w", ref, err)
	}

	_, err = paging.Do(ctx, c.retry, func(ctx context.Context) (*github.RepositoryContentResponse, error) {
		var (
			res *github.RepositoryContentResponse
			err error
		)
		if opts.SHA != nil {
			res, _, err = c.client.Repositories.UpdateFile(ctx, ref.Owner, ref.Repo, ref.Path, opts)
		} else {
			res, _, err = c.client.Repositories.CreateFile(ctx, ref.Owner, ref.Repo, ref.Path, opts)
		}
		return res, classify(err, "put "+ref.String())
	})
	return err
}

// classifyQuery maps GraphQL errors. GraphQL rate limits come back as a 200 response with
// a RATE_LIMITED error, so the reset time is taken from the headers the limiter recorded.
func (c *githubCollector) classifyQuery(err error, what string) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) || !strings.Contains(strings.ToLower(err.Error()), "rate limit") {
		return classify(err, what)
	}

	delay := secondaryRateLimitDelay
	if remaining, reset, cerr := c.limiter.CheckLimit(); cerr == nil && remaining == 0 {
		delay = max(time.Until(reset), time.Second)
	}
	return &apperrors.AppError{
		Code:       apperrors.ErrCodeRateLimited,
		Message:    what + ": rate limit exceeded",
		Err:        err,
		RetryAfter: delay,
	}
}

// classify maps client errors onto application errors
func classify(err error, what string) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return fmt.Errorf("%s: %w", what, err)
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &apperrors.AppError{
			Code:       apperrors.ErrCodeRateLimited,
			Message:    what + ": rate limit exceeded",
			Err:        err,
			RetryAfter: max(time.Until(rateErr.Rate.Reset.Time), time.Second),
		}
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		delay := secondaryRateLimitDelay
		if abuseErr.RetryAfter != nil {
			delay = *abuseErr.RetryAfter
		}
		return &apperrors.AppError{
			Code:       apperrors.ErrCodeRateLimited,
			Message:    what + ": secondary rate limit",
			Err:        err,
			RetryAfter: delay,
		}
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode == http.StatusNotFound {
		return &apperrors.AppError{Code: apperrors.ErrCodeNotFound, Message: what + " not found", Err: err}
	}

	return apperrors.NewUpstreamError(what, err)
}
