package dispatch

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v66/github"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/classgrade/gradepipe/internal/config"
	gradeerrors "github.com/classgrade/gradepipe/internal/grade_errors"
	"github.com/classgrade/gradepipe/internal/logger"
	"github.com/classgrade/gradepipe/internal/types"
)

// AppClient authenticates as a github app. App credentials can only mint
// tokens and read app metadata; repo access always goes through a minted
// installation token.
type AppClient struct {
	appClient *github.Client
}

func CreateAppClient(appID int64, keyPath string) (*AppClient, error) {
	githubAppKey, err := readPKCS1PrivateKey(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read github app private key: %w", err)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.HTTPClient.Transport = ghinstallation.NewAppsTransportFromPrivateKey(
		client.HTTPClient.Transport,
		appID,
		githubAppKey,
	)

	return &AppClient{appClient: github.NewClient(client.StandardClient())}, nil
}

func (c *AppClient) CreateInstallationToken(
	ctx context.Context,
	installationID int64,
) (*github.InstallationToken, error) {
	ctx, span := tracer.Start(ctx, "CreateInstallationToken")
	defer span.End()

	span.SetAttributes(attribute.Int64("installation.id", installationID))

	token, _, err := c.appClient.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get installation token")
		return nil, fmt.Errorf("failed to get the installation token: %w", err)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "successfully got installation token")
	return token, nil
}

// InstallationTokenSource mints a fresh installation token per use. Tokens
// are short lived, caching one across deliveries is not worth the expiry
// bookkeeping.
type InstallationTokenSource struct {
	client         *AppClient
	installationID int64
}

var _ TokenSource = (*InstallationTokenSource)(nil)

func (s *InstallationTokenSource) Token(ctx context.Context) (string, error) {
	token, err := s.client.CreateInstallationToken(ctx, s.installationID)
	if err != nil {
		return "", err
	}
	return token.GetToken(), nil
}

// TokenSourceFromConfig picks the credential mode the operator configured: a
// static personal access token when one is set, otherwise a github app
// installation. A nil github section yields a nil source, which still pushes
// to open and local remotes.
func TokenSourceFromConfig(cfg *config.GithubConfig) (TokenSource, error) {
	if cfg == nil {
		return nil, nil
	}

	if cfg.Token != "" {
		return StaticToken(cfg.Token), nil
	}

	if cfg.AppID == nil || cfg.AppKeyPath == nil || cfg.InstallationID == nil {
		return nil, errors.New(
			"github dispatch needs a token or app_id, app_key_path and installation_id",
		)
	}

	client, err := CreateAppClient(*cfg.AppID, *cfg.AppKeyPath)
	if err != nil {
		return nil, err
	}

	return &InstallationTokenSource{
		client:         client,
		installationID: *cfg.InstallationID,
	}, nil
}

// ensurePullRequest opens a pull request from the delivery branch into the
// configured base unless one is already open. Re-dispatching a fingerprint
// must not pile up duplicate pull requests.
func (d *GitDispatcher) ensurePullRequest(
	ctx context.Context,
	repoURL, branch string,
	sub *types.Submission,
	verdict *types.Verdict,
) (string, error) {
	ctx, span := tracer.Start(ctx, "ensurePullRequest")
	defer span.End()

	if d.tokens == nil {
		err := errors.New("open_pull_request requires github credentials")
		span.SetStatus(codes.Error, "no credentials for pull request")
		span.RecordError(err)
		return "", gradeerrors.DispatchErrorWrap(false, err)
	}

	owner, repo, err := ownerRepo(repoURL)
	if err != nil {
		span.SetStatus(codes.Error, "target is not a github repo url")
		span.RecordError(err)
		return "", gradeerrors.DispatchErrorWrap(false, err)
	}

	token, err := d.tokens.Token(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "failed to mint api token")
		span.RecordError(err)
		return "", gradeerrors.DispatchErrorWrap(true, err)
	}

	span.SetAttributes(
		attribute.String("repo.owner", owner),
		attribute.String("repo.name", repo),
		attribute.String("pr.head", branch),
		attribute.String("pr.base", d.cfg.PullRequestBase),
	)

	client := github.NewClient(nil).WithAuthToken(token)

	span.AddEvent("checking for an open pull request")
	open, _, err := client.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		State: "open",
		Head:  owner + ":" + branch,
		Base:  d.cfg.PullRequestBase,
	})
	if err != nil {
		span.SetStatus(codes.Error, "failed to list pull requests")
		span.RecordError(err)
		return "", gradeerrors.DispatchErrorWrap(true, err)
	}
	if len(open) > 0 {
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "pull request already open")
		return open[0].GetHTMLURL(), nil
	}

	span.AddEvent("opening pull request")
	pr, _, err := client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(fmt.Sprintf(
			"%s: graded submission %s", sub.AssignmentID, sub.ShortFingerprint(),
		)),
		Head: github.String(branch),
		Base: github.String(d.cfg.PullRequestBase),
		Body: github.String(commitMessage(sub, verdict)),
	})
	if err != nil {
		span.SetStatus(codes.Error, "failed to create pull request")
		span.RecordError(err)
		return "", gradeerrors.DispatchErrorWrap(true, err)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "opened pull request")
	return pr.GetHTMLURL(), nil
}

// ownerRepo pulls the owner and repository name out of a remote URL by
// taking the last two path segments and stripping the ".git" suffix.
func ownerRepo(input string) (string, string, error) {
	parsedURL, err := url.Parse(input)
	if err != nil {
		return "", "", err
	}

	segments := strings.Split(strings.Trim(parsedURL.Path, "/"), "/")
	if len(segments) < 2 {
		return "", "", fmt.Errorf("cannot tell owner and repo apart in %q", input)
	}

	owner := segments[len(segments)-2]
	repo := strings.TrimSuffix(segments[len(segments)-1], ".git")
	if owner == "" || repo == "" {
		return "", "", fmt.Errorf("cannot tell owner and repo apart in %q", input)
	}
	return owner, repo, nil
}

func readPKCS1PrivateKey(keyFilePath string) (*rsa.PrivateKey, error) {
	l := logger.Logger.With("keyFilePath", keyFilePath)
	l.Info("Reading Github application private key file")
	keyData, err := os.ReadFile(keyFilePath)
	if err != nil {
		return nil, err
	}

	l.Info("Decoding private key content")
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, errors.New("error decoding PEM for GithubAppKey")
	}

	l.Info("Reading private key content")
	parsedKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	return parsedKey, err
}
