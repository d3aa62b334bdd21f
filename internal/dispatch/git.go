package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/classgrade/gradepipe/internal/config"
	gradeerrors "github.com/classgrade/gradepipe/internal/grade_errors"
	"github.com/classgrade/gradepipe/internal/types"
)

// GitDispatcher delivers by pushing the graded payload to a branch of the
// student's repository. Every dispatch works in a throwaway clone, so a
// crashed delivery leaves nothing behind to confuse the next attempt.
type GitDispatcher struct {
	cfg    *config.DispatchConfig
	tokens TokenSource
}

var _ Dispatcher = (*GitDispatcher)(nil)

func NewGitDispatcher(cfg *config.DispatchConfig, tokens TokenSource) *GitDispatcher {
	return &GitDispatcher{cfg: cfg, tokens: tokens}
}

func (d *GitDispatcher) Dispatch(
	ctx context.Context,
	sub *types.Submission,
	verdict *types.Verdict,
	repoURL string,
) (*Receipt, error) {
	ctx, span := tracer.Start(ctx, "GitDispatcher.Dispatch")
	defer span.End()

	span.SetAttributes(
		attribute.String("submission.fingerprint", sub.Fingerprint),
		attribute.String("submission.assignment_id", sub.AssignmentID),
		attribute.String("repo.url", repoURL),
	)

	auth, err := d.basicAuth(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "failed to build push credentials")
		span.RecordError(err)
		return nil, gradeerrors.DispatchErrorWrap(true, err)
	}

	tmp, err := os.MkdirTemp("", "dispatch-"+sub.ShortFingerprint()+"-*")
	if err != nil {
		span.SetStatus(codes.Error, "failed to create clone dir")
		span.RecordError(err)
		return nil, gradeerrors.DispatchErrorWrap(true, err)
	}
	defer os.RemoveAll(tmp)

	span.AddEvent("cloning target repo")
	repo, err := d.clone(ctx, repoURL, tmp, auth)
	if err != nil {
		span.SetStatus(codes.Error, "failed to clone target repo")
		span.RecordError(err)
		return nil, classify(err)
	}

	branch := d.cfg.BranchPrefix + sub.AssignmentID
	refName := plumbing.NewBranchReferenceName(branch)
	span.SetAttributes(attribute.String("delivery.branch", branch))

	wt, err := repo.Worktree()
	if err != nil {
		span.SetStatus(codes.Error, "failed to open worktree")
		span.RecordError(err)
		return nil, gradeerrors.DispatchErrorWrap(true, err)
	}

	if err := checkoutBranch(repo, wt, branch, refName); err != nil {
		span.SetStatus(codes.Error, "failed to check out delivery branch")
		span.RecordError(err)
		return nil, gradeerrors.DispatchErrorWrap(true, err)
	}

	span.AddEvent("staging graded payload")
	if err := replacePayload(tmp, sub); err != nil {
		span.SetStatus(codes.Error, "failed to stage graded payload")
		span.RecordError(err)
		// Nothing about the remote can fix a payload that does not fit
		// the assignment directory.
		return nil, gradeerrors.DispatchErrorWrap(false, err)
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		span.SetStatus(codes.Error, "failed to stage changes")
		span.RecordError(err)
		return nil, gradeerrors.DispatchErrorWrap(true, err)
	}

	sha, err := d.commit(wt, repo, sub, verdict)
	if err != nil {
		span.SetStatus(codes.Error, "failed to commit graded payload")
		span.RecordError(err)
		return nil, gradeerrors.DispatchErrorWrap(true, err)
	}

	span.AddEvent("pushing delivery branch")
	pushOpts := &git.PushOptions{
		RemoteName: git.DefaultRemoteName,
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec(fmt.Sprintf("+%s:%s", refName, refName)),
		},
	}
	if auth != nil {
		pushOpts.Auth = auth
	}
	if err := repo.PushContext(ctx, pushOpts); err != nil &&
		!errors.Is(err, git.NoErrAlreadyUpToDate) {
		span.SetStatus(codes.Error, "failed to push delivery branch")
		span.RecordError(err)
		return nil, classify(err)
	}

	receipt := &Receipt{
		Target:    repoURL,
		Branch:    branch,
		CommitSHA: sha.String(),
	}

	if d.cfg.OpenPullRequest {
		prURL, err := d.ensurePullRequest(ctx, repoURL, branch, sub, verdict)
		if err != nil {
			span.SetStatus(codes.Error, "failed to ensure pull request")
			span.RecordError(err)
			return nil, err
		}
		receipt.PullRequestURL = prURL
	}

	span.SetAttributes(attribute.String("delivery.commit_sha", receipt.CommitSHA))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "delivered graded submission")
	return receipt, nil
}

// basicAuth builds the credential the way github expects app and personal
// tokens to be used over https: any username, token as the password.
func (d *GitDispatcher) basicAuth(ctx context.Context) (*githttp.BasicAuth, error) {
	if d.tokens == nil {
		return nil, nil
	}

	token, err := d.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to mint push token: %w", err)
	}

	return &githttp.BasicAuth{
		Username: "token",
		Password: token,
	}, nil
}

func (d *GitDispatcher) clone(
	ctx context.Context,
	repoURL, path string,
	auth *githttp.BasicAuth,
) (*git.Repository, error) {
	opts := &git.CloneOptions{URL: repoURL}
	if auth != nil {
		opts.Auth = auth
	}

	repo, err := git.PlainCloneContext(ctx, path, false, opts)
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		// Fresh student repo without an initial commit. Build the first
		// commit locally and let the push create the branch.
		return initLocal(path, repoURL)
	}
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func initLocal(path, repoURL string) (*git.Repository, error) {
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, err
	}

	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: git.DefaultRemoteName,
		URLs: []string{repoURL},
	})
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// checkoutBranch puts the worktree on the delivery branch. On a freshly
// initialized repository HEAD is pointed at the unborn branch so the first
// commit lands there. On a cloned one the branch starts at the previous
// delivery when the remote carries one, else at the clone's HEAD; older
// deliveries stay reachable as parents.
func checkoutBranch(repo *git.Repository, wt *git.Worktree, branch string, refName plumbing.ReferenceName) error {
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return repo.Storer.SetReference(
			plumbing.NewSymbolicReference(plumbing.HEAD, refName),
		)
	}
	if err != nil {
		return err
	}

	start := head.Hash()
	remote := plumbing.NewRemoteReferenceName(git.DefaultRemoteName, branch)
	if ref, err := repo.Reference(remote, true); err == nil {
		start = ref.Hash()
	}

	opts := &git.CheckoutOptions{Branch: refName, Force: true}
	if _, err := repo.Reference(refName, false); errors.Is(err, plumbing.ErrReferenceNotFound) {
		opts.Hash = start
		opts.Create = true
	}
	return wt.Checkout(opts)
}

// replacePayload swaps the assignment directory for the submission's
// canonical payload. The wipe matters: a file the student dropped between
// submissions must not survive from an earlier delivery.
func replacePayload(root string, sub *types.Submission) error {
	dir := filepath.Join(root, sub.AssignmentID)
	if err := os.RemoveAll(dir); err != nil {
		return err
	}

	for _, file := range sub.Files {
		dest := filepath.Join(dir, filepath.FromSlash(file.Path))
		if !strings.HasPrefix(dest, dir+string(os.PathSeparator)) {
			return fmt.Errorf("payload path %q escapes the assignment dir", file.Path)
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(dest, file.Data, 0644); err != nil {
			return err
		}
	}
	return nil
}

// commit records the staged payload with the student as author and the
// pipeline as committer. A clean worktree means the branch head already
// carries this exact tree, so the existing head is the receipt.
func (d *GitDispatcher) commit(
	wt *git.Worktree,
	repo *git.Repository,
	sub *types.Submission,
	verdict *types.Verdict,
) (plumbing.Hash, error) {
	status, err := wt.Status()
	if err != nil {
		return plumbing.ZeroHash, err
	}

	if status.IsClean() {
		head, err := repo.Head()
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return head.Hash(), nil
	}

	return wt.Commit(commitMessage(sub, verdict), &git.CommitOptions{
		Author: &object.Signature{
			Name:  sub.StudentName,
			Email: sub.StudentEmail,
			When:  sub.ReceivedAt,
		},
		Committer: &object.Signature{
			Name:  d.cfg.CommitterName,
			Email: d.cfg.CommitterEmail,
			When:  time.Now(),
		},
	})
}

// commitMessage keeps the subject grep friendly: assignment, then the short
// fingerprint graders see everywhere else.
func commitMessage(sub *types.Submission, verdict *types.Verdict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: graded submission %s\n\n", sub.AssignmentID, sub.ShortFingerprint())
	fmt.Fprintf(&b, "Student: %s\n", sub.StudentID)
	fmt.Fprintf(&b, "Status: %s\n", verdict.Status)
	fmt.Fprintf(&b, "Fingerprint: %s\n", sub.Fingerprint)
	return b.String()
}

// classify maps transport failures onto the retry contract. Bad credentials
// and missing repositories stay broken no matter how often we retry, anything
// else is assumed to be network weather.
func classify(err error) error {
	switch {
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed),
		errors.Is(err, transport.ErrRepositoryNotFound):
		return gradeerrors.DispatchErrorWrap(false, err)
	default:
		return gradeerrors.DispatchErrorWrap(true, err)
	}
}
