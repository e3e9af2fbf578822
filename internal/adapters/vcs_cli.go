package adapters

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"flakepin/internal/ports"
	"flakepin/internal/shared"
	"flakepin/internal/types"
)

// DefaultVCSTimeout bounds one git or hg invocation.
const DefaultVCSTimeout = 5 * time.Minute

// killGrace is how long a killed client may hold its output pipes open.
const killGrace = 2 * time.Second

// GitCLIAdapter shells out to the git client. Every invocation runs under
// Timeout.
type GitCLIAdapter struct {
	Binary  string
	Timeout time.Duration
}

func NewGitCLIAdapter() GitCLIAdapter {
	return GitCLIAdapter{Binary: "git", Timeout: DefaultVCSTimeout}
}

func (a GitCLIAdapter) ListRefs(ctx context.Context, url string, filter string) ([]types.RemoteRef, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("remote url is empty")
	}
	args := []string{"ls-remote", url}
	if filter != "" {
		pattern := filter
		if strings.HasSuffix(pattern, "/") {
			pattern += "*"
		}
		args = append(args, pattern)
	}
	output, err := a.output(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseLsRemote(output), nil
}

// Clone checks out exactly rev into targetDir. targetDir must not exist; it
// is removed again when any step fails.
func (a GitCLIAdapter) Clone(ctx context.Context, url string, rev string, branch string, targetDir string) error {
	if strings.TrimSpace(targetDir) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("clone target directory is empty")
	}
	if strings.TrimSpace(rev) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("clone of %s needs a rev", url))
	}
	if _, err := os.Stat(targetDir); err == nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeAlreadyExists).
			WithMsg(fmt.Sprintf("clone target %s already exists", targetDir))
	} else if !errors.Is(err, os.ErrNotExist) {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("cannot inspect clone target %s", targetDir)).
			WithCause(err)
	}
	steps := [][]string{{"clone", url, targetDir}}
	if branch != "" {
		steps = append(steps, []string{"-C", targetDir, "checkout", branch})
	}
	steps = append(steps, []string{"-C", targetDir, "reset", "--hard", rev})
	for _, args := range steps {
		if _, err := a.output(ctx, args...); err != nil {
			if rmErr := os.RemoveAll(targetDir); rmErr != nil {
				log.Ctx(ctx).Warn().Err(rmErr).Str("dir", targetDir).Msg("failed to remove partial clone")
			}
			return err
		}
	}
	return nil
}

func (a GitCLIAdapter) output(ctx context.Context, args ...string) (string, error) {
	binary := a.Binary
	if binary == "" {
		binary = "git"
	}
	output, err := runWithTimeout(ctx, a.Timeout, func(ctx context.Context) *exec.Cmd {
		cmd := exec.CommandContext(ctx, binary, args...)
		cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
		return cmd
	})
	if err != nil {
		return "", vcsError("git "+args[0], a.Timeout, output, err)
	}
	return string(output), nil
}

// runWithTimeout runs the command built by build under a deadline. A zero
// timeout falls back to DefaultVCSTimeout.
func runWithTimeout(ctx context.Context, timeout time.Duration, build func(context.Context) *exec.Cmd) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultVCSTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := build(ctx)
	cmd.WaitDelay = killGrace
	output, err := cmd.CombinedOutput()
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return output, context.DeadlineExceeded
	}
	return output, err
}

func vcsError(what string, timeout time.Duration, output []byte, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		if timeout <= 0 {
			timeout = DefaultVCSTimeout
		}
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("%s timed out after %s", what, timeout)).
			WithCause(err)
	}
	return errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(fmt.Sprintf("%s failed", what)).
		WithCause(shared.CommandError(output, err))
}

// parseLsRemote reads "<hash>\t<refname>" lines and skips anything else.
func parseLsRemote(output string) []types.RemoteRef {
	var refs []types.RemoteRef
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		hash, name, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "\t")
		if !ok || hash == "" || name == "" {
			continue
		}
		refs = append(refs, types.RemoteRef{Hash: hash, Name: strings.TrimSpace(name)})
	}
	return refs
}

// MercurialCLIAdapter shells out to the hg client. It only answers the tip
// of a repository.
type MercurialCLIAdapter struct {
	Binary  string
	Timeout time.Duration
}

func NewMercurialCLIAdapter() MercurialCLIAdapter {
	return MercurialCLIAdapter{Binary: "hg", Timeout: DefaultVCSTimeout}
}

func (a MercurialCLIAdapter) ListRefs(ctx context.Context, url string, filter string) ([]types.RemoteRef, error) {
	if filter != "" && filter != "tip" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("mercurial refs can only be listed for tip, not %q", filter))
	}
	binary := a.Binary
	if binary == "" {
		binary = "hg"
	}
	output, err := runWithTimeout(ctx, a.Timeout, func(ctx context.Context) *exec.Cmd {
		return exec.CommandContext(ctx, binary, "--debug", "identify", "-i", "-r", "tip", url)
	})
	if err != nil {
		return nil, vcsError("hg identify", a.Timeout, output, err)
	}
	hash := lastLine(string(output))
	if hash == "" {
		return nil, nil
	}
	return []types.RemoteRef{{Hash: hash, Name: "tip"}}, nil
}

// lastLine skips the debug chatter hg prints before the answer.
func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

var _ ports.RemoteRefsPort = GitCLIAdapter{}
var _ ports.ClonePort = GitCLIAdapter{}
var _ ports.RemoteRefsPort = MercurialCLIAdapter{}
