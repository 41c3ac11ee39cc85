// Package push publishes container images to a registry through the docker
// CLI. Each push runs inside its own login session that is always closed.
package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/loykin/piperun/internal/command"
	"github.com/loykin/piperun/internal/common"
	"github.com/loykin/piperun/pkg/stage"
)

// ErrLogin wraps a failed registry login.
var ErrLogin = errors.New("registry login failed")

// ImageRef names an image repository, optionally on a specific registry.
type ImageRef struct {
	Registry string
	Image    string
}

// RefFor builds the ImageRef and tag of a push stage.
func RefFor(p stage.Push) (ImageRef, string) {
	tag := strings.TrimSpace(p.Tag)
	if tag == "" {
		tag = "latest"
	}
	return ImageRef{Registry: strings.TrimSpace(p.Registry), Image: strings.TrimSpace(p.Image)}, tag
}

// Name returns the repository path docker expects, prefixed with the
// registry host unless the image already carries it.
func (r ImageRef) Name() string {
	if r.Registry == "" || strings.HasPrefix(r.Image, r.Registry+"/") {
		return r.Image
	}
	return strings.TrimSuffix(r.Registry, "/") + "/" + r.Image
}

// Session is the credential and process context of one push.
type Session struct {
	Username string
	Password string
	// Env is the process environment for docker invocations.
	Env    []string
	Dir    string
	Output io.Writer
}

// Pusher pushes ref:tag inside sess. A nonzero exit of the push itself is
// reported through Result.ExitCode, not as an error.
type Pusher interface {
	Push(ctx context.Context, ref ImageRef, tag string, sess Session) (command.Result, error)
}

// Docker is the docker CLI Pusher. Login state goes to a private
// DOCKER_CONFIG directory that is removed after the push.
type Docker struct {
	Runner command.Runner
	Binary string
	logger *common.Logger
}

// NewDocker returns a Docker pusher using r.
func NewDocker(r command.Runner) *Docker {
	if r == nil {
		r = command.NewExecRunner()
	}
	return &Docker{Runner: r, Binary: "docker", logger: common.GetLogger().WithComponent("push")}
}

func (d *Docker) Push(ctx context.Context, ref ImageRef, tag string, sess Session) (command.Result, error) {
	if strings.TrimSpace(ref.Image) == "" {
		return command.Result{ExitCode: -1}, errors.New("push: image is required")
	}
	if sess.Username == "" || sess.Password == "" {
		return command.Result{ExitCode: -1}, errors.New("push: registry credentials are required")
	}
	cfgDir, err := os.MkdirTemp("", "piperun-docker-")
	if err != nil {
		return command.Result{ExitCode: -1}, fmt.Errorf("push: session dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(cfgDir) }()

	env := append(append([]string(nil), sess.Env...), "DOCKER_CONFIG="+cfgDir)
	full := ref.Name() + ":" + tag
	logger := d.logger.With("image", full)
	start := time.Now()

	login := command.Invocation{
		Name:   d.Binary,
		Args:   loginArgs(ref.Registry, sess.Username),
		Env:    env,
		Dir:    sess.Dir,
		Stdin:  strings.NewReader(sess.Password),
		Output: sess.Output,
	}
	res, err := d.Runner.Run(ctx, login)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrLogin, err)
	}
	if res.ExitCode != 0 {
		logger.Warn("registry login rejected", "exit_code", res.ExitCode)
		return res, fmt.Errorf("%w: exit code %d", ErrLogin, res.ExitCode)
	}
	defer func() {
		out := command.Invocation{Name: d.Binary, Args: logoutArgs(ref.Registry), Env: env, Dir: sess.Dir}
		if r, err := d.Runner.Run(context.WithoutCancel(ctx), out); err != nil || r.ExitCode != 0 {
			logger.Warn("registry logout failed", "exit_code", r.ExitCode, "error", err)
		}
	}()

	res, err = d.Runner.Run(ctx, command.Invocation{
		Name:   d.Binary,
		Args:   []string{"push", full},
		Env:    env,
		Dir:    sess.Dir,
		Output: sess.Output,
	})
	res.Duration = time.Since(start)
	if err == nil {
		logger.Info("image push finished", "exit_code", res.ExitCode, "duration", res.Duration)
	}
	return res, err
}

func loginArgs(registry, user string) []string {
	args := []string{"login", "--username", user, "--password-stdin"}
	if registry != "" {
		args = append(args, registry)
	}
	return args
}

func logoutArgs(registry string) []string {
	if registry == "" {
		return []string{"logout"}
	}
	return []string{"logout", registry}
}
