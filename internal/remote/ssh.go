package remote

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// SSHRunner implements Runner by shelling out to the ssh and scp commands.
type SSHRunner struct {
	host         string
	user         string
	port         int
	identityFile string
}

// NewSSHRunner creates a runner that executes commands on the given host
// over SSH. user, port and identityFile are optional; zero values fall
// back to the SSH client defaults.
func NewSSHRunner(host, user string, port int, identityFile string) (*SSHRunner, error) {
	if host == "" {
		return nil, fmt.Errorf("ssh runner requires a host")
	}
	return &SSHRunner{
		host:         host,
		user:         user,
		port:         port,
		identityFile: identityFile,
	}, nil
}

// Run executes a command on the remote host and returns its combined output.
func (r *SSHRunner) Run(ctx context.Context, argv ...string) (string, error) {
	return r.exec(ctx, argv)
}

// Sudo executes a command on the remote host with elevated privileges. The
// command argv is passed to sudo unchanged so that sudoers grants written
// against the exact argument vector keep matching.
func (r *SSHRunner) Sudo(ctx context.Context, argv ...string) (string, error) {
	return r.exec(ctx, append([]string{"sudo", "-n", "--"}, argv...))
}

// Exists reports whether the given remote path exists. A non-zero exit
// status from test is "does not exist", not an error; only transport
// failures are reported as errors.
func (r *SSHRunner) Exists(ctx context.Context, path string) (bool, error) {
	cmd := exec.CommandContext(ctx, "ssh", r.sshArgs(quoteArgv([]string{"test", "-e", path}))...)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("existence check for %s failed: %w", path, err)
	}
	return true, nil
}

// Put uploads a local path to a remote path using scp. A trailing "/*" in
// the local path is expanded locally so that the directory contents are
// uploaded instead of the directory itself.
func (r *SSHRunner) Put(ctx context.Context, localPath, remotePath string, opts PutOptions) error {
	sources := []string{localPath}
	if strings.ContainsAny(localPath, "*?[") {
		matches, err := filepath.Glob(localPath)
		if err != nil {
			return fmt.Errorf("invalid glob %q: %w", localPath, err)
		}
		if len(matches) == 0 {
			return fmt.Errorf("glob %q matched no local files", localPath)
		}
		sources = matches
	}

	args := []string{"-r", "-q"}
	if opts.PreserveMode {
		args = append(args, "-p")
	}
	if r.port != 0 {
		args = append(args, "-P", strconv.Itoa(r.port))
	}
	if r.identityFile != "" {
		args = append(args, "-i", r.identityFile)
	}
	args = append(args, sources...)
	args = append(args, r.target()+":"+remotePath)

	cmd := exec.CommandContext(ctx, "scp", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("scp %s to %s failed: %w: %s", localPath, remotePath, err, string(output))
	}
	return nil
}

// exec runs argv on the remote host via ssh and returns combined output.
func (r *SSHRunner) exec(ctx context.Context, argv []string) (string, error) {
	cmd := exec.CommandContext(ctx, "ssh", r.sshArgs(quoteArgv(argv))...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("remote command %q failed: %w: %s",
			strings.Join(argv, " "), err, string(output))
	}
	return string(output), nil
}

// sshArgs builds the ssh client argument list for the given remote command.
func (r *SSHRunner) sshArgs(remoteCmd string) []string {
	args := []string{"-o", "BatchMode=yes"}
	if r.port != 0 {
		args = append(args, "-p", strconv.Itoa(r.port))
	}
	if r.identityFile != "" {
		args = append(args, "-i", r.identityFile)
	}
	args = append(args, r.target(), "--", remoteCmd)
	return args
}

// target returns the [user@]host destination for ssh and scp.
func (r *SSHRunner) target() string {
	if r.user == "" {
		return r.host
	}
	return r.user + "@" + r.host
}

// quoteArgv renders an argument vector as a single command string in which
// every element is individually quoted. The remote sshd always hands the
// command to a shell, so quoting each element preserves the original
// argument boundaries.
func quoteArgv(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = shellQuote(arg)
	}
	return strings.Join(quoted, " ")
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
