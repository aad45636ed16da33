package remote

import "context"

// PutOptions controls how Put transfers a local path to the remote host.
type PutOptions struct {
	// PreserveMode carries the local file permission bits over to the
	// uploaded remote file.
	PreserveMode bool
}

// Runner is the sole channel to the remote host. Commands are argument
// vectors, never wrapped in a remote shell by this layer: a privileged
// command must observe the exact same argv as the issuing process, since
// shell wrapping can strip previously granted sudo scoping.
type Runner interface {
	// Run executes a command on the remote host without elevated
	// privileges and returns its combined output.
	Run(ctx context.Context, argv ...string) (string, error)
	// Sudo executes a command on the remote host with elevated privileges
	// and returns its combined output.
	Sudo(ctx context.Context, argv ...string) (string, error)
	// Exists reports whether the given remote path exists.
	Exists(ctx context.Context, path string) (bool, error)
	// Put uploads a local path to a remote path. A trailing "/*" glob in
	// the local path uploads the directory contents rather than the
	// directory itself.
	Put(ctx context.Context, localPath, remotePath string, opts PutOptions) error
}
