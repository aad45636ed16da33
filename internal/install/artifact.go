package install

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"time"

	"github.com/schaermu/shipway/internal/project"
	"github.com/schaermu/shipway/internal/remote"
)

// Download retry policy for the default HTTP artifact downloader.
const (
	defaultDownloadRetries = 3
	defaultDownloadDelay   = 5 * time.Second
)

// LocalArtifact uploads a single locally built artifact, such as a JAR or
// a tarball, into the release directory. File permission bits are carried
// over from the local file.
type LocalArtifact struct {
	paths      project.Paths
	localPath  string
	remoteName string
	runner     remote.Runner
}

// NewLocalArtifact creates a local-artifact installation for the project
// rooted at base. When remoteName is non-empty the artifact is renamed to
// it on upload.
func NewLocalArtifact(base, localPath, remoteName string, runner remote.Runner) (*LocalArtifact, error) {
	paths, err := project.NewPaths(base)
	if err != nil {
		return nil, err
	}

	if localPath == "" {
		return nil, fmt.Errorf("%w: local artifact path is required", project.ErrInvalidArgument)
	}

	return &LocalArtifact{
		paths:      paths,
		localPath:  localPath,
		remoteName: remoteName,
		runner:     runner,
	}, nil
}

// Install uploads the artifact into the release directory.
func (l *LocalArtifact) Install(ctx context.Context, releaseID string) error {
	releasePath := l.paths.Release(releaseID)
	if err := ensureReleaseDir(ctx, l.runner, releasePath); err != nil {
		return err
	}

	dest := releasePath
	if l.remoteName != "" {
		dest = path.Join(releasePath, l.remoteName)
	}

	if err := l.runner.Put(ctx, l.localPath, dest, remote.PutOptions{PreserveMode: true}); err != nil {
		return fmt.Errorf("failed to upload %s: %w", l.localPath, err)
	}
	return nil
}

// Downloader fetches a URL to a destination path on the remote host.
type Downloader func(ctx context.Context, url, dest string) error

// HTTPArtifactOptions holds the optional configuration of an HTTPArtifact
// installation.
type HTTPArtifactOptions struct {
	// RemoteName overrides the destination filename derived from the URL.
	RemoteName string
	// Downloader overrides the default retried remote fetch.
	Downloader Downloader
	// MaxRetries and RetryDelay tune the default downloader; ignored when
	// a Downloader override is set.
	MaxRetries int
	RetryDelay time.Duration
}

// HTTPArtifact downloads an artifact from a URL directly onto the remote
// host into the release directory.
type HTTPArtifact struct {
	paths      project.Paths
	url        string
	remoteName string
	download   Downloader
	runner     remote.Runner
}

// NewHTTPArtifact creates an HTTP-artifact installation for the project
// rooted at base. The destination filename is taken from the URL path
// unless opts.RemoteName is set; a URL without a filename segment is
// rejected at construction time.
func NewHTTPArtifact(base, rawURL string, opts HTTPArtifactOptions, runner remote.Runner, logger *slog.Logger) (*HTTPArtifact, error) {
	paths, err := project.NewPaths(base)
	if err != nil {
		return nil, err
	}

	if rawURL == "" {
		return nil, fmt.Errorf("%w: artifact URL is required", project.ErrInvalidArgument)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed artifact URL %q: %v", project.ErrInvalidArgument, rawURL, err)
	}

	remoteName := opts.RemoteName
	if remoteName == "" {
		remoteName = path.Base(parsed.Path)
		if remoteName == "" || remoteName == "." || remoteName == "/" {
			return nil, fmt.Errorf("%w: artifact URL %q has no filename segment", project.ErrInvalidArgument, rawURL)
		}
	}

	download := opts.Downloader
	if download == nil {
		maxRetries := opts.MaxRetries
		if maxRetries <= 0 {
			maxRetries = defaultDownloadRetries
		}
		delay := opts.RetryDelay
		if delay <= 0 {
			delay = defaultDownloadDelay
		}
		download = remoteFetch(runner, logger, maxRetries, delay)
	}

	return &HTTPArtifact{
		paths:      paths,
		url:        rawURL,
		remoteName: remoteName,
		download:   download,
		runner:     runner,
	}, nil
}

// Install downloads the artifact into the release directory.
func (h *HTTPArtifact) Install(ctx context.Context, releaseID string) error {
	releasePath := h.paths.Release(releaseID)
	if err := ensureReleaseDir(ctx, h.runner, releasePath); err != nil {
		return err
	}

	dest := path.Join(releasePath, h.remoteName)
	if err := h.download(ctx, h.url, dest); err != nil {
		return fmt.Errorf("failed to download %s: %w", h.url, err)
	}
	return nil
}

// remoteFetch returns the default downloader: a retried curl invocation on
// the remote host.
func remoteFetch(runner remote.Runner, logger *slog.Logger, maxRetries int, delay time.Duration) Downloader {
	return func(ctx context.Context, url, dest string) error {
		_, err := remote.Retry(ctx, logger, maxRetries, delay, func() (string, error) {
			return runner.Run(ctx, "curl", "-fsSL", "-o", dest, url)
		})
		return err
	}
}
