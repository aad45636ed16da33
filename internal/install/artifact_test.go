package install

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/schaermu/shipway/internal/project"
	"github.com/schaermu/shipway/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewLocalArtifact_MissingLocalPath(t *testing.T) {
	_, err := NewLocalArtifact(base, "", "", &testutil.ScriptRunner{})
	if !errors.Is(err, project.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestLocalArtifactInstall(t *testing.T) {
	runner := &testutil.ScriptRunner{ExistsResult: true}
	l, err := NewLocalArtifact(base, "dist/app.jar", "", runner)
	if err != nil {
		t.Fatalf("NewLocalArtifact returned error: %v", err)
	}

	if err := l.Install(context.Background(), "20141011145205"); err != nil {
		t.Fatalf("Install returned error: %v", err)
	}

	if len(runner.PutCalls) != 1 {
		t.Fatalf("expected 1 upload, got %v", runner.PutCalls)
	}

	put := runner.PutCalls[0]
	if put.RemotePath != "/srv/www/myapp/releases/20141011145205" {
		t.Errorf("RemotePath = %q", put.RemotePath)
	}
	if !put.PreserveMode {
		t.Error("expected file mode bits to be preserved")
	}
}

func TestLocalArtifactInstall_Rename(t *testing.T) {
	runner := &testutil.ScriptRunner{ExistsResult: true}
	l, err := NewLocalArtifact(base, "dist/app-1.2.3.jar", "app.jar", runner)
	if err != nil {
		t.Fatalf("NewLocalArtifact returned error: %v", err)
	}

	if err := l.Install(context.Background(), "20141011145205"); err != nil {
		t.Fatalf("Install returned error: %v", err)
	}

	if got := runner.PutCalls[0].RemotePath; got != "/srv/www/myapp/releases/20141011145205/app.jar" {
		t.Errorf("RemotePath = %q", got)
	}
}

func TestNewHTTPArtifact_FilenameFromURL(t *testing.T) {
	h, err := NewHTTPArtifact(base, "https://host/path/file.jar?x=1", HTTPArtifactOptions{}, &testutil.ScriptRunner{}, discardLogger())
	if err != nil {
		t.Fatalf("NewHTTPArtifact returned error: %v", err)
	}
	if h.remoteName != "file.jar" {
		t.Errorf("remoteName = %q, want %q", h.remoteName, "file.jar")
	}
}

func TestNewHTTPArtifact_NoFilenameSegment(t *testing.T) {
	for _, rawURL := range []string{"https://host/", "https://host"} {
		_, err := NewHTTPArtifact(base, rawURL, HTTPArtifactOptions{}, &testutil.ScriptRunner{}, discardLogger())
		if !errors.Is(err, project.ErrInvalidArgument) {
			t.Errorf("NewHTTPArtifact(%q): expected ErrInvalidArgument, got %v", rawURL, err)
		}
	}
}

func TestNewHTTPArtifact_EmptyURL(t *testing.T) {
	_, err := NewHTTPArtifact(base, "", HTTPArtifactOptions{}, &testutil.ScriptRunner{}, discardLogger())
	if !errors.Is(err, project.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestNewHTTPArtifact_RenameSkipsFilenameCheck(t *testing.T) {
	// An explicit remote name makes the missing filename segment irrelevant.
	h, err := NewHTTPArtifact(base, "https://host/", HTTPArtifactOptions{RemoteName: "app.jar"}, &testutil.ScriptRunner{}, discardLogger())
	if err != nil {
		t.Fatalf("NewHTTPArtifact returned error: %v", err)
	}
	if h.remoteName != "app.jar" {
		t.Errorf("remoteName = %q, want %q", h.remoteName, "app.jar")
	}
}

func TestHTTPArtifactInstall_CustomDownloader(t *testing.T) {
	runner := &testutil.ScriptRunner{ExistsResult: false}

	var gotURL, gotDest string
	h, err := NewHTTPArtifact(base, "https://host/path/file.jar", HTTPArtifactOptions{
		Downloader: func(ctx context.Context, url, dest string) error {
			gotURL, gotDest = url, dest
			return nil
		},
	}, runner, discardLogger())
	if err != nil {
		t.Fatalf("NewHTTPArtifact returned error: %v", err)
	}

	if err := h.Install(context.Background(), "20141011145205"); err != nil {
		t.Fatalf("Install returned error: %v", err)
	}

	if !runner.HasCommand("mkdir -p /srv/www/myapp/releases/20141011145205") {
		t.Errorf("expected mkdir, got %v", runner.CommandStrings())
	}
	if gotURL != "https://host/path/file.jar" {
		t.Errorf("downloader url = %q", gotURL)
	}
	if gotDest != "/srv/www/myapp/releases/20141011145205/file.jar" {
		t.Errorf("downloader dest = %q", gotDest)
	}
}

func TestHTTPArtifactInstall_DefaultDownloader(t *testing.T) {
	runner := &testutil.ScriptRunner{ExistsResult: true}
	h, err := NewHTTPArtifact(base, "https://host/path/file.jar", HTTPArtifactOptions{}, runner, discardLogger())
	if err != nil {
		t.Fatalf("NewHTTPArtifact returned error: %v", err)
	}

	if err := h.Install(context.Background(), "20141011145205"); err != nil {
		t.Fatalf("Install returned error: %v", err)
	}

	want := "curl -fsSL -o /srv/www/myapp/releases/20141011145205/file.jar https://host/path/file.jar"
	if !runner.HasCommand(want) {
		t.Errorf("expected remote fetch, got %v", runner.CommandStrings())
	}
}

func TestHTTPArtifactInstall_DownloadFailure(t *testing.T) {
	runner := &testutil.ScriptRunner{ExistsResult: true}
	h, err := NewHTTPArtifact(base, "https://host/path/file.jar", HTTPArtifactOptions{
		Downloader: func(ctx context.Context, url, dest string) error {
			return errors.New("connection refused")
		},
	}, runner, discardLogger())
	if err != nil {
		t.Fatalf("NewHTTPArtifact returned error: %v", err)
	}

	if err := h.Install(context.Background(), "20141011145205"); err == nil {
		t.Error("expected download error, got nil")
	}
}
