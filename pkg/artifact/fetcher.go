package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lemonade-sdk/lemonade/pkg/inference"
	"github.com/lemonade-sdk/lemonade/pkg/logging"
)

const maxDownloadAttempts = 5

// progressInterval bounds how often Download emits ProgressEvents for a
// single file; file-start and file-complete events always fire regardless
// of this interval.
const progressInterval = 100 * time.Millisecond

// ErrOffline is returned when LEMONADE_OFFLINE is set and the requested
// file is not already present locally.
var ErrOffline = errors.New("offline mode: file not cached locally")

// Fetcher downloads repository snapshots from the remote hub, resuming
// partial downloads, retrying transient failures with bounded backoff, and
// reporting progress through an inference.ProgressSink.
type Fetcher struct {
	client  *Client
	offline bool
	log     logging.Logger
}

// NewFetcher builds a Fetcher. token is the HF_TOKEN-style bearer token
// (empty for anonymous access); offline forces every Download to fail
// fast unless the destination already holds the full file.
func NewFetcher(token string, offline bool, log logging.Logger, opts ...ClientOption) *Fetcher {
	allOpts := append([]ClientOption{WithToken(token)}, opts...)
	return &Fetcher{
		client:  NewClient(allOpts...),
		offline: offline,
		log:     log,
	}
}

// ListFiles returns repo's file tree at revision.
func (f *Fetcher) ListFiles(ctx context.Context, repo, revision string) ([]RepoFile, error) {
	if f.offline {
		return nil, fmt.Errorf("%w: cannot list files for %q", ErrOffline, repo)
	}
	return f.client.ListFiles(ctx, repo, revision)
}

// Download writes file's content to destPath, resuming from any bytes
// already present there. fileIndex/totalFiles are echoed into emitted
// ProgressEvents so a caller downloading many files can report overall
// progress; sink may be nil.
func (f *Fetcher) Download(ctx context.Context, repo, revision string, file RepoFile, destPath string, fileIndex, totalFiles int, sink inference.ProgressSink) error {
	existing, err := os.Stat(destPath)
	var resumeFrom int64
	if err == nil {
		resumeFrom = existing.Size()
		if resumeFrom >= file.ActualSize() && file.ActualSize() > 0 {
			f.emit(sink, file.Path, fileIndex, totalFiles, resumeFrom, resumeFrom)
			return nil
		}
	}

	if f.offline {
		return fmt.Errorf("%w: %s", ErrOffline, file.Path)
	}

	var lastErr error
	for attempt := 0; attempt < maxDownloadAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay(attempt - 1)):
			}
			// Recompute resumeFrom: a prior attempt may have written bytes
			// before failing partway through the body.
			if st, statErr := os.Stat(destPath); statErr == nil {
				resumeFrom = st.Size()
			}
		}

		err := f.downloadOnce(ctx, repo, revision, file, destPath, resumeFrom, fileIndex, totalFiles, sink)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetriable(err) {
			return err
		}
		if f.log != nil {
			f.log.Warn("retrying download after transient error", "file", file.Path, "attempt", attempt+1, "error", err)
		}
	}
	return fmt.Errorf("download %s: exhausted %d attempts: %w", file.Path, maxDownloadAttempts, lastErr)
}

func (f *Fetcher) downloadOnce(ctx context.Context, repo, revision string, file RepoFile, destPath string, resumeFrom int64, fileIndex, totalFiles int, sink inference.ProgressSink) error {
	body, total, resumed, err := f.client.OpenFile(ctx, repo, revision, file.Path, resumeFrom)
	if err != nil {
		return err
	}
	defer body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	var startOffset int64
	if resumed {
		flags |= os.O_APPEND
		startOffset = resumeFrom
	} else {
		flags |= os.O_TRUNC
		startOffset = 0
	}

	out, err := os.OpenFile(destPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", destPath, err)
	}
	defer out.Close()

	if total <= 0 {
		total = file.ActualSize()
	}

	downloaded := startOffset
	f.emit(sink, file.Path, fileIndex, totalFiles, downloaded, total)
	lastEmit := time.Now()

	buf := make([]byte, 256*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write %s: %w", destPath, werr)
			}
			downloaded += int64(n)
			if time.Since(lastEmit) >= progressInterval {
				f.emit(sink, file.Path, fileIndex, totalFiles, downloaded, total)
				lastEmit = time.Now()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return &TransientError{Repo: repo, Err: readErr}
		}
	}

	f.emit(sink, file.Path, fileIndex, totalFiles, downloaded, total)
	return nil
}

func (f *Fetcher) emit(sink inference.ProgressSink, file string, fileIndex, totalFiles int, downloaded, total int64) {
	if sink == nil {
		return
	}
	var pct float64
	if total > 0 {
		pct = float64(downloaded) / float64(total) * 100
	}
	sink(inference.ProgressEvent{
		File:            file,
		FileIndex:       fileIndex,
		TotalFiles:      totalFiles,
		BytesDownloaded: downloaded,
		BytesTotal:      total,
		Percent:         pct,
	})
}
