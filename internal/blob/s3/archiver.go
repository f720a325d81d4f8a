package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/alanyoungcy/simledger/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// multipartThreshold switches uploads to the multipart manager.
const multipartThreshold = 16 << 20

// HistorySource is the slice of domain.HistoryStore the archiver reads.
type HistorySource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ClosedSignal, error)
}

// blobStore is what the archiver needs from object storage.
type blobStore interface {
	domain.BlobWriter
	List(ctx context.Context, prefix string) ([]domain.BlobInfo, error)
}

// Archiver copies closed-signal history to object storage as JSONL, one
// object per cutoff day under <prefix>/<account>/history/. Records are never
// deleted from the primary store here.
type Archiver struct {
	blobs   blobStore
	history HistorySource
	audit   domain.AuditStore
	prefix  string
	logger  *slog.Logger
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(w domain.BlobWriter, r domain.BlobReader, history HistorySource, audit domain.AuditStore, prefix, account string, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobs:   readWriter{w, r},
		history: history,
		audit:   audit,
		prefix:  path.Join(strings.Trim(prefix, "/"), account, "history") + "/",
		logger:  logger.With(slog.String("component", "history_archiver")),
	}
}

type readWriter struct {
	domain.BlobWriter
	domain.BlobReader
}

// ArchiveHistory uploads every entry closed before the cutoff. Nothing is
// uploaded when there are no entries. Re-running with the same cutoff
// overwrites the same object.
func (a *Archiver) ArchiveHistory(ctx context.Context, before time.Time) (string, int64, error) {
	entries, err := a.history.ListBefore(ctx, before)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive history query: %w", err)
	}
	if len(entries) == 0 {
		return "", 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive history marshal: %w", err)
	}

	key := a.archivePath(before)
	if len(buf) > multipartThreshold {
		err = a.blobs.PutMultipart(ctx, key, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.blobs.Put(ctx, key, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive history upload: %w", err)
	}

	count := int64(len(entries))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "history_archived", map[string]any{
			"path":   key,
			"count":  count,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			a.logger.WarnContext(ctx, "s3blob: audit log failed", slog.String("error", err.Error()))
		}
	}
	a.logger.InfoContext(ctx, "s3blob: history archived",
		slog.String("path", key),
		slog.Int64("count", count),
	)
	return key, count, nil
}

// ListArchives lists the uploaded archives for the account.
func (a *Archiver) ListArchives(ctx context.Context) ([]domain.BlobInfo, error) {
	return a.blobs.List(ctx, a.prefix)
}

func (a *Archiver) archivePath(before time.Time) string {
	return a.prefix + before.UTC().Format("2006-01-02") + ".jsonl"
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.HistoryArchiver = (*Archiver)(nil)
