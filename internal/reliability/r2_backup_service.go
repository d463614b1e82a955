package reliability

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aristath/cryptofolio/internal/domain"
	"github.com/rs/zerolog"
)

const (
	backupTimestampLayout = "2006-01-02-150405.000"
	backupSuffix          = ".msgpack.gz"

	// minBackupsToKeep survive rotation regardless of age
	minBackupsToKeep = 3
)

// BackupInfo describes one stored portfolio backup
type BackupInfo struct {
	Key         string    `json:"key"`
	PortfolioID string    `json:"portfolio_id"`
	Timestamp   time.Time `json:"timestamp"`
	SizeBytes   int64     `json:"size_bytes"`
	AgeHours    int64     `json:"age_hours"`
}

// R2BackupService stores gzip'd portfolio export blobs in a bucket.
// Each blob carries its sha256 in the gzip header comment.
type R2BackupService struct {
	store  ObjectStore
	prefix string
	log    zerolog.Logger
	now    func() time.Time
}

// NewR2BackupService creates a backup service writing under prefix
func NewR2BackupService(store ObjectStore, prefix string, log zerolog.Logger) *R2BackupService {
	return &R2BackupService{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		log:    log.With().Str("service", "r2_backup").Logger(),
		now:    time.Now,
	}
}

// portfolioPrefix is "<prefix>/<portfolioID>/<portfolioID>-"
func (s *R2BackupService) portfolioPrefix(portfolioID string) string {
	dir := portfolioID + "/"
	if s.prefix != "" {
		dir = s.prefix + "/" + dir
	}
	return dir + portfolioID + "-"
}

// UploadPortfolio compresses an export blob and uploads it
func (s *R2BackupService) UploadPortfolio(ctx context.Context, portfolioID string, blob []byte) (BackupInfo, error) {
	startTime := s.now().UTC()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Header.Name = portfolioID + ".msgpack"
	zw.Header.ModTime = startTime
	zw.Header.Comment = checksum(blob)
	if _, err := zw.Write(blob); err != nil {
		return BackupInfo{}, fmt.Errorf("failed to compress backup: %w", err)
	}
	if err := zw.Close(); err != nil {
		return BackupInfo{}, fmt.Errorf("failed to compress backup: %w", err)
	}

	key := s.portfolioPrefix(portfolioID) + startTime.Format(backupTimestampLayout) + backupSuffix
	size := int64(buf.Len())
	if err := s.store.Upload(ctx, key, &buf, size); err != nil {
		return BackupInfo{}, err
	}

	s.log.Info().
		Str("portfolio", portfolioID).
		Str("key", key).
		Int64("size_bytes", size).
		Msg("Portfolio backup uploaded")

	return BackupInfo{
		Key:         key,
		PortfolioID: portfolioID,
		Timestamp:   startTime,
		SizeBytes:   size,
	}, nil
}

// ListBackups lists the backups of one portfolio, newest first
func (s *R2BackupService) ListBackups(ctx context.Context, portfolioID string) ([]BackupInfo, error) {
	prefix := s.portfolioPrefix(portfolioID)
	objects, err := s.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	now := s.now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, prefix) || !strings.HasSuffix(obj.Key, backupSuffix) {
			continue
		}

		stamp := strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), backupSuffix)
		ts, err := time.Parse(backupTimestampLayout, stamp)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Failed to parse timestamp from backup key")
			continue
		}

		backups = append(backups, BackupInfo{
			Key:         obj.Key,
			PortfolioID: portfolioID,
			Timestamp:   ts,
			SizeBytes:   obj.Size,
			AgeHours:    int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// Download fetches a backup of portfolioID and returns the verified export blob
func (s *R2BackupService) Download(ctx context.Context, portfolioID, key string) ([]byte, error) {
	if !strings.HasPrefix(key, s.portfolioPrefix(portfolioID)) {
		return nil, fmt.Errorf("%w: backup %q does not belong to portfolio %s", domain.ErrValidation, key, portfolioID)
	}

	data, err := s.store.Download(ctx, key)
	if err != nil {
		return nil, err
	}

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: backup %s is not gzip: %v", domain.ErrValidation, key, err)
	}
	defer zr.Close()

	blob, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: backup %s is truncated: %v", domain.ErrValidation, key, err)
	}

	if want := zr.Header.Comment; want != "" && want != checksum(blob) {
		return nil, fmt.Errorf("%w: backup %s checksum mismatch", domain.ErrValidation, key)
	}
	return blob, nil
}

// RotateOldBackups deletes backups of portfolioID older than retentionDays.
// The newest minBackupsToKeep are always kept; retentionDays 0 keeps everything.
func (s *R2BackupService) RotateOldBackups(ctx context.Context, portfolioID string, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	backups, err := s.ListBackups(ctx, portfolioID)
	if err != nil {
		return 0, fmt.Errorf("failed to list backups: %w", err)
	}
	if len(backups) <= minBackupsToKeep {
		return 0, nil
	}

	cutoff := s.now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, backup := range backups[minBackupsToKeep:] {
		if !backup.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, backup.Key); err != nil {
			s.log.Error().Err(err).Str("key", backup.Key).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.log.Info().
			Str("portfolio", portfolioID).
			Int("deleted", deleted).
			Int("remaining", len(backups)-deleted).
			Msg("Old backups rotated")
	}
	return deleted, nil
}

func checksum(blob []byte) string {
	return fmt.Sprintf("sha256:%x", sha256.Sum256(blob))
}
