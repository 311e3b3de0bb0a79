// Package snapshot coordinates physical data-snapshot archives: creating a
// zip of the data directory, staging uploads, syncing a newly-uploaded
// archive to every follower via the replicated log, and restoring one.
// This is distinct from the Raft log-compaction snapshot in pkg/raftfsm —
// that one captures FSM state for log truncation, this one captures the
// whole on-disk dataset for operator backup/restore.
package snapshot

import (
	"archive/zip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/atinyvectors/warren/pkg/apierr"
	"github.com/atinyvectors/warren/pkg/log"
	"github.com/atinyvectors/warren/pkg/metrics"
	"github.com/atinyvectors/warren/pkg/store"
	"github.com/google/uuid"
)

// createdNameRe matches the 12-digit timestamp this process stamps onto
// archives it creates itself: snapshot-YYYYMMDDHHMM.zip
var createdNameRe = regexp.MustCompile(`^snapshot-(\d{12})\.zip$`)

// legacyNameRe matches the older 8-digit date-only form accepted for
// uploaded/synced archives: snapshot-YYYYMMDD.zip
var legacyNameRe = regexp.MustCompile(`^snapshot-(\d{8}(\d{4})?)\.zip$`)

// Coordinator owns the snapshot directory layout under dataPath.
type Coordinator struct {
	dataPath string
	store    *store.Store
}

// New builds a Coordinator rooted at dataPath.
func New(dataPath string, st *store.Store) *Coordinator {
	return &Coordinator{dataPath: dataPath, store: st}
}

func (c *Coordinator) snapshotDir() string { return filepath.Join(c.dataPath, "snapshot") }
func (c *Coordinator) tempDir() string     { return filepath.Join(c.dataPath, "temp") }

// Create zips the data directory (excluding the snapshot/temp/raft
// directories themselves) into a freshly-stamped archive and records it in
// the metadata store. The file name it generates is handed back so the
// caller can embed it in the create_snapshot command it logs.
func (c *Coordinator) Create() (string, error) {
	timer := metrics.NewTimer()
	if err := os.MkdirAll(c.snapshotDir(), 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w: %w", apierr.ErrStorageFailure, err)
	}
	fileName := fmt.Sprintf("snapshot-%s.zip", time.Now().Format("200601021504"))
	path := filepath.Join(c.snapshotDir(), fileName)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create archive: %w: %w", apierr.ErrStorageFailure, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	// The live metadata database goes in as a transactionally-consistent
	// copy, not a raw read of the open file.
	w, err := zw.Create("meta.db")
	if err == nil {
		_, err = c.store.WriteTo(w)
	}
	if err != nil {
		zw.Close()
		return "", fmt.Errorf("archive metadata store: %w: %w", apierr.ErrStorageFailure, err)
	}

	skip := map[string]bool{"snapshot": true, "temp": true, "raft": true}
	err = filepath.Walk(c.dataPath, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(c.dataPath, p)
		if err != nil {
			return err
		}
		if rel == "." || rel == "meta.db" {
			return nil
		}
		top := strings.SplitN(rel, string(filepath.Separator), 2)[0]
		if skip[top] {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		w, err := zw.Create(rel)
		if err != nil {
			return err
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
	if err != nil {
		zw.Close()
		return "", fmt.Errorf("archive data: %w: %w", apierr.ErrStorageFailure, err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("finalize archive: %w: %w", apierr.ErrStorageFailure, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat archive: %w: %w", apierr.ErrStorageFailure, err)
	}
	if err := c.store.PutSnapshotArchive(&store.SnapshotArchive{
		ID: uuid.NewString(), FileName: fileName, CreatedAt: time.Now(), SizeBytes: info.Size(),
	}); err != nil {
		return "", fmt.Errorf("record archive: %w: %w", apierr.ErrStorageFailure, err)
	}
	timer.ObserveDuration(metrics.SnapshotCreateDuration)
	return fileName, nil
}

// List returns every recorded snapshot archive.
func (c *Coordinator) List() ([]*store.SnapshotArchive, error) {
	return c.store.ListSnapshotArchives()
}

// Delete removes an archive file and its metadata record.
func (c *Coordinator) Delete(fileName string) error {
	if err := validateName(fileName); err != nil {
		return err
	}
	_ = os.Remove(filepath.Join(c.snapshotDir(), fileName))
	if err := c.store.DeleteSnapshotArchive(fileName); err != nil {
		return fmt.Errorf("forget archive: %w: %w", apierr.ErrStorageFailure, err)
	}
	return nil
}

// DeleteAll removes every recorded archive.
func (c *Coordinator) DeleteAll() error {
	archives, err := c.store.ListSnapshotArchives()
	if err != nil {
		return fmt.Errorf("list archives: %w: %w", apierr.ErrStorageFailure, err)
	}
	for _, a := range archives {
		if err := c.Delete(a.FileName); err != nil {
			return err
		}
	}
	return nil
}

// ArchivePath returns the on-disk path of a named archive.
func (c *Coordinator) ArchivePath(fileName string) string {
	return filepath.Join(c.snapshotDir(), fileName)
}

// StageUpload moves an uploaded file from temp/ into snapshot/ after
// validating its name, matching the create→validate→move flow the HTTP
// multipart-upload handler drives.
func (c *Coordinator) StageUpload(tempPath, fileName string) error {
	if err := validateName(fileName); err != nil {
		return err
	}
	if err := os.MkdirAll(c.snapshotDir(), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w: %w", apierr.ErrStorageFailure, err)
	}
	dst := filepath.Join(c.snapshotDir(), fileName)
	if err := copyFile(tempPath, dst); err != nil {
		return fmt.Errorf("stage upload: %w: %w", apierr.ErrStorageFailure, err)
	}
	_ = os.Remove(tempPath)

	info, err := os.Stat(dst)
	if err != nil {
		return fmt.Errorf("stat staged archive: %w: %w", apierr.ErrStorageFailure, err)
	}
	if err := c.store.PutSnapshotArchive(&store.SnapshotArchive{
		ID: uuid.NewString(), FileName: fileName, CreatedAt: time.Now(), SizeBytes: info.Size(),
	}); err != nil {
		return fmt.Errorf("record archive: %w: %w", apierr.ErrStorageFailure, err)
	}
	return nil
}

// TempPath returns where an in-flight upload should be written while its
// filename is being validated, before StageUpload moves it into place.
func (c *Coordinator) TempPath(fileName string) string {
	_ = os.MkdirAll(c.tempDir(), 0755)
	return filepath.Join(c.tempDir(), fileName)
}

// fetchClient bounds the follower's download during apply: the apply loop
// must never hang on a slow or dead leader.
var fetchClient = &http.Client{Timeout: 60 * time.Second}

// FetchFromLeader downloads a snapshot archive a follower does not have
// locally yet, from the leader's HTTP surface. Failures here are
// non-fatal to the caller: the subsequent Restore call will surface the
// real error if the file never arrived.
func (c *Coordinator) FetchFromLeader(leaderAddr, fileName string) error {
	date := extractDate(fileName)
	addr := strings.TrimRight(leaderAddr, "/")
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	url := fmt.Sprintf("%s/snapshot/%s/download", addr, date)

	resp, err := fetchClient.Get(url)
	if err != nil {
		return fmt.Errorf("download snapshot from leader: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download snapshot from leader: status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(c.snapshotDir(), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	dst, err := os.Create(c.ArchivePath(fileName))
	if err != nil {
		return fmt.Errorf("create local snapshot file: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return fmt.Errorf("write downloaded snapshot: %w", err)
	}
	return nil
}

// Restore applies an archive to the data directory. Callers apply this
// from every node (leader and followers alike) once the file is known to
// be present locally. The archive is first extracted to a staging
// directory; its meta.db content then replaces the live metadata store's
// content through a Dump/Restore round-trip (the open database file itself
// stays in place), and every other file (the per-space kv databases among
// them) is copied into place.
func (c *Coordinator) Restore(fileName string) error {
	if err := validateName(fileName); err != nil {
		return err
	}
	timer := metrics.NewTimer()

	stageDir := filepath.Join(c.tempDir(), "restore-"+strings.TrimSuffix(fileName, ".zip"))
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		return fmt.Errorf("create restore staging dir: %w: %w", apierr.ErrStorageFailure, err)
	}
	defer os.RemoveAll(stageDir)

	if err := c.extract(fileName, stageDir); err != nil {
		return err
	}

	metaPath := filepath.Join(stageDir, "meta.db")
	if _, err := os.Stat(metaPath); err == nil {
		dump, err := store.LoadDumpFromPath(metaPath)
		if err != nil {
			return fmt.Errorf("read archived metadata: %w: %w", apierr.ErrStorageFailure, err)
		}
		if err := c.store.Restore(dump); err != nil {
			return fmt.Errorf("restore archived metadata: %w: %w", apierr.ErrStorageFailure, err)
		}
	}

	err := filepath.Walk(stageDir, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(stageDir, p)
		if err != nil {
			return err
		}
		if rel == "meta.db" {
			return nil
		}
		dest := filepath.Join(c.dataPath, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		return copyFile(p, dest)
	})
	if err != nil {
		return fmt.Errorf("install restored files: %w: %w", apierr.ErrStorageFailure, err)
	}

	// The archived metadata predates the archive's own record, so re-record
	// it; otherwise the restore would erase the archive from /snapshots on
	// every node that applied it.
	if info, err := os.Stat(c.ArchivePath(fileName)); err == nil {
		if err := c.store.PutSnapshotArchive(&store.SnapshotArchive{
			ID: uuid.NewString(), FileName: fileName, CreatedAt: info.ModTime(), SizeBytes: info.Size(),
		}); err != nil {
			return fmt.Errorf("record restored archive: %w: %w", apierr.ErrStorageFailure, err)
		}
	}

	timer.ObserveDuration(metrics.SnapshotRestoreDuration)
	logger := log.WithComponent("snapshot")
	logger.Info().Str("file", fileName).Msg("restored snapshot")
	return nil
}

// extract unzips an archive into destDir, refusing entries that would
// escape it.
func (c *Coordinator) extract(fileName, destDir string) error {
	r, err := zip.OpenReader(c.ArchivePath(fileName))
	if err != nil {
		return fmt.Errorf("open snapshot archive: %w: %w", apierr.ErrStorageFailure, err)
	}
	defer r.Close()

	for _, f := range r.File {
		dest := filepath.Join(destDir, f.Name)
		if !strings.HasPrefix(dest, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("snapshot entry escapes data path: %s: %w", f.Name, apierr.ErrValidation)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.Create(dest)
		if err != nil {
			rc.Close()
			return err
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		out.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}

func validateName(fileName string) error {
	if createdNameRe.MatchString(fileName) || legacyNameRe.MatchString(fileName) {
		return nil
	}
	return fmt.Errorf("invalid snapshot filename %q: %w", fileName, apierr.ErrValidation)
}

func extractDate(fileName string) string {
	if m := legacyNameRe.FindStringSubmatch(fileName); m != nil {
		if len(m[1]) >= 8 {
			return m[1][:8]
		}
	}
	if m := createdNameRe.FindStringSubmatch(fileName); m != nil {
		return m[1][:8]
	}
	return "unknown_date"
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
