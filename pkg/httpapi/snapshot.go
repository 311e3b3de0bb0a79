package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/atinyvectors/warren/pkg/apierr"
	"github.com/atinyvectors/warren/pkg/dispatch"
	"github.com/atinyvectors/warren/pkg/rbac"
)

// uploadNameRe is the 12-digit timestamp form a fresh multipart upload
// must present — the legacy 8-digit form is accepted everywhere else but
// never as a new upload.
var uploadNameRe = regexp.MustCompile(`^snapshot-(\d{12})\.zip$`)

func (s *Server) registerSnapshotRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /snapshot", s.handleCreateSnapshot)
	mux.HandleFunc("POST /snapshot/{name}/restore", s.handleRestoreSnapshot)
	mux.HandleFunc("DELETE /snapshot/{name}/delete", s.handleDeleteSnapshot)
	mux.HandleFunc("GET /snapshot/{name}/download", s.handleDownloadSnapshot)
	mux.HandleFunc("GET /snapshots", s.handleListSnapshots)
	mux.HandleFunc("POST /snapshots/restore", s.handleUploadSnapshot)
	mux.HandleFunc("DELETE /snapshot/delete_all", s.handleDeleteAllSnapshots)
}

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategorySnapshot, rbac.LevelWrite) {
		return
	}
	s.apply(w, dispatch.Command{Op: dispatch.OpCreateSnapshot})
}

func (s *Server) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategorySnapshot, rbac.LevelWrite) {
		return
	}
	s.apply(w, dispatch.Command{Op: dispatch.OpSnapshotRestore, FileName: r.PathValue("name")})
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategorySnapshot, rbac.LevelWrite) {
		return
	}
	s.apply(w, dispatch.Command{Op: dispatch.OpSnapshotDelete, FileName: r.PathValue("name")})
}

// handleDownloadSnapshot is a direct local call (not replicated). The
// {name} path segment may be a full file name or just the archive's
// YYYYMMDD date — followers fetch by date during snapshot_sync — so it
// resolves against every stored archive's embedded date rather than
// requiring an exact file name match.
func (s *Server) handleDownloadSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategorySnapshot, rbac.LevelRead) {
		return
	}
	name := r.PathValue("name")
	archives, err := s.Snapshot.List()
	if err != nil {
		writeError(w, err)
		return
	}
	fileName := name
	if !strings.HasSuffix(fileName, ".zip") {
		fileName = ""
		for _, a := range archives {
			if strings.Contains(a.FileName, name) {
				fileName = a.FileName
				break
			}
		}
	}
	if fileName == "" {
		writeError(w, fmt.Errorf("no snapshot archive matching %q: %w", name, apierr.ErrNotFound))
		return
	}
	path := s.Snapshot.ArchivePath(fileName)
	f, err := os.Open(path)
	if err != nil {
		writeError(w, fmt.Errorf("open snapshot archive: %w: %w", apierr.ErrNotFound, err))
		return
	}
	defer f.Close()
	modTime := time.Now()
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	}
	w.Header().Set("Content-Type", "application/zip")
	http.ServeContent(w, r, fileName, modTime, f)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategorySnapshot, rbac.LevelRead) {
		return
	}
	archives, err := s.Snapshot.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, archives)
}

// handleUploadSnapshot validates the archive name, stages the file, then
// logs snapshot_sync so every follower fetches and restores it. Only the
// leader can accept an upload since it is the one that advertises the
// file for followers to fetch.
func (s *Server) handleUploadSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategorySnapshot, rbac.LevelWrite) {
		return
	}
	if !s.Cluster.IsLeader() {
		writeLeaderUnknown(w, s.Cluster.LeaderAddr())
		return
	}
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, fmt.Errorf("parse multipart upload: %w: %w", apierr.ErrValidation, err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, fmt.Errorf("missing file field: %w: %w", apierr.ErrValidation, err))
		return
	}
	defer file.Close()

	fileName := header.Filename
	if !uploadNameRe.MatchString(fileName) {
		writeError(w, fmt.Errorf("invalid snapshot upload name %q, must match %s: %w", fileName, uploadNameRe.String(), apierr.ErrValidation))
		return
	}

	tempPath := s.Snapshot.TempPath(fileName)
	out, err := os.Create(tempPath)
	if err != nil {
		writeError(w, fmt.Errorf("stage upload: %w: %w", apierr.ErrStorageFailure, err))
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		writeError(w, fmt.Errorf("stage upload: %w: %w", apierr.ErrStorageFailure, err))
		return
	}
	out.Close()

	if err := s.Snapshot.StageUpload(tempPath, fileName); err != nil {
		writeError(w, err)
		return
	}

	s.apply(w, dispatch.Command{
		Op: dispatch.OpSnapshotSync, FileName: fileName,
		LeaderID: s.Config.InstanceID, LeaderAddr: s.Config.HTTPAddr,
	})
}

func (s *Server) handleDeleteAllSnapshots(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategorySnapshot, rbac.LevelWrite) {
		return
	}
	// delete_all is a direct bulk local cleanup, not state replicated
	// through the log.
	if err := s.Snapshot.DeleteAll(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

