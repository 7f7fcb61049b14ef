package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/InsereNomen/AlderSync/pkg/ignore"
	"github.com/InsereNomen/AlderSync/pkg/metrics"
	"github.com/InsereNomen/AlderSync/pkg/types"
)

// parseService reads and validates the service_type query parameter
func parseService(r *http.Request) (types.ServiceType, *apiError) {
	service, err := types.ParseServiceType(r.URL.Query().Get("service_type"))
	if err != nil {
		return "", errBadRequest(err.Error())
	}
	return service, nil
}

// parsePath reads and normalizes the path query parameter
func parsePath(r *http.Request) (string, *apiError) {
	path, err := types.CleanRelativePath(r.URL.Query().Get("path"))
	if err != nil {
		return "", errBadRequest(err.Error())
	}
	return path, nil
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	service, apiErr := parseService(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	inventory, err := s.store.CurrentInventory(service)
	if err != nil {
		writeError(w, fromEngine(err))
		return
	}
	patterns, err := s.store.ListIgnorePatterns()
	if err != nil {
		writeError(w, fromEngine(err))
		return
	}
	matcher := ignore.NewMatcher(patterns)

	files := make([]types.FileInfo, 0, len(inventory))
	for _, rev := range inventory {
		if matcher.ShouldIgnore(rev.Path) {
			continue
		}
		files = append(files, types.FileInfo{
			Path:        rev.Path,
			Size:        rev.Size,
			Hash:        rev.Hash,
			ModifiedUTC: rev.ModifiedUTC,
		})
	}
	writeJSON(w, http.StatusOK, files)
}

// streamRevision sends a revision blob as an octet stream
func (s *Server) streamRevision(w http.ResponseWriter, rev *types.FileRevision) {
	rc, err := s.blobs.Open(rev.Service, rev.Path, rev.Revision)
	if err != nil {
		writeError(w, errInternal(err.Error()))
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(rev.Size, 10))
	if n, err := io.Copy(w, rc); err != nil {
		s.logger.Error().Err(err).Str("path", rev.Path).Msg("Download interrupted")
	} else {
		metrics.BytesDownloadedTotal.Add(float64(n))
	}
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	service, apiErr := parseService(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	path, apiErr := parsePath(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	cur, err := s.store.CurrentRevision(service, path)
	if err != nil {
		writeError(w, fromEngine(err))
		return
	}
	if cur.IsDeleted {
		writeError(w, errNotFound(fmt.Sprintf("file %s is deleted", path)))
		return
	}
	s.streamRevision(w, cur)
}

func (s *Server) handleDownloadRevision(w http.ResponseWriter, r *http.Request) {
	service, apiErr := parseService(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	path, apiErr := parsePath(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	revision, err := strconv.Atoi(r.URL.Query().Get("revision"))
	if err != nil {
		writeError(w, errBadRequest("invalid revision number"))
		return
	}

	rev, err := s.store.GetRevision(service, path, revision)
	if err != nil {
		writeError(w, fromEngine(err))
		return
	}
	if rev.IsDeleted {
		writeError(w, errNotFound(fmt.Sprintf("revision %d of %s is a deletion marker", revision, path)))
		return
	}
	s.streamRevision(w, rev)
}

type revisionEntry struct {
	Revision     int    `json:"revision"`
	Size         int64  `json:"size"`
	Hash         string `json:"hash"`
	ModifiedUTC  string `json:"modified_utc"`
	Username     string `json:"username"`
	ChangelistID int64  `json:"changelist_id,omitempty"`
	IsDeleted    bool   `json:"is_deleted"`
}

func (s *Server) handleRevisionHistory(w http.ResponseWriter, r *http.Request) {
	service, apiErr := parseService(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	path, apiErr := parsePath(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	history, err := s.store.RevisionHistory(service, path)
	if err != nil {
		writeError(w, fromEngine(err))
		return
	}
	if len(history) == 0 {
		writeError(w, errNotFound(fmt.Sprintf("no revisions for %s", path)))
		return
	}

	entries := make([]revisionEntry, 0, len(history))
	for _, rev := range history {
		entry := revisionEntry{
			Revision:     rev.Revision,
			Size:         rev.Size,
			Hash:         rev.Hash,
			ModifiedUTC:  rev.ModifiedUTC.UTC().Format("2006-01-02T15:04:05Z"),
			ChangelistID: rev.ChangelistID,
			IsDeleted:    rev.IsDeleted,
		}
		if rev.UserID != 0 {
			if user, err := s.store.GetUser(rev.UserID); err == nil {
				entry.Username = user.Username
			}
		}
		entries = append(entries, entry)
	}
	writeJSON(w, http.StatusOK, entries)
}

type restoreRequest struct {
	Path        string `json:"path"`
	Revision    int    `json:"revision"`
	ServiceType string `json:"service_type"`
}

type restoreResponse struct {
	Success     bool   `json:"success"`
	Path        string `json:"path"`
	NewRevision int    `json:"new_revision"`
}

func (s *Server) handleRestoreRevision(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if !p.HasPermission(types.PermissionAdmin) {
		writeError(w, errForbidden("missing permission: admin"))
		return
	}

	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest("invalid request body"))
		return
	}
	service, err := types.ParseServiceType(req.ServiceType)
	if err != nil {
		writeError(w, errBadRequest(err.Error()))
		return
	}
	path, err := types.CleanRelativePath(req.Path)
	if err != nil {
		writeError(w, errBadRequest(err.Error()))
		return
	}

	restored, err := s.txns.RestoreRevision(p.UserID, service, path, req.Revision)
	if err != nil {
		writeError(w, fromEngine(err))
		return
	}
	writeJSON(w, http.StatusOK, restoreResponse{
		Success:     true,
		Path:        path,
		NewRevision: restored.Revision,
	})
}
