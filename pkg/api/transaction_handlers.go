package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/InsereNomen/AlderSync/pkg/txn"
	"github.com/InsereNomen/AlderSync/pkg/types"
	"github.com/go-chi/chi/v5"
)

type beginRequest struct {
	OperationType string                          `json:"operation_type"`
	ServiceType   string                          `json:"service_type"`
	ClientFiles   map[string]types.ClientFileInfo `json:"client_files,omitempty"`
	Description   string                          `json:"description"`
}

type beginResponse struct {
	TransactionID  string   `json:"transaction_id"`
	LockAcquired   bool     `json:"lock_acquired"`
	FilesToPull    []string `json:"files_to_pull,omitempty"`
	FilesToPush    []string `json:"files_to_push,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

func (s *Server) handleTransactionBegin(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	var req beginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest("invalid request body"))
		return
	}
	op, err := types.ParseOperationType(req.OperationType)
	if err != nil {
		writeError(w, errBadRequest(err.Error()))
		return
	}
	service, err := types.ParseServiceType(req.ServiceType)
	if err != nil {
		writeError(w, errBadRequest(err.Error()))
		return
	}

	clientFiles := make(map[string]types.ClientFileInfo, len(req.ClientFiles))
	for rawPath, info := range req.ClientFiles {
		path, err := types.CleanRelativePath(rawPath)
		if err != nil {
			writeError(w, errBadRequest(err.Error()))
			return
		}
		clientFiles[path] = info
	}

	result, err := s.txns.Begin(p, txn.BeginRequest{
		Operation:   op,
		Service:     service,
		ClientFiles: clientFiles,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, fromEngine(err))
		return
	}

	writeJSON(w, http.StatusOK, beginResponse{
		TransactionID:  result.TransactionID,
		LockAcquired:   result.LockAcquired,
		FilesToPull:    result.FilesToPull,
		FilesToPush:    result.FilesToPush,
		TimeoutSeconds: result.TimeoutSeconds,
	})
}

type commitResponse struct {
	Success     bool `json:"success"`
	FilesPulled *int `json:"files_pulled,omitempty"`
	FilesPushed *int `json:"files_pushed,omitempty"`
	FilesTotal  int  `json:"files_total"`
}

func (s *Server) handleTransactionCommit(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id := chi.URLParam(r, "id")

	result, err := s.txns.Commit(id, p.UserID)
	if err != nil {
		writeError(w, fromEngine(err))
		return
	}
	writeJSON(w, http.StatusOK, commitResponse{
		Success:     true,
		FilesPulled: result.FilesPulled,
		FilesPushed: result.FilesPushed,
		FilesTotal:  result.FilesTotal,
	})
}

func (s *Server) handleTransactionRollback(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id := chi.URLParam(r, "id")

	if err := s.txns.Rollback(id, p.UserID); err != nil {
		writeError(w, fromEngine(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleTransactionStatus(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id := chi.URLParam(r, "id")

	if err := s.txns.Status(id, p.UserID); err != nil {
		writeError(w, fromEngine(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transaction_id": id,
		"active":         true,
	})
}

type uploadResponse struct {
	FileHash string `json:"file_hash"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

// handleTransactionUpload streams one multipart upload into staging. The
// request carries a text field "path" followed by the binary field
// "file"; the file part streams straight through the hasher without
// buffering the whole body.
func (s *Server) handleTransactionUpload(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id := chi.URLParam(r, "id")

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, errBadRequest("expected multipart/form-data"))
		return
	}

	var path string
	var uploaded bool
	var hash string
	var size int64

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeError(w, errBadRequest("malformed multipart body"))
			return
		}

		switch part.FormName() {
		case "path":
			raw, err := io.ReadAll(io.LimitReader(part, 4096))
			if err != nil {
				writeError(w, errBadRequest("unreadable path field"))
				return
			}
			path, err = types.CleanRelativePath(string(raw))
			if err != nil {
				writeError(w, errBadRequest(err.Error()))
				return
			}
		case "file":
			if path == "" {
				writeError(w, errBadRequest("path field must precede file field"))
				return
			}
			hash, size, err = s.txns.Upload(id, p.UserID, path, part)
			if err != nil {
				writeError(w, fromEngine(err))
				return
			}
			uploaded = true
		}
		part.Close()
	}

	if !uploaded {
		writeError(w, errBadRequest("missing file field"))
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{FileHash: hash, Path: path, Size: size})
}

func (s *Server) handleTransactionDownload(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id := chi.URLParam(r, "id")

	path, apiErr := parsePath(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	rc, size, err := s.txns.Download(id, p.UserID, path)
	if err != nil {
		writeError(w, fromEngine(err))
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("Transaction download interrupted")
	}
}

type deleteRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleTransactionDelete(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id := chi.URLParam(r, "id")

	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest("invalid request body"))
		return
	}
	path, err := types.CleanRelativePath(req.Path)
	if err != nil {
		writeError(w, errBadRequest(err.Error()))
		return
	}

	if err := s.txns.Delete(id, p.UserID, path); err != nil {
		writeError(w, fromEngine(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"path":    path,
	})
}
