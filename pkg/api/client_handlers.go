package api

import (
	"net/http"
	"os"
	"path/filepath"
)

// handleClientVersion reports the advertised client version. Exempt from
// authentication so the updater can check before login.
func (s *Server) handleClientVersion(w http.ResponseWriter, r *http.Request) {
	version := s.settings.LatestClientVersion()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"latest_version": version,
		"available":      version != "",
	})
}

// handleClientDownload serves the stored client executable for the
// advertised version
func (s *Server) handleClientDownload(w http.ResponseWriter, r *http.Request) {
	exe := s.settings.ClientExecutablePath()
	if exe == "" {
		writeError(w, errNotFound("no client executable available"))
		return
	}

	path := filepath.Join(s.settings.ClientDownloadsPath(), filepath.Base(exe))
	f, err := os.Open(path)
	if err != nil {
		writeError(w, errNotFound("client executable not found"))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, errInternal(err.Error()))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(exe))
	http.ServeContent(w, r, filepath.Base(exe), info.ModTime(), f)
}
