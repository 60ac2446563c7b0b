package api

import (
	"net/http"

	"github.com/clawinfra/opsguardian/internal/workspace"
)

type fileBody struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	if s.opts.Files == nil {
		unavailable(w, "workspace")
		return
	}
	names, err := s.opts.Files.List()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"files": names})
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	if s.opts.Files == nil {
		unavailable(w, "workspace")
		return
	}
	name := r.PathValue("name")
	content, err := s.opts.Files.Read(name)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fileBody{Filename: name, Content: content})
}

// handleWriteFile creates or overwrites a workspace file. Operators may edit
// the system instruction.
func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	if s.opts.Files == nil {
		unavailable(w, "workspace")
		return
	}
	var body fileBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Filename == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}

	created, err := s.opts.Files.Write(workspace.OriginOperator, body.Filename, body.Content)
	if err != nil {
		writeErr(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"filename": body.Filename, "created": created})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if s.opts.Files == nil {
		unavailable(w, "workspace")
		return
	}
	name := r.PathValue("name")
	if err := s.opts.Files.Delete(workspace.OriginOperator, name); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
}
