package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/clawinfra/opsguardian/internal/agent"
	"github.com/clawinfra/opsguardian/internal/workspace"
)

const (
	// chatChunkRunes is the size of each streamed reply fragment.
	chatChunkRunes = 10
	maxRunbookSize = 10 << 20
)

type chatRequest struct {
	Prompt string `json:"prompt"`
}

// handleChat sends a prompt to the agent and streams the reply as
// server-sent events.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.opts.Chat == nil {
		unavailable(w, "chat")
		return
	}

	prompt := r.URL.Query().Get("prompt")
	if prompt == "" && r.Method == http.MethodPost {
		var body chatRequest
		if err := decodeJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		prompt = body.Prompt
	}
	if strings.TrimSpace(prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	reply, err := s.opts.Chat.Send(r.Context(), prompt)
	if err != nil {
		s.logger.Error("chat failed", "error", err)
		sendSSE(w, flusher, "[ERROR] "+err.Error())
		return
	}
	for _, chunk := range chunkRunes(reply, chatChunkRunes) {
		if r.Context().Err() != nil {
			return
		}
		sendSSE(w, flusher, chunk)
	}
}

// sendSSE writes one event. Each line of a multi-line payload gets its own
// data field so clients rejoin them with newlines.
func sendSSE(w io.Writer, flusher http.Flusher, data string) {
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
	flusher.Flush()
}

// chunkRunes splits s into pieces of at most n runes.
func chunkRunes(s string, n int) []string {
	runes := []rune(s)
	chunks := make([]string, 0, len(runes)/n+1)
	for len(runes) > 0 {
		end := min(n, len(runes))
		chunks = append(chunks, string(runes[:end]))
		runes = runes[end:]
	}
	return chunks
}

// handleRunbook stores an uploaded runbook in the workspace and attaches it
// to every following chat turn.
func (s *Server) handleRunbook(w http.ResponseWriter, r *http.Request) {
	if s.opts.Chat == nil || s.opts.Files == nil {
		unavailable(w, "chat")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRunbookSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	name := filepath.Base(header.Filename)
	if _, err := s.opts.Files.Write(workspace.OriginOperator, name, string(data)); err != nil {
		writeErr(w, err)
		return
	}
	s.opts.Chat.SetAttachment(&agent.Attachment{
		Name:     name,
		MIMEType: header.Header.Get("Content-Type"),
		Data:     data,
	})
	s.logger.Info("runbook attached", "file", name, "bytes", len(data))
	writeJSON(w, http.StatusOK, map[string]any{"filename": name, "bytes": len(data)})
}
