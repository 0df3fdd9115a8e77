package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fluxstack-labs/fluxgate/internal/auth"
	"github.com/fluxstack-labs/fluxgate/internal/dispatch"
	"github.com/fluxstack-labs/fluxgate/pkg/catalog"
	"github.com/fluxstack-labs/fluxgate/pkg/tabular"
	"github.com/fluxstack-labs/fluxgate/pkg/wire"
)

// maxActionPayload caps action request bodies. Payloads are small JSON
// objects; anything larger is a client error.
const maxActionPayload = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type tableSummary struct {
	Kind    string   `json:"kind"`
	Command string   `json:"command,omitempty"`
	Path    []string `json:"path,omitempty"`
	Rows    int64    `json:"rows"`
	Cols    int64    `json:"cols"`
	Bytes   int64    `json:"bytes"`
}

type fieldSchema struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type schemaResponse struct {
	Fields   []fieldSchema     `json:"fields"`
	Metadata map[string]string `json:"metadata"`
	Rows     int64             `json:"rows"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
}

func (s *Server) handleListTables(w http.ResponseWriter, _ *http.Request) {
	entries := s.catalog.List()

	out := make([]tableSummary, 0, len(entries))
	for _, e := range entries {
		d := e.Key.Descriptor()
		sum := tableSummary{
			Kind:  d.Kind.String(),
			Rows:  e.Dataset.NumRows(),
			Cols:  e.Dataset.NumCols(),
			Bytes: e.Dataset.SizeBytes(),
		}
		if d.Kind == catalog.KindPath {
			sum.Path = d.Path
		} else {
			sum.Command = d.Command
		}
		out = append(out, sum)
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	command := chi.URLParam(r, "command")

	ds, err := s.catalog.Get(catalog.KeyForCommand(command))
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}

	raw, err := tabular.Marshal(ds)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to encode dataset: %v", err))
		return
	}

	w.Header().Set("Content-Type", ContentTypeArrow)
	_, _ = w.Write(raw)
}

func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	command := chi.URLParam(r, "command")

	ds, err := s.catalog.Get(catalog.KeyForCommand(command))
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}

	schema := ds.Schema()
	resp := schemaResponse{
		Fields:   make([]fieldSchema, 0, len(schema.Fields())),
		Metadata: ds.Metadata(),
		Rows:     ds.NumRows(),
	}
	for _, f := range schema.Fields() {
		resp.Fields = append(resp.Fields, fieldSchema{Name: f.Name, Type: f.Type.String()})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePutCommand(w http.ResponseWriter, r *http.Request) {
	command := chi.URLParam(r, "command")

	ds, ok := s.readDataset(w, r)
	if !ok {
		return
	}

	s.catalog.Put(catalog.KeyForCommand(command), ds)
	s.logger.Debug("table stored",
		slog.String("command", command),
		slog.Int64("rows", ds.NumRows()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePutPath(w http.ResponseWriter, r *http.Request) {
	raw := strings.Trim(chi.URLParam(r, "*"), "/")
	if raw == "" {
		writeJSONError(w, http.StatusBadRequest, "path must not be empty")
		return
	}

	ds, ok := s.readDataset(w, r)
	if !ok {
		return
	}

	segments := strings.Split(raw, "/")
	s.catalog.Put(catalog.KeyForPath(segments...), ds)
	s.logger.Debug("table stored",
		slog.String("path", raw),
		slog.Int64("rows", ds.NumRows()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListActions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatcher.Actions())
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxActionPayload))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err))
		return
	}

	results, err := s.dispatcher.Dispatch(r.Context(), name, payload)
	if err != nil {
		var unknown *dispatch.UnknownActionError
		if errors.As(err, &unknown) {
			writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		// Action-level failures, parse errors included, travel in band
		// like any other result unit; the HTTP exchange itself succeeded.
		results = [][]byte{[]byte(err.Error())}
	}

	w.Header().Set("Content-Type", ContentTypeFrames)
	if err := wire.WriteAll(w, results); err != nil {
		s.logger.Error("failed to stream action results",
			slog.String("action", name),
			slog.String("error", err.Error()))
	}
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "authentication is not configured")
		return
	}

	username, password, ok := r.BasicAuth()
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="fluxgate"`)
		writeJSONError(w, http.StatusUnauthorized, auth.ErrNoCredentials.Error())
		return
	}

	token, err := s.auth.Login(r.Context(), username, password)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="fluxgate"`)
		writeJSONError(w, http.StatusUnauthorized, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: token, TokenType: "Bearer"})
}

// readDataset decodes an Arrow IPC request body, writing the error
// response itself when decoding fails.
func (s *Server) readDataset(w http.ResponseWriter, r *http.Request) (tabular.Dataset, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, wire.MaxFrameSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		} else {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err))
		}
		return tabular.Dataset{}, false
	}

	ds, err := tabular.Unmarshal(body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid arrow stream body: %v", err))
		return tabular.Dataset{}, false
	}
	return ds, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
