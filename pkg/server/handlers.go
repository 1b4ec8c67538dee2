package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-kit/log/level"
	"github.com/goccy/go-json"
	"github.com/zeebo/xxh3"

	"github.com/mrchypark/dotori"
	"github.com/mrchypark/dotori/pkg/clock"
)

// setRequest is the PUT /cache body. Pointers distinguish missing fields
// from zero values; TTL stays raw so a quoted number can be told apart
// from a real one.
type setRequest struct {
	Key   *string         `json:"key"`
	Value *string         `json:"value"`
	TTL   json.RawMessage `json:"ttl"`
}

type valueResponse struct {
	Value string `json:"value"`
}

type errorResponse struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	value, err := s.store.Get(key)
	if err != nil {
		s.writeCacheError(w, r, err)
		return
	}

	etag := ETag(value)
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	s.writeJSON(w, r, http.StatusOK, valueResponse{Value: value})
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(w, r, http.StatusBadRequest, "failed to read request body")
		return
	}

	req, err := decodeSetRequest(body)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.Set(req.key, req.value, req.ttl); err != nil {
		s.writeCacheError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.PathValue("key")); err != nil {
		s.writeCacheError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// setCommand is a validated setRequest.
type setCommand struct {
	key   string
	value string
	ttl   clock.Seconds
}

// decodeSetRequest parses and validates a PUT body: a single JSON object
// whose key and value are strings and whose ttl is an integral JSON number
// of seconds.
func decodeSetRequest(body []byte) (setCommand, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var req setRequest
	if err := dec.Decode(&req); err != nil {
		return setCommand{}, fmt.Errorf("invalid request body: %w", err)
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return setCommand{}, errors.New("invalid request body: unexpected data after JSON object")
	}

	var problems []string
	if req.Key == nil {
		problems = append(problems, "key must be a string")
	}
	if req.Value == nil {
		problems = append(problems, "value must be a string")
	}
	ttl, err := parseTTL(req.TTL)
	if err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return setCommand{}, errors.New(strings.Join(problems, ", "))
	}
	return setCommand{key: *req.Key, value: *req.Value, ttl: ttl}, nil
}

func parseTTL(raw json.RawMessage) (clock.Seconds, error) {
	tok := strings.TrimSpace(string(raw))
	if tok == "" || tok == "null" || (tok[0] != '-' && (tok[0] < '0' || tok[0] > '9')) {
		return 0, errors.New("ttl must be a number")
	}
	n, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return 0, errors.New("ttl must be an integer number of seconds")
	}
	return clock.Seconds(n), nil
}

// ETag returns a strong entity tag for value.
func ETag(value string) string {
	return fmt.Sprintf(`"%016x"`, xxh3.HashString(value))
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// writeCacheError maps typed cache errors to status codes.
func (s *Server) writeCacheError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, dotori.ErrNotFound):
		s.writeError(w, r, http.StatusNotFound, "Not Found")
	case errors.Is(err, dotori.ErrPayloadTooLarge):
		s.writeError(w, r, http.StatusRequestEntityTooLarge, err.Error())
	default:
		level.Error(s.logger).Log("msg", "cache operation failed", "request_id", r.Header.Get(RequestIDHeader), "err", err)
		s.writeError(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.writeJSON(w, r, status, errorResponse{StatusCode: status, Message: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		level.Error(s.logger).Log("msg", "failed to encode response", "request_id", r.Header.Get(RequestIDHeader), "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		level.Debug(s.logger).Log("msg", "failed to write response", "request_id", r.Header.Get(RequestIDHeader), "err", err)
	}
}
