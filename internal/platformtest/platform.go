// Package platformtest provides an in-memory implementation of the platform
// object API for tests.
package platformtest

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ligustah/objstream/pkg/transport"
)

// Route names accepted by Fail and Calls.
const (
	RouteNew          = "new"
	RouteDescribe     = "describe"
	RouteUpload       = "upload"
	RouteUploadData   = "upload-data"
	RouteDownload     = "download"
	RouteDownloadData = "download-data"
	RouteClose        = "close"
)

// Token is the bearer token the server expects on API routes.
const Token = "test-token"

type object struct {
	id      string
	project string
	name    string
	media   string
	state   string
	parts   map[int][]byte
	data    []byte
	closing int
}

type fault struct {
	remaining int
	status    int
	errType   string
	message   string
}

// Server is a fake platform. The zero value is not usable; create one with
// New.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	objects   map[string]*object
	nonces    map[string]string
	uploads   map[string]uploadGrant
	downloads map[string]string
	faults    map[string]*fault
	calls     map[string]int

	closingPolls int
	readDelay    time.Duration
	uploadDelay  time.Duration
	locationTTL  time.Duration

	activeReads   int
	peakReads     int
	activeUploads int
	peakUploads   int
}

type uploadGrant struct {
	id    string
	index int
}

// New starts a fake platform that is shut down when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		objects:   make(map[string]*object),
		nonces:    make(map[string]string),
		uploads:   make(map[string]uploadGrant),
		downloads: make(map[string]string),
		faults:    make(map[string]*fault),
		calls:     make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /file/new", s.api(RouteNew, s.handleNew))
	mux.HandleFunc("POST /{id}/describe", s.api(RouteDescribe, s.handleDescribe))
	mux.HandleFunc("POST /{id}/upload", s.api(RouteUpload, s.handleUpload))
	mux.HandleFunc("POST /{id}/download", s.api(RouteDownload, s.handleDownload))
	mux.HandleFunc("POST /{id}/close", s.api(RouteClose, s.handleClose))
	mux.HandleFunc("POST /data/upload/{token}", s.handleUploadData)
	mux.HandleFunc("GET /data/download/{token}", s.handleDownloadData)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// ClientOptions returns transport options pointing at the server, with a
// millisecond retry unit so backoff stays short.
func (s *Server) ClientOptions() transport.Options {
	return transport.Options{
		APIServer: s.URL,
		Token:     Token,
		RetryUnit: time.Millisecond,
	}
}

// APIClient returns a transport client for the server.
func (s *Server) APIClient() *transport.Client {
	return transport.NewClient(s.ClientOptions())
}

// Fail makes the next n requests to route fail with status. API routes answer
// with an error envelope of type errType; data routes answer with plain text.
func (s *Server) Fail(route string, n, status int, errType, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[route] = &fault{remaining: n, status: status, errType: errType, message: message}
}

// Calls returns the number of requests received on route, failed ones
// included.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// PeakReads returns the largest number of ranged reads served at once.
func (s *Server) PeakReads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peakReads
}

// PeakUploads returns the largest number of part uploads served at once.
func (s *Server) PeakUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peakUploads
}

// SetUploadDelay delays every part upload by d.
func (s *Server) SetUploadDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadDelay = d
}

// SetClosingPolls sets how many describe calls report a closed object as
// still closing.
func (s *Server) SetClosingPolls(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closingPolls = n
}

// SetReadDelay delays ranged reads; the delay shrinks with the range offset
// so that later ranges tend to finish first.
func (s *Server) SetReadDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readDelay = d
}

// SetLocationTTL sets the lifetime reported for download locations.
func (s *Server) SetLocationTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locationTTL = d
}

// RevokeLocations invalidates every download location issued so far.
func (s *Server) RevokeLocations() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads = make(map[string]string)
}

// AddClosed seeds a closed object with data and returns its id.
func (s *Server) AddClosed(data []byte) string {
	return s.AddClosedNamed("", "", data)
}

// AddClosedNamed is AddClosed with a name and media type.
func (s *Server) AddClosedNamed(name, media string, data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.newObject("", name, media)
	o.parts[1] = data
	o.data = append([]byte(nil), data...)
	o.state = "closed"
	return o.id
}

// AddOpen seeds an open object without parts and returns its id.
func (s *Server) AddOpen() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newObject("", "", "").id
}

// Object returns a snapshot of an object's state, its parts and, once
// closing, its content.
func (s *Server) Object(id string) (state string, parts map[int][]byte, data []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[id]
	if !ok {
		return "", nil, nil, false
	}
	parts = make(map[int][]byte, len(o.parts))
	for i, p := range o.parts {
		parts[i] = append([]byte(nil), p...)
	}
	return o.state, parts, append([]byte(nil), o.data...), true
}

// Objects returns the number of objects on the server.
func (s *Server) Objects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func (s *Server) newObject(project, name, media string) *object {
	id := "file-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	o := &object{
		id:      id,
		project: project,
		name:    name,
		media:   media,
		state:   "open",
		parts:   make(map[int][]byte),
	}
	s.objects[id] = o
	return o
}

// injected consumes a pending fault for route.
func (s *Server) injected(route string) *fault {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[route]++
	f := s.faults[route]
	if f == nil || f.remaining == 0 {
		return nil
	}
	f.remaining--
	return f
}

type apiHandler func(r *http.Request, body map[string]any) (any, int, string, string)

// api wraps an API route: it checks the auth and version headers, applies
// injected faults and renders the JSON response or error envelope.
func (s *Server) api(route string, h apiHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if f := s.injected(route); f != nil {
			writeError(w, f.status, f.errType, f.message)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+Token {
			writeError(w, http.StatusUnauthorized, "InvalidAuthentication", "missing or invalid token")
			return
		}
		if r.Header.Get(transport.HeaderAPIVersion) == "" {
			writeError(w, http.StatusBadRequest, "InvalidInput", "missing API version header")
			return
		}

		body := map[string]any{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "InvalidInput", "malformed JSON body")
			return
		}

		out, status, errType, msg := h(r, body)
		if errType != "" {
			writeError(w, status, errType, msg)
			return
		}
		writeJSON(w, out)
	}
}

func (s *Server) handleNew(r *http.Request, body map[string]any) (any, int, string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nonce, _ := body["nonce"].(string)
	if nonce != "" {
		if id, ok := s.nonces[nonce]; ok {
			return map[string]any{"id": id}, 0, "", ""
		}
	}
	project, _ := body["project"].(string)
	name, _ := body["name"].(string)
	media, _ := body["media"].(string)
	o := s.newObject(project, name, media)
	if nonce != "" {
		s.nonces[nonce] = o.id
	}
	return map[string]any{"id": o.id}, 0, "", ""
}

func (s *Server) lookup(r *http.Request) (*object, int, string, string) {
	o, ok := s.objects[r.PathValue("id")]
	if !ok {
		return nil, http.StatusNotFound, "ResourceNotFound", fmt.Sprintf("object %q not found", r.PathValue("id"))
	}
	return o, 0, "", ""
}

func (s *Server) handleDescribe(r *http.Request, _ map[string]any) (any, int, string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, status, errType, msg := s.lookup(r)
	if o == nil {
		return nil, status, errType, msg
	}
	if o.state == "closing" {
		if o.closing > 0 {
			o.closing--
		} else {
			o.state = "closed"
		}
	}
	var size int
	if o.state == "closed" {
		size = len(o.data)
	}
	return map[string]any{
		"id":      o.id,
		"class":   "file",
		"project": o.project,
		"name":    o.name,
		"media":   o.media,
		"state":   o.state,
		"size":    size,
	}, 0, "", ""
}

func (s *Server) handleUpload(r *http.Request, body map[string]any) (any, int, string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, status, errType, msg := s.lookup(r)
	if o == nil {
		return nil, status, errType, msg
	}
	if o.state != "open" {
		return nil, http.StatusUnprocessableEntity, transport.ErrNameInvalidState, "object is not open"
	}
	index := 1
	if v, ok := body["index"].(float64); ok {
		index = int(v)
	}
	if index < 1 || index > 10000 {
		return nil, http.StatusUnprocessableEntity, transport.ErrNameInvalidInput, "part index out of range"
	}

	token := uuid.NewString()
	s.uploads[token] = uploadGrant{id: o.id, index: index}
	return map[string]any{
		"url":     s.URL + "/data/upload/" + token,
		"headers": map[string]string{"X-Upload-Grant": token},
	}, 0, "", ""
}

func (s *Server) handleUploadData(w http.ResponseWriter, r *http.Request) {
	if f := s.injected(RouteUploadData); f != nil {
		http.Error(w, f.message, f.status)
		return
	}
	token := r.PathValue("token")
	if r.Header.Get("Authorization") != "" {
		http.Error(w, "upload locations are pre-authenticated", http.StatusBadRequest)
		return
	}
	if r.Header.Get("X-Upload-Grant") != token {
		http.Error(w, "missing upload grant header", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sum := md5.Sum(data)
	if r.Header.Get("Content-MD5") != hex.EncodeToString(sum[:]) {
		http.Error(w, "checksum mismatch", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	delay := s.uploadDelay
	s.activeUploads++
	if s.activeUploads > s.peakUploads {
		s.peakUploads = s.activeUploads
	}
	s.mu.Unlock()
	time.Sleep(delay)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeUploads--
	grant, ok := s.uploads[token]
	if !ok {
		http.Error(w, "upload location already used", http.StatusForbidden)
		return
	}
	delete(s.uploads, token)
	o := s.objects[grant.id]
	if o.state != "open" {
		http.Error(w, "object is not open", http.StatusConflict)
		return
	}
	o.parts[grant.index] = data
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDownload(r *http.Request, body map[string]any) (any, int, string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, status, errType, msg := s.lookup(r)
	if o == nil {
		return nil, status, errType, msg
	}
	if o.state != "closed" {
		return nil, http.StatusUnprocessableEntity, transport.ErrNameInvalidState, "object is not closed"
	}

	ttl := s.locationTTL
	if ttl == 0 {
		if d, ok := body["duration"].(float64); ok {
			ttl = time.Duration(d) * time.Second
		}
	}
	token := uuid.NewString()
	s.downloads[token] = o.id
	out := map[string]any{
		"url":     s.URL + "/data/download/" + token,
		"headers": map[string]string{},
	}
	if ttl > 0 {
		out["expires"] = time.Now().Add(ttl).UnixMilli()
	}
	return out, 0, "", ""
}

func (s *Server) handleDownloadData(w http.ResponseWriter, r *http.Request) {
	if f := s.injected(RouteDownloadData); f != nil {
		http.Error(w, f.message, f.status)
		return
	}

	s.mu.Lock()
	id, ok := s.downloads[r.PathValue("token")]
	var data []byte
	if ok {
		data = s.objects[id].data
	}
	delay := s.readDelay
	s.activeReads++
	if s.activeReads > s.peakReads {
		s.peakReads = s.activeReads
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.activeReads--
		s.mu.Unlock()
	}()

	if !ok {
		http.Error(w, "download location expired", http.StatusForbidden)
		return
	}

	size := int64(len(data))
	start, end, ok := parseRange(r.Header.Get("Range"), size)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "invalid range", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	if delay > 0 && size > 0 {
		// Earlier ranges wait longer.
		time.Sleep(delay - time.Duration(float64(delay)*float64(start)/float64(size)))
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.WriteHeader(http.StatusPartialContent)
	w.Write(data[start : end+1])
}

// parseRange parses "bytes=start-end" (inclusive) against size.
func parseRange(h string, size int64) (start, end int64, ok bool) {
	rng, found := strings.CutPrefix(h, "bytes=")
	if !found {
		return 0, 0, false
	}
	from, to, found := strings.Cut(rng, "-")
	if !found {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(from, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	end, err = strconv.ParseInt(to, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if end >= size {
		end = size - 1
	}
	if start < 0 || start > end {
		return 0, 0, false
	}
	return start, end, true
}

func (s *Server) handleClose(r *http.Request, _ map[string]any) (any, int, string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, status, errType, msg := s.lookup(r)
	if o == nil {
		return nil, status, errType, msg
	}
	switch o.state {
	case "closing", "closed":
		return map[string]any{"id": o.id}, 0, "", ""
	}
	if len(o.parts) == 0 {
		return nil, http.StatusUnprocessableEntity, transport.ErrNameInvalidState, "object has no parts; upload at least one part before closing"
	}

	indexes := make([]int, 0, len(o.parts))
	for i := range o.parts {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	o.data = o.data[:0]
	for _, i := range indexes {
		o.data = append(o.data, o.parts[i]...)
	}
	o.state = "closing"
	o.closing = s.closingPolls
	return map[string]any{"id": o.id}, 0, "", ""
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"type": errType, "message": message},
	})
}
