package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/paleotronic/storem8/disk"
	"github.com/paleotronic/storem8/loggy"
)

// maxUpload bounds PUT bodies; the largest image is 32M.
const maxUpload = 32 << 20

// server exposes one mounted volume. Every request holds the lock, and
// changes are saved before the response is sent.
type server struct {
	sync.Mutex
	v      *volume
	router *mux.Router
	save   func(v *volume) error
}

func newServer(v *volume) *server {
	s := &server{v: v, save: (*volume).save}
	r := mux.NewRouter()
	r.HandleFunc("/disk", s.handleDisk).Methods(http.MethodGet)
	r.HandleFunc("/files", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/files/{name:.+}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/files/{name:.+}", s.handlePut).Methods(http.MethodPut)
	r.HandleFunc("/files/{name:.+}", s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/usage", s.handleUsage).Methods(http.MethodGet)
	r.Use(s.logRequests)
	s.router = r
	return s
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func serve(addr string, s *server) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	loggy.Get(0).Logf("serving %s on http://%s", s.v, addr)
	return srv.ListenAndServe()
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loggy.Get(0).Debugf("http: %s %s", r.Method, r.URL)
		next.ServeHTTP(w, r)
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, disk.ErrDiskFull):
		return http.StatusInsufficientStorage
	case errors.Is(err, disk.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, disk.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, disk.ErrUnsupported):
		return http.StatusMethodNotAllowed
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		loggy.Get(0).Errorf("http: %v", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

type diskInfo struct {
	Path   string `json:"path"`
	Volume int    `json:"volume"`
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	Order  string `json:"order"`
	Size   int    `json:"size"`
	Free   int    `json:"free"`
	Used   int    `json:"used"`
}

func (s *server) handleDisk(w http.ResponseWriter, r *http.Request) {
	s.Lock()
	defer s.Unlock()
	fd := s.v.fd()
	writeJSON(w, http.StatusOK, diskInfo{
		Path:   s.v.path,
		Volume: s.v.index,
		Kind:   fd.Kind().String(),
		Name:   fd.DiskName(),
		Order:  s.v.image.Order.Order().String(),
		Size:   s.v.image.Order.Size(),
		Free:   fd.FreeSpace(),
		Used:   fd.UsedSpace(),
	})
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	mode, err := disk.ParseDisplayMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, err)
		return
	}
	s.Lock()
	defer s.Unlock()
	files, err := filesIn(s.v.fd(), r.URL.Query().Get("dir"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, catalogRows(s.v.fd(), files, mode))
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.Lock()
	defer s.Unlock()
	fe, data, err := extractFile(s.v.fd(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Filetype", fe.Filetype())
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *server) handlePut(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUpload+1))
	if err != nil {
		writeError(w, err)
		return
	}
	if len(data) > maxUpload {
		writeError(w, fmt.Errorf("%w: body over %d bytes", disk.ErrInvalidArgument, maxUpload))
		return
	}
	addr, err := parseAddress(r.URL.Query().Get("addr"))
	if err != nil {
		writeError(w, err)
		return
	}

	s.Lock()
	defer s.Unlock()
	fe, err := putFile(s.v.fd(), mux.Vars(r)["name"], data, r.URL.Query().Get("type"), addr)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.save(s.v); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"name": fe.Name(),
		"type": fe.Filetype(),
		"size": fe.Size(),
	})
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.Lock()
	defer s.Unlock()
	if err := deleteFile(s.v.fd(), mux.Vars(r)["name"]); err != nil {
		writeError(w, err)
		return
	}
	if err := s.save(s.v); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type usageReport struct {
	Width int    `json:"width"`
	Used  []bool `json:"used"`
	Free  int    `json:"free"`
}

func (s *server) handleUsage(w http.ResponseWriter, r *http.Request) {
	s.Lock()
	defer s.Unlock()
	used, width := disk.UsageMap(s.v.fd())
	free := 0
	for _, u := range used {
		if !u {
			free++
		}
	}
	writeJSON(w, http.StatusOK, usageReport{Width: width, Used: used, Free: free})
}
