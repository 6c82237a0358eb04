package handler

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"paint-server/internal/metrics"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
)

// IndexFile is served for directory requests ending in a slash
const IndexFile = "index.html"

// StaticHandler serves files from a directory tree verbatim
type StaticHandler struct {
	root    http.FileSystem
	metrics *metrics.Metrics
}

// NewStaticHandler creates a handler serving files under root
func NewStaticHandler(root http.FileSystem, metrics *metrics.Metrics) *StaticHandler {
	return &StaticHandler{
		root:    root,
		metrics: metrics,
	}
}

// ServeHTTP handles GET /<relative-path>
func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upath := r.URL.Path
	if !strings.HasPrefix(upath, "/") {
		upath = "/" + upath
	}

	if hasDotSegment(upath) || strings.ContainsRune(upath, 0) {
		h.notFound(w, r)
		return
	}

	f, fi, err := openFile(h.root, upath)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer f.Close()

	if fi.IsDir() {
		index, indexInfo, err := openFile(h.root, path.Join(upath, IndexFile))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		defer index.Close()

		if indexInfo.IsDir() {
			h.notFound(w, r)
			return
		}

		if !strings.HasSuffix(r.URL.Path, "/") {
			target := r.URL.EscapedPath() + "/"
			if r.URL.RawQuery != "" {
				target += "?" + r.URL.RawQuery
			}
			http.Redirect(w, r, target, http.StatusMovedPermanently)
			return
		}

		f, fi = index, indexInfo
	}

	h.metrics.IncrementFilesServed()
	http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
}

func (h *StaticHandler) notFound(w http.ResponseWriter, r *http.Request) {
	h.metrics.IncrementNotFound()
	http.NotFound(w, r)
}

func (h *StaticHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, h.metrics, err)
}

// EntryHandler serves one fixed file, used for the root path
type EntryHandler struct {
	fs      http.FileSystem
	name    string
	metrics *metrics.Metrics
}

// NewEntryHandler creates a handler that always serves the file at entryPath
func NewEntryHandler(entryPath string, metrics *metrics.Metrics) *EntryHandler {
	return &EntryHandler{
		fs:      http.Dir(filepath.Dir(entryPath)),
		name:    "/" + filepath.Base(entryPath),
		metrics: metrics,
	}
}

// ServeHTTP handles GET /
func (h *EntryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f, fi, err := openFile(h.fs, h.name)
	if err != nil {
		writeError(w, r, h.metrics, err)
		return
	}
	defer f.Close()

	if fi.IsDir() {
		writeError(w, r, h.metrics, fmt.Errorf("entry %s is a directory: %w", h.name, errdefs.ErrNotFound))
		return
	}

	h.metrics.IncrementEntryServed()
	http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
}

// openFile opens name and stats it, classifying failures with errdefs
func openFile(fsys http.FileSystem, name string) (http.File, fs.FileInfo, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, nil, classify(name, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, classify(name, err)
	}

	return f, fi, nil
}

func classify(name string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, syscall.ENAMETOOLONG),
		errors.Is(err, syscall.ENOTDIR),
		errors.Is(err, syscall.EINVAL):
		// the name cannot refer to anything on disk
		return fmt.Errorf("%s: %w", name, errdefs.ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s: %w: %v", name, errdefs.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%s: %w: %v", name, errdefs.ErrInternal, err)
	}
}

// writeError maps a classified error to a 404 or a generic 500
func writeError(w http.ResponseWriter, r *http.Request, m *metrics.Metrics, err error) {
	if errdefs.IsNotFound(err) {
		m.IncrementNotFound()
		http.NotFound(w, r)
		return
	}

	m.IncrementErrors()
	log.G(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("failed to read file")
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func hasDotSegment(upath string) bool {
	for _, seg := range strings.Split(upath, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
