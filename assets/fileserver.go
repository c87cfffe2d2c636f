package assets

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileServer serves GET and HEAD requests from the Resolver's ordered roots.
// A directory path serves its index.html.
type FileServer struct {
	res *Resolver
}

// NewFileServer returns a FileServer backed by res.
func NewFileServer(res *Resolver) *FileServer {
	return &FileServer{res: res}
}

func (fs *FileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	clean := path.Clean("/" + r.URL.Path)
	fp, ok := fs.res.Locate(clean)
	if !ok {
		fp, ok = fs.locateIndex(clean)
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(fp) // #nosec G304 – fp is confined to a configured root
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !strings.HasSuffix(fp, ".html") {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	}
	http.ServeContent(w, r, filepath.Base(fp), fi.ModTime(), f)
}

func (fs *FileServer) locateIndex(clean string) (string, bool) {
	for _, root := range fs.res.roots {
		dir := filepath.Join(root, filepath.FromSlash(clean))
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			continue
		}
		idx := filepath.Join(dir, "index.html")
		if fi, err := os.Stat(idx); err == nil && fi.Mode().IsRegular() {
			return idx, true
		}
	}
	return "", false
}
