/*
Package server serves a packed atlas over HTTP.

The routes are:

	/atlas.png                    the atlas image
	/manifest.{json,toml,yaml}    the manifest in the requested format
	/frames/{identifier}.png      a single frame cut out of the atlas

Every response carries an ETag so clients can revalidate with If-None-Match.
*/
package server

import (
	"bytes"
	"fmt"
	"image/png"
	"net/http"

	"github.com/bodgit/atlaspack"
	"github.com/bodgit/atlaspack/manifest"
	"github.com/cespare/xxhash/v2"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

const cacheControl = "public, max-age=3600"

// Server holds an atlas and its pre-encoded image.
type Server struct {
	atlas    *atlaspack.Atlas
	manifest manifest.Manifest
	image    []byte
	etag     string
}

// New returns a Server for a. colors is passed to atlaspack.WriteImage.
func New(a *atlaspack.Atlas, colors int) (*Server, error) {
	b := new(bytes.Buffer)
	if err := atlaspack.WriteImage(b, a.Canvas, colors); err != nil {
		return nil, err
	}

	return &Server{
		atlas:    a,
		manifest: a.Manifest(),
		image:    b.Bytes(),
		etag:     fmt.Sprintf(`"atlas:%016x:%d"`, a.Digest(), colors),
	}, nil
}

func etag(kind string, b []byte) string {
	return fmt.Sprintf(`"%s:%016x"`, kind, xxhash.Sum64(b))
}

// serve writes b unless the client already has it.
func serve(w http.ResponseWriter, r *http.Request, contentType, tag string, b []byte) {
	w.Header().Set("Cache-Control", cacheControl)
	w.Header().Set("ETag", tag)

	if r.Header.Get("If-None-Match") == tag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(b)
	}
}

func (s *Server) atlasHandler(w http.ResponseWriter, r *http.Request) {
	serve(w, r, "image/png", s.etag, s.image)
}

func (s *Server) manifestHandler(w http.ResponseWriter, r *http.Request) {
	f, err := manifest.ParseFormat(mux.Vars(r)["format"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	b, err := s.manifest.Marshal(f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	serve(w, r, f.ContentType(), etag("manifest", b), b)
}

func (s *Server) frameHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	m, ok := s.atlas.Frame(id)
	if !ok {
		http.Error(w, fmt.Sprintf("no frame %q", id), http.StatusNotFound)
		return
	}

	b := new(bytes.Buffer)
	if err := png.Encode(b, m); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	serve(w, r, "image/png", etag("frame", b.Bytes()), b.Bytes())
}

// RegisterRoutes adds the atlas routes to r.
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/atlas.png", s.atlasHandler).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/manifest.{format:json|toml|yaml|yml}", s.manifestHandler).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/frames/{id}.png", s.frameHandler).Methods(http.MethodGet, http.MethodHead)
}

// Handler returns a compressing handler serving every route.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.RegisterRoutes(r)
	return handlers.CompressHandler(r)
}
