package frontend

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleHLSPlaylist(legacy bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.touchHLS()
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Write([]byte(s.hls.Playlist(!legacy)))
	}
}

func (s *Server) handleHLSInit(w http.ResponseWriter, r *http.Request) {
	s.touchHLS()
	init := s.hls.InitSegment()
	if init == nil {
		http.Error(w, "init segment not ready", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Write(init)
}

func (s *Server) handleHLSSegment(w http.ResponseWriter, r *http.Request) {
	s.touchHLS()
	n, err := parseSegmentParam(chi.URLParam(r, "n"))
	if err != nil {
		http.Error(w, "bad segment number", http.StatusBadRequest)
		return
	}
	seg := s.hls.GetSegment(n)
	if seg == nil {
		http.Error(w, "segment not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Write(seg.Data)
}

func (s *Server) handleHLSPart(w http.ResponseWriter, r *http.Request) {
	s.touchHLS()
	n, err := parseSegmentParam(chi.URLParam(r, "n"))
	if err != nil {
		http.Error(w, "bad segment number", http.StatusBadRequest)
		return
	}
	p, err := parseSegmentParam(chi.URLParam(r, "p"))
	if err != nil {
		http.Error(w, "bad part number", http.StatusBadRequest)
		return
	}
	data := s.hls.GetPart(n, p)
	if data == nil {
		http.Error(w, "part not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Write(data)
}
