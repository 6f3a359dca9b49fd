package daemon

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/jcdickinson/implindex/internal/fragment"
	"github.com/jcdickinson/implindex/internal/implreg"
	"github.com/jcdickinson/implindex/internal/rpc"
)

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req rpc.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := implreg.TraitKey(strings.TrimSpace(req.Trait))
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing trait")
		return
	}

	resp := rpc.QueryResponse{
		Trait:   string(key),
		Phase:   s.reg.Phase().String(),
		Entries: []rpc.Entry{},
	}
	for _, e := range s.reg.Query(key) {
		resp.Entries = append(resp.Entries, rpc.Entry{
			Label:     e.Label,
			Text:      fragment.PlainLabel(e.Label),
			Identity:  e.Identity(),
			Path:      e.Path,
			Generics:  e.Generics,
			TraitArgs: e.TraitArgs,
			Crate:     e.Crate,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req rpc.RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := implreg.TraitKey(strings.TrimSpace(req.Trait))
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing trait")
		return
	}
	if !s.renderer.Ready() {
		writeError(w, http.StatusServiceUnavailable, "renderer not attached yet")
		return
	}

	var resp rpc.RenderResponse
	if req.HTML {
		resp.Content, resp.Rendered = s.renderer.HTML(key)
	} else {
		resp.Content, resp.Rendered = s.renderer.Markdown(key)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTraits(w http.ResponseWriter, r *http.Request) {
	resp := rpc.TraitsResponse{Traits: []rpc.TraitSummary{}}
	for _, key := range s.reg.Traits() {
		resp.Traits = append(resp.Traits, rpc.TraitSummary{
			Trait:        string(key),
			Implementors: len(s.reg.Query(key)),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
