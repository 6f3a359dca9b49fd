package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/jcdickinson/implindex/internal/cas"
	"github.com/jcdickinson/implindex/internal/db"
	"github.com/jcdickinson/implindex/internal/fragment"
	"github.com/jcdickinson/implindex/internal/implreg"
	"github.com/jcdickinson/implindex/internal/rpc"
)

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req rpc.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Source == "" {
		req.Source = req.Name
	}

	format, err := fragment.ParseFormat(req.Format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.submitRaw(req.Source, req.Name, []byte(req.Content), format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// submitRaw decodes raw fragment bytes, journals them and hands the payload
// to the registry. A fragment that yields no groups at all is rejected; one
// with some malformed entries is accepted and the rest are dropped by the
// registry.
func (s *Server) submitRaw(source, name string, data []byte, format fragment.Format) (rpc.SubmitResponse, error) {
	p, used, err := fragment.Decode(source, name, data, format)
	if err != nil && len(p.Groups) == 0 {
		return rpc.SubmitResponse{}, fmt.Errorf("decoding %s fragment %q: %w", used, name, err)
	}
	if err != nil {
		log.Printf("daemon: partial decode of %q: %v", name, err)
	}

	resp := summarize(p)
	resp.Format = string(used)
	resp.Journaled = s.journal(source, name, used, data, p.EntryCount())
	s.submit(p, &resp)
	return resp, nil
}

// submitPayload journals an already decoded payload in the JSON wire shape
// and submits it.
func (s *Server) submitPayload(name string, p implreg.Payload) (rpc.SubmitResponse, error) {
	data, err := fragment.EncodeJSON(p.Groups)
	if err != nil {
		return rpc.SubmitResponse{}, fmt.Errorf("encoding payload: %w", err)
	}
	resp := summarize(p)
	resp.Format = string(fragment.FormatJSON)
	resp.Journaled = s.journal(p.Source, name, fragment.FormatJSON, data, p.EntryCount())
	s.submit(p, &resp)
	return resp, nil
}

// submit hands p to the registry and records what the registry did with it.
// A queued payload keeps the counts from summarize.
func (s *Server) submit(p implreg.Payload, resp *rpc.SubmitResponse) {
	u, queued := s.reg.Submit(p)
	resp.Queued = queued
	if queued {
		return
	}
	resp.Entries = u.Accepted
	resp.Duplicates = u.Duplicates
	resp.Malformed = u.Malformed
}

func summarize(p implreg.Payload) rpc.SubmitResponse {
	var resp rpc.SubmitResponse
	for _, g := range p.Groups {
		resp.Traits = append(resp.Traits, string(g.Trait))
		for _, e := range g.Entries {
			if g.Trait == "" || e.Identity() == "" {
				resp.Malformed++
				continue
			}
			resp.Entries++
		}
	}
	return resp
}

// journal records data for replay. Failures are logged, never returned: the
// registry accepts submissions whether or not they persist.
func (s *Server) journal(source, name string, format fragment.Format, data []byte, entries int) bool {
	if s.db == nil {
		return false
	}
	hash, err := cas.Write(data)
	if err != nil {
		log.Printf("daemon: journaling %q: %v", name, err)
		return false
	}
	seen, err := s.db.HasFragment(name, hash)
	if err != nil {
		log.Printf("daemon: journaling %q: %v", name, err)
		return false
	}
	if seen {
		return true
	}
	f := &db.Fragment{
		Source:      source,
		Name:        name,
		Format:      string(format),
		ContentHash: hash,
		Entries:     entries,
	}
	if err := s.db.AppendFragment(f); err != nil {
		log.Printf("daemon: journaling %q: %v", name, err)
		return false
	}
	return true
}

// replayJournal resubmits every journaled fragment in its original order.
// Unreadable fragments are skipped.
func (s *Server) replayJournal() (int, error) {
	if s.db == nil {
		return 0, nil
	}
	frags, err := s.db.ListFragments()
	if err != nil {
		return 0, err
	}

	n := 0
	for _, f := range frags {
		data, err := cas.Read(f.ContentHash)
		if err != nil {
			log.Printf("daemon: replay seq %d: %v", f.Seq, err)
			continue
		}
		p, _, err := fragment.Decode(f.Source, f.Name, data, fragment.Format(f.Format))
		if err != nil && len(p.Groups) == 0 {
			log.Printf("daemon: replay seq %d: %v", f.Seq, err)
			continue
		}
		s.reg.Submit(p)
		n++
	}
	return n, nil
}

func (s *Server) clearJournal() error {
	if s.db == nil {
		return nil
	}
	return errors.Join(s.db.ClearFragments(), cas.Clear())
}
