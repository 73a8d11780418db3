package server

import (
	"context"
	"net/http"

	"github.com/examprep/examprep/pkg/errors"
	"github.com/examprep/examprep/pkg/render"
)

type renderRequest struct {
	TikZCode string `json:"tikzCode" validate:"required"`
}

type renderDOTRequest struct {
	DOT string `json:"dot" validate:"required"`
}

type renderResponse struct {
	Success bool   `json:"success"`
	Type    string `json:"type"`
	DataURL string `json:"dataUrl"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	// A client disconnect must not abort a render halfway; the stage
	// timeouts bound it instead.
	res, err := s.deps.Renderer.Render(context.WithoutCancel(r.Context()), req.TikZCode)
	s.writeRender(w, r, res, err)
}

func (s *Server) handleRenderDOT(w http.ResponseWriter, r *http.Request) {
	var req renderDOTRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Renderer.RenderDOT(context.WithoutCancel(r.Context()), req.DOT)
	s.writeRender(w, r, res, err)
}

func (s *Server) writeRender(w http.ResponseWriter, r *http.Request, res *render.Result, err error) {
	if err != nil {
		if errors.HTTPStatus(err) == http.StatusBadRequest {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: errors.Detail(err)})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Render failed: " + errors.Detail(err)})
		return
	}
	writeJSON(w, http.StatusOK, renderResponse{Success: true, Type: res.Type, DataURL: res.DataURL})
}
