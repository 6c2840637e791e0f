package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/tsgd/tsgd/pkg/types"
	"github.com/tsgd/tsgd/pkg/vgpu"
)

func (s *Server) handleRemoteBind(w http.ResponseWriter, r *http.Request) {
	s.handleRemote(w, r, s.host.BindChannelEx)
}

func (s *Server) handleRemoteUnbind(w http.ResponseWriter, r *http.Request) {
	s.handleRemote(w, r, s.host.UnbindChannel)
}

// handleRemote answers guests with a bare status code rather than the usual
// envelope.
func (s *Server) handleRemote(w http.ResponseWriter, r *http.Request,
	exec func(context.Context, types.BindChannelRequest) vgpu.Status) {
	w.Header().Set("Content-Type", "application/json")

	var req types.BindChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(vgpu.Response{Ret: vgpu.StatusInvalid})
		return
	}

	json.NewEncoder(w).Encode(vgpu.Response{Ret: exec(r.Context(), req)})
}
