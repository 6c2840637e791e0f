package server

import (
	"net/http"

	"github.com/tsgd/tsgd/internal/tsg"
	tcontext "github.com/tsgd/tsgd/pkg/context"
	"github.com/tsgd/tsgd/pkg/types"
)

type openGroupResponse struct {
	Handle tsg.Handle          `json:"handle"`
	Group  types.GroupSnapshot `json:"group"`
}

func (s *Server) handleOpenGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunlistID uint32 `json:"runlist_id"`
		Abortable *bool  `json:"abortable"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondBadRequest(w, r, "invalid JSON body: "+err.Error())
		return
	}

	ctx := tcontext.WithOperation(r.Context(), "open")
	g, err := s.manager.Open(ctx, req.RunlistID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if req.Abortable != nil {
		g.SetAbortable(*req.Abortable)
	}

	// The caller owns the reference taken by Open until it posts release.
	respondCreated(w, r, openGroupResponse{Handle: g.Handle(), Group: g.Snapshot()})
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, s.manager.Snapshot())
}

// group resolves the {handle} parameter ("id.gen") and retains that
// lifetime of the group. The caller must release it.
func (s *Server) group(w http.ResponseWriter, r *http.Request) (*tsg.Group, bool) {
	h, err := handleParam(r, "handle")
	if err != nil {
		respondBadRequest(w, r, "invalid tsg handle, want id.gen")
		return nil, false
	}
	g, err := s.manager.Acquire(h)
	if err != nil {
		respondError(w, r, err)
		return nil, false
	}
	return g, true
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, ok := s.group(w, r)
	if !ok {
		return
	}
	defer g.Release()

	snap := g.Snapshot()
	snap.RefCount--
	respondOK(w, r, snap)
}

func (s *Server) handleRetainGroup(w http.ResponseWriter, r *http.Request) {
	g, ok := s.group(w, r)
	if !ok {
		return
	}
	// The lookup reference becomes the caller's.
	respondOK(w, r, map[string]int32{"refCount": g.RefCount()})
}

func (s *Server) handleReleaseGroup(w http.ResponseWriter, r *http.Request) {
	g, ok := s.group(w, r)
	if !ok {
		return
	}
	g.Release()
	refs := g.RefCount() - 1
	g.Release()
	if refs < 0 {
		refs = 0
	}
	respondOK(w, r, map[string]int32{"refCount": refs})
}

func (s *Server) handleEnableGroup(w http.ResponseWriter, r *http.Request) {
	g, ok := s.group(w, r)
	if !ok {
		return
	}
	defer g.Release()

	g.Enable()
	respondOK(w, r, g.Snapshot())
}

func (s *Server) handleDisableGroup(w http.ResponseWriter, r *http.Request) {
	g, ok := s.group(w, r)
	if !ok {
		return
	}
	defer g.Release()

	g.Disable()
	respondOK(w, r, g.Snapshot())
}

func (s *Server) handleAbortGroup(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Preempt bool `json:"preempt"`
	}{Preempt: true}
	if err := decodeBody(r, &req); err != nil {
		respondBadRequest(w, r, "invalid JSON body: "+err.Error())
		return
	}

	g, ok := s.group(w, r)
	if !ok {
		return
	}
	defer g.Release()

	ctx := tcontext.WithGroupID(r.Context(), g.ID())
	if err := g.Abort(ctx, req.Preempt); err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, r, g.Snapshot())
}

func (s *Server) handleSetAbortable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Abortable *bool `json:"abortable"`
	}
	if err := decodeBody(r, &req); err != nil || req.Abortable == nil {
		respondBadRequest(w, r, "abortable is required")
		return
	}

	g, ok := s.group(w, r)
	if !ok {
		return
	}
	defer g.Release()

	g.SetAbortable(*req.Abortable)
	respondOK(w, r, g.Snapshot())
}

func (s *Server) handleBindChannel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChannelID    uint32                   `json:"channel_id"`
		SubcontextID uint32                   `json:"subcontext_id"`
		PowerGating  types.PowerGatingOptions `json:"power_gating"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondBadRequest(w, r, "invalid JSON body: "+err.Error())
		return
	}

	g, ok := s.group(w, r)
	if !ok {
		return
	}
	defer g.Release()

	ch, err := s.channels.Get(req.ChannelID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	ctx := tcontext.WithGroupID(r.Context(), g.ID())
	opts := types.BindOptions{SubcontextID: req.SubcontextID, PowerGating: req.PowerGating}
	if err := s.manager.BindChannelEx(ctx, g, ch, opts); err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, r, g.Snapshot())
}

func (s *Server) handleUnbindChannel(w http.ResponseWriter, r *http.Request) {
	chid, err := uint32Param(r, "chid")
	if err != nil {
		respondBadRequest(w, r, "invalid channel id")
		return
	}

	g, ok := s.group(w, r)
	if !ok {
		return
	}
	defer g.Release()

	ch, err := s.channels.Get(chid)
	if err != nil {
		respondError(w, r, err)
		return
	}

	ctx := tcontext.WithGroupID(r.Context(), g.ID())
	if err := g.UnbindChannel(ctx, ch); err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, r, g.Snapshot())
}

func (s *Server) handleRecoverRunlist(w http.ResponseWriter, r *http.Request) {
	id, err := uint32Param(r, "id")
	if err != nil || id >= s.manager.Platform().NumRunlists {
		respondBadRequest(w, r, "invalid runlist id")
		return
	}

	ctx := tcontext.WithOperation(r.Context(), "recover_runlist")
	if err := s.manager.RecoverRunlist(ctx, id); err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, r, s.manager.Snapshot())
}

func (s *Server) handleLockControl(w http.ResponseWriter, r *http.Request) {
	s.manager.LockControl()
	respondOK(w, r, map[string]bool{"locked": true})
}

func (s *Server) handleUnlockControl(w http.ResponseWriter, r *http.Request) {
	s.manager.UnlockControl()
	respondOK(w, r, map[string]bool{"locked": false})
}
