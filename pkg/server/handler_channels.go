package server

import (
	"net/http"

	"github.com/tsgd/tsgd/internal/channel"
	"github.com/tsgd/tsgd/pkg/types"
)

type channelView struct {
	ID           uint32                 `json:"id"`
	Handle       uint64                 `json:"handle"`
	RunlistID    uint32                 `json:"runlist_id"`
	Bound        bool                   `json:"bound"`
	GroupID      *uint32                `json:"tsg_id,omitempty"`
	SubcontextID uint32                 `json:"subcontext_id"`
	Runqueue     types.RunqueueSelector `json:"runqueue"`
}

func viewChannel(ch *channel.Channel) channelView {
	v := channelView{ID: ch.ID(), Handle: ch.Handle(), RunlistID: ch.RunlistID()}
	v.SubcontextID, v.Runqueue = ch.Subcontext()
	if id := ch.GroupID(); id != types.InvalidGroupID {
		v.Bound = true
		v.GroupID = &id
	}
	return v
}

func (s *Server) handleOpenChannel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunlistID uint32 `json:"runlist_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondBadRequest(w, r, "invalid JSON body: "+err.Error())
		return
	}

	ch, err := s.channels.Open(req.RunlistID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondCreated(w, r, viewChannel(ch))
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	list := s.channels.List()
	out := make([]channelView, 0, len(list))
	for _, ch := range list {
		out = append(out, viewChannel(ch))
	}
	respondOK(w, r, out)
}

func (s *Server) handleCloseChannel(w http.ResponseWriter, r *http.Request) {
	chid, err := uint32Param(r, "chid")
	if err != nil {
		respondBadRequest(w, r, "invalid channel id")
		return
	}
	if err := s.channels.Close(chid); err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, r, map[string]uint32{"id": chid})
}
