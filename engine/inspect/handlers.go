package inspect

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/davecgh/go-spew/spew"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-caf/engine/animation"
	"github.com/spaghettifunk/anima-caf/engine/core"
	"github.com/spaghettifunk/anima-caf/engine/systems"
)

var spewConfig *spew.ConfigState

func init() {
	spewConfig = spew.NewDefaultConfig()
	spewConfig.DisableCapacities = true
	spewConfig.DisablePointerAddresses = true
}

// ControllerInfo describes one joint controller of a clip.
type ControllerInfo struct {
	JointCRC32   uint32 `json:"joint_crc32"`
	Format       string `json:"format"`
	RotationKeys int    `json:"rotation_keys"`
	PositionKeys int    `json:"position_keys"`
	Size         int    `json:"size"`
}

// AnimationDetail is the full view of one clip.
type AnimationDetail struct {
	Info        systems.AnimationInfo   `json:"info"`
	Motion      *animation.MotionParams `json:"motion,omitempty"`
	Controllers []ControllerInfo        `json:"controllers"`
}

func controllerFormat(c animation.Controller) string {
	switch c.(type) {
	case *animation.CompressedController:
		return "compressed"
	case *animation.ControllerPQLog:
		return "pqlog"
	case *animation.ControllerTCB:
		return "tcb"
	}
	return "unknown"
}

func describe(info systems.AnimationInfo, h *animation.GlobalAnimationHeaderCAF) *AnimationDetail {
	detail := &AnimationDetail{Info: info, Controllers: []ControllerInfo{}}
	if mp := h.MotionParams(); mp != nil {
		motion := *mp
		motion.Segments = append([]float32(nil), mp.Segments...)
		detail.Motion = &motion
	}
	for _, c := range h.Controllers() {
		detail.Controllers = append(detail.Controllers, ControllerInfo{
			JointCRC32:   c.ID(),
			Format:       controllerFormat(c),
			RotationKeys: c.RotationKeysNum(),
			PositionKeys: c.PositionKeysNum(),
			Size:         c.ApproximateSizeOfThis(),
		})
	}
	sort.Slice(detail.Controllers, func(i, j int) bool {
		return detail.Controllers[i].JointCRC32 < detail.Controllers[j].JointCRC32
	})
	return detail
}

func (s *Server) animationDetail(r *http.Request) (*AnimationDetail, int, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		return nil, http.StatusBadRequest, errors.Wrapf(err, "Invalid animation id")
	}
	as := s.systems.AnimationSystem

	var detail *AnimationDetail
	if err := s.onMainThread(r.Context(), func() {
		info, ok := as.Info(uint32(id))
		if !ok {
			return
		}
		if h, ok := as.GetByID(uint32(id)); ok {
			detail = describe(info, h)
		}
	}); err != nil {
		return nil, http.StatusServiceUnavailable, err
	}
	if detail == nil {
		return nil, http.StatusNotFound, errors.Errorf("Animation %d is not registered", id)
	}
	return detail, http.StatusOK, nil
}

func (s *Server) HandlerAnimations(w http.ResponseWriter, r *http.Request) {
	var list []systems.AnimationInfo
	if err := s.onMainThread(r.Context(), func() {
		list = s.systems.AnimationSystem.Animations()
	}); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJson(w, list)
}

func (s *Server) HandlerAnimation(w http.ResponseWriter, r *http.Request) {
	detail, status, err := s.animationDetail(r)
	if err != nil {
		writeError(w, status, err)
		return
	}
	writeJson(w, detail)
}

func (s *Server) HandlerDumpAnimation(w http.ResponseWriter, r *http.Request) {
	detail, status, err := s.animationDetail(r)
	if err != nil {
		writeError(w, status, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	spewConfig.Fdump(w, detail)
}

func (s *Server) HandlerHeap(w http.ResponseWriter, r *http.Request) {
	writeJson(w, s.systems.AnimationSystem.Heap().Stats())
}

func (s *Server) HandlerMetrics(w http.ResponseWriter, r *http.Request) {
	writeJson(w, core.MetricsSnapshot())
}

func (s *Server) HandlerStreams(w http.ResponseWriter, r *http.Request) {
	writeJson(w, s.systems.StreamEngine.InFlight())
}

func (s *Server) HandlerAssets(w http.ResponseWriter, r *http.Request) {
	writeJson(w, s.assetManager.Assets())
}

func writeJson(w http.ResponseWriter, data interface{}) {
	res, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.Wrapf(err, "Failed to marshal"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(res)
}

func writeError(w http.ResponseWriter, status int, err error) {
	type jError struct {
		Error string `json:"error"`
	}
	data, merr := json.Marshal(&jError{Error: err.Error()})
	if merr != nil {
		core.LogError("Error marshaling error '%v': %v", err, merr)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	core.LogWarn("HERR: %v", string(data))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
