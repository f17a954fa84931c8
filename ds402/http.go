package ds402

import (
	"encoding/json"
	"errors"
	"go/types"
	"net/http"
	"sync"

	"github.com/nasa-jpl/servojog/generichttp"
)

// HTTPWrapper exposes a Drive over HTTP.  It holds at most one session at a time.
type HTTPWrapper struct {
	Drive *Drive
	Plan  JogPlan

	mu      sync.Mutex
	session *Session

	generichttp.RouteTable
}

// NewHTTPWrapper returns a wrapper whose /claim and /run use plan
func NewHTTPWrapper(d *Drive, plan JogPlan) *HTTPWrapper {
	h := &HTTPWrapper{Drive: d, Plan: plan}
	h.RouteTable = generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}:   h.GetStatus,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/phase"}:    generichttp.GetString(func() (string, error) { return d.Phase().String(), nil }),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/claim"}:   h.Claim,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/enable"}:  h.Enable,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/jog"}:     h.Jog,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/stop"}:    h.Stop,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/release"}: h.Release,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/run"}:     h.Run,
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h *HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// statusReply is the JSON form of a status word
type statusReply struct {
	Raw   uint16          `json:"raw"`
	State PowerState      `json:"state"`
	Bits  map[string]bool `json:"bits"`
}

// errCode maps errors from this package to HTTP status codes
func errCode(err error) int {
	switch {
	case errors.Is(err, ErrAlreadyClaimed), errors.Is(err, ErrNotEnabled), errors.Is(err, ErrAlreadyEnabled):
		return http.StatusConflict
	case errors.Is(err, errNoSession):
		return http.StatusPreconditionFailed
	default:
		var terr *StageTimeoutError
		if errors.As(err, &terr) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}
}

var errNoSession = errors.New("no session held, POST /claim first")

func (h *HTTPWrapper) current() (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		return nil, errNoSession
	}
	return h.session, nil
}

// GetStatus reads the status word.  ?bit=Label returns that one bit as {"bool": v}.
func (h *HTTPWrapper) GetStatus(w http.ResponseWriter, r *http.Request) {
	s, err := h.Drive.Status()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if label := r.URL.Query().Get("bit"); label != "" {
		v, ok := s.Named(label)
		if !ok {
			http.Error(w, "unknown status bit "+label, http.StatusBadRequest)
			return
		}
		hp := generichttp.HumanPayload{T: types.Bool, Bool: v}
		hp.EncodeAndRespond(w, r)
		return
	}
	generichttp.RespondJSON(w, statusReply{Raw: uint16(s), State: s.PowerState(), Bits: s.All()})
}

// Claim claims and configures the drive per the wrapper's plan
func (h *HTTPWrapper) Claim(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session != nil {
		http.Error(w, ErrAlreadyClaimed.Error(), http.StatusConflict)
		return
	}
	s, report, err := h.Drive.ClaimAndConfigure(h.Plan.OpMode, h.Plan.Velocity, h.Plan.Policy)
	if err != nil {
		http.Error(w, err.Error(), errCode(err))
		return
	}
	h.session = s
	type write struct {
		Register string `json:"register"`
		Value    int64  `json:"value"`
		Err      string `json:"err,omitempty"`
	}
	out := struct {
		Session string  `json:"session"`
		Writes  []write `json:"writes"`
	}{Session: s.ID()}
	for _, wr := range report.Writes {
		e := write{Register: wr.Register, Value: wr.Value}
		if wr.Err != nil {
			e.Err = wr.Err.Error()
		}
		out.Writes = append(out.Writes, e)
	}
	generichttp.RespondJSON(w, out)
}

// Enable runs EnablePowerStage with the drive's stage timeout
func (h *HTTPWrapper) Enable(w http.ResponseWriter, r *http.Request) {
	s, err := h.current()
	if err != nil {
		http.Error(w, err.Error(), errCode(err))
		return
	}
	if _, err = s.EnablePowerStage(h.Drive.Config().StageTimeout); err != nil {
		http.Error(w, err.Error(), errCode(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Jog triggers a jog from a JSON {"int": cmd} body
func (h *HTTPWrapper) Jog(w http.ResponseWriter, r *http.Request) {
	i := generichttp.IntT{}
	err := json.NewDecoder(r.Body).Decode(&i)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if i.Int < 0 || i.Int > 0xFFFF {
		http.Error(w, "jog command out of range", http.StatusBadRequest)
		return
	}
	s, err := h.current()
	if err != nil {
		http.Error(w, err.Error(), errCode(err))
		return
	}
	if _, err = s.TriggerJog(JogCommand(i.Int), h.Drive.Config().JogAttempts); err != nil {
		http.Error(w, err.Error(), errCode(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Stop writes a single jog stop
func (h *HTTPWrapper) Stop(w http.ResponseWriter, r *http.Request) {
	s, err := h.current()
	if err != nil {
		http.Error(w, err.Error(), errCode(err))
		return
	}
	if err = s.StopJog(); err != nil {
		http.Error(w, err.Error(), errCode(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Release disables the power stage and consumes the session
func (h *HTTPWrapper) Release(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	s := h.session
	h.session = nil
	h.mu.Unlock()
	if s == nil {
		http.Error(w, errNoSession.Error(), http.StatusPreconditionFailed)
		return
	}
	if err := s.DisableAndRelease(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Run performs a whole RunJog.  It blocks for the length of the run.
func (h *HTTPWrapper) Run(w http.ResponseWriter, r *http.Request) {
	out, err := h.Drive.RunJog(h.Plan)
	if err != nil {
		http.Error(w, err.Error(), errCode(err))
		return
	}
	generichttp.RespondJSON(w, struct {
		Session  string `json:"session"`
		Attempts int    `json:"attempts"`
	}{out.Session, out.Jog.Attempts})
}
