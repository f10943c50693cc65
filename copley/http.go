package copley

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/nasa-jpl/ystage/generichttp"
	"github.com/nasa-jpl/ystage/generichttp/ascii"
	"github.com/nasa-jpl/ystage/generichttp/motion"
	"github.com/nasa-jpl/ystage/util"
)

// httpError attaches an HTTP status to a controller error
type httpError struct {
	error
	status int
}

func (e httpError) HTTPStatus() int { return e.status }

func (e httpError) Unwrap() error { return e.error }

func classify(err error) error {
	if err == nil {
		return nil
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrOutOfBounds), errors.Is(err, ErrUnknownMode):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrFaulted),
		errors.Is(err, ErrAborted), errors.Is(err, ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrConvergenceTimeout):
		status = http.StatusGatewayTimeout
	}
	return httpError{error: err, status: status}
}

// StateReport is the body of GET /state
type StateReport struct {
	State       string  `json:"state"`
	MoveAborted bool    `json:"moveAborted"`
	Commanded   int64   `json:"commanded"`
	LastKnown   int64   `json:"lastKnown"`
	Mode        string  `json:"mode"`
	ModeSynced  bool    `json:"modeSynced"`
	Velocity    float64 `json:"velocity"`
	Gains       Gains   `json:"gains"`
}

// StatusReport is the body of GET /status
type StatusReport struct {
	Status     Snapshot `json:"status"`
	Trajectory Snapshot `json:"trajectory"`
}

// TrajectoryLimits is the body of POST /trajectory-limits
type TrajectoryLimits struct {
	Velocity     int64 `json:"velocity"`
	Acceleration int64 `json:"acceleration"`
	Deceleration int64 `json:"deceleration"`
}

// HTTPStage wraps a Controller in an HTTP interface.  Requests take turns on
// the controller, except stop, which aborts a move in progress.
type HTTPStage struct {
	mu     sync.Mutex
	c      *Controller
	moving int32

	RouteTable generichttp.RouteTable

	// Limits rejects moves outside the axis limits before they take the lock;
	// its Check method is middleware for the router
	Limits *motion.LimitMiddleware
}

// NewHTTPStage returns an HTTP wrapper around c with its route table populated
func NewHTTPStage(c *Controller) *HTTPStage {
	h := &HTTPStage{c: c, RouteTable: generichttp.RouteTable{}}
	rt := h.RouteTable
	motion.HTTPMove(h, rt)
	motion.HTTPStop(h, rt)
	motion.HTTPInitialize(h, rt)
	ascii.InjectRawComm(h, h)
	l := c.Limits()
	h.Limits = &motion.LimitMiddleware{
		Limits: util.Limiter{Min: float64(l.MinPosition), Max: float64(l.MaxPosition)},
		Mov:    h}
	h.Limits.Inject(h)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/mode"}] = generichttp.GetString(h.getMode)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/mode"}] = generichttp.SetString(h.setMode)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/state"}] = generichttp.GetJSON(h.state)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}] = generichttp.GetJSON(h.status)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/faults"}] = generichttp.GetJSON(h.faults)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/aborted"}] = generichttp.GetBool(h.aborted)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/faults/reset"}] = h.action(h.c.ResetFaults)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/abort/clear"}] = h.action(h.c.ClearAbort)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/trajectory-limits"}] = h.setTrajectoryLimits
	return h
}

// RT satisfies generichttp.HTTPer
func (h *HTTPStage) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h *HTTPStage) action(fcn func() error) http.HandlerFunc {
	return generichttp.Action(func() error {
		h.mu.Lock()
		defer h.mu.Unlock()
		return classify(fcn())
	})
}

// run runs fcn with the moving flag raised, so stop knows to abort
func (h *HTTPStage) run(fcn func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	atomic.StoreInt32(&h.moving, 1)
	defer atomic.StoreInt32(&h.moving, 0)
	return classify(fcn())
}

// GetPos reads the position from the drive
func (h *HTTPStage) GetPos() (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pos, err := h.c.Position()
	return float64(pos), classify(err)
}

// MoveAbs moves to pos, rounded to the nearest count
func (h *HTTPStage) MoveAbs(pos float64) error {
	if math.IsNaN(pos) || math.IsInf(pos, 0) {
		return classify(fmt.Errorf("%w: %v", ErrOutOfBounds, pos))
	}
	return h.run(func() error { return h.c.MoveTo(int64(math.Round(pos))) })
}

// Home homes the stage
func (h *HTTPStage) Home() error {
	return h.run(h.c.Home)
}

// Moving returns true while a move or home requested over HTTP is running
func (h *HTTPStage) Moving() bool {
	return atomic.LoadInt32(&h.moving) == 1
}

// Stop aborts a move or home in progress, or marks an idle stage aborted
func (h *HTTPStage) Stop() error {
	if h.Moving() {
		return classify(h.c.Abort())
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return classify(h.c.Stop())
}

// Initialize resets and configures the drive
func (h *HTTPStage) Initialize() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return classify(h.c.Initialize())
}

// Raw sends a raw command
func (h *HTTPStage) Raw(s string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	resp, err := h.c.Raw(s)
	return resp, classify(err)
}

func (h *HTTPStage) getMode() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	mode, _ := h.c.Mode()
	return mode, nil
}

func (h *HTTPStage) setMode(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return classify(h.c.SetMode(name))
}

func (h *HTTPStage) setTrajectoryLimits(w http.ResponseWriter, r *http.Request) {
	tl := TrajectoryLimits{}
	err := json.NewDecoder(r.Body).Decode(&tl)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.action(func() error {
		return h.c.SetTrajectoryLimits(tl.Velocity, tl.Acceleration, tl.Deceleration)
	})(w, r)
}

func (h *HTTPStage) state() (interface{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	mode, synced := h.c.Mode()
	return StateReport{
		State:       h.c.State().String(),
		MoveAborted: h.c.MoveAborted(),
		Commanded:   h.c.Commanded(),
		LastKnown:   h.c.LastKnown(),
		Mode:        mode,
		ModeSynced:  synced,
		Velocity:    h.c.Velocity(),
		Gains:       h.c.Gains()}, nil
}

func (h *HTTPStage) status() (interface{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, err := h.c.Status()
	if err != nil {
		return nil, classify(err)
	}
	t, err := h.c.TrajectoryStatus()
	if err != nil {
		return nil, classify(err)
	}
	return StatusReport{Status: s, Trajectory: t}, nil
}

func (h *HTTPStage) faults() (interface{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	faults, err := h.c.CheckFaults()
	if err != nil {
		return nil, classify(err)
	}
	return faults, nil
}

func (h *HTTPStage) aborted() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.c.MoveAborted(), nil
}
