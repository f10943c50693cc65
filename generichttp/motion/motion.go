// Package motion provides an HTTP interface to a single motion axis
package motion

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nasa-jpl/ystage/generichttp"
)

// Mover describes an axis with position-related methods
type Mover interface {
	// GetPos gets the current position of the axis
	GetPos() (float64, error)

	// MoveAbs moves the axis to an absolute position
	MoveAbs(float64) error

	// Home homes the axis
	Home() error
}

// HTTPMove adds routes for the mover to the route table
func HTTPMove(iface Mover, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/home"}] = Home(iface)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/pos"}] = GetPos(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/pos"}] = SetPos(iface)
}

// GetPos returns an HTTP handler func from a mover that gets the position
func GetPos(m Mover) http.HandlerFunc {
	return generichttp.GetFloat(m.GetPos)
}

func popRelative(r *http.Request) (bool, error) {
	relative := r.URL.Query().Get("relative")
	if relative == "" {
		relative = "false"
	}
	return strconv.ParseBool(relative)
}

// SetPos returns an HTTP handler func from a mover that triggers an absolute
// or relative move based on the relative query parameter.  A relative move is
// made absolute against the position read just before.
func SetPos(m Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		relative, err := popRelative(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f := generichttp.FloatT{}
		err = json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		target := f.F64
		if relative {
			pos, err := m.GetPos()
			if err != nil {
				http.Error(w, err.Error(), generichttp.StatusFor(err))
				return
			}
			target += pos
		}
		if err = m.MoveAbs(target); err != nil {
			http.Error(w, err.Error(), generichttp.StatusFor(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Home returns an HTTP handler func from a mover that homes the axis
func Home(m Mover) http.HandlerFunc {
	return generichttp.Action(m.Home)
}
