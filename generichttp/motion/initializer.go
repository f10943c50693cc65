package motion

import (
	"net/http"

	"github.com/nasa-jpl/ystage/generichttp"
)

// Initializer is a type which may initialize an axis
type Initializer interface {
	// Initialize the axis, engaging the control electronics
	Initialize() error
}

// HTTPInitialize adds routes for initialization to the route table
func HTTPInitialize(i Initializer, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/initialize"}] = Initialize(i)
}

// Initialize returns an HTTP handler func that calls Initialize
func Initialize(i Initializer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := i.Initialize()
		if err != nil {
			http.Error(w, err.Error(), generichttp.StatusFor(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
