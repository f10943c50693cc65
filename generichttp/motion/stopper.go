package motion

import (
	"net/http"

	"github.com/nasa-jpl/ystage/generichttp"
)

// Stopper describes an axis that can abort its motion
type Stopper interface {
	// Stop aborts motion of the axis
	Stop() error
}

// HTTPStop adds the stop route to the route table
func HTTPStop(iface Stopper, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/stop"}] = Stop(iface)
}

// Stop returns an HTTP handler func from a stopper that aborts motion
func Stop(m Stopper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := m.Stop(); err != nil {
			http.Error(w, err.Error(), generichttp.StatusFor(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
