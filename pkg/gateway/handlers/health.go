package handlers

import (
	"net/http"
)

// HealthHandler answers liveness probes. Draining, when set, flips the
// response to 503 so load balancers stop routing new devices here.
type HealthHandler struct {
	Draining func() bool
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if h.Draining != nil && h.Draining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining\n"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
