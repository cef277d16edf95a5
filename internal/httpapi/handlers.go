package httpapi

import "net/http"

// Healthz is a liveness probe: if the process can answer, it's up.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
