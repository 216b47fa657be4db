package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	response := make(map[string]interface{}, len(s.pools)+1)
	for name, pool := range s.pools {
		if pool != nil {
			response[name] = pool.Metrics()
		}
	}
	if s.live != nil {
		response["live_seq"] = s.live.Latest().Seq
	}
	sendJSON(w, response)
}
