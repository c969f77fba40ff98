package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/questforge/questforge/internal/verify"
	"github.com/questforge/questforge/pkg/utils"
)

// Health handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// detailedHealthHandler reports per-component health
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	storageHealthy := s.storage != nil && s.storage.Ping() == nil
	chainHealthy := s.connection != nil && s.connection.IsConnected()

	status := "healthy"
	code := http.StatusOK
	if !storageHealthy || !chainHealthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"components": map[string]bool{
			"storage": storageHealthy,
			"chain":   chainHealthy,
		},
		"active_sessions": s.verifier.ActiveSessions(),
	})
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp":       time.Now().UTC(),
		"connection":      s.connection.Stats(),
		"active_sessions": s.verifier.ActiveSessions(),
		"registered_apps": len(s.registry.Apps()),
	})
}

// App registry handlers

// listAppsHandler lists every registered app with its contract set
func (s *HTTPServer) listAppsHandler(w http.ResponseWriter, r *http.Request) {
	apps := s.registry.Apps()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"apps":  apps,
		"total": len(apps),
	})
}

// getAppHandler returns a single app entry
func (s *HTTPServer) getAppHandler(w http.ResponseWriter, r *http.Request) {
	entry, err := s.registry.ByAppID(mux.Vars(r)["app_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

// Verification handlers

// startVerificationHandler creates a verification session
func (s *HTTPServer) startVerificationHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
		AppID   string `json:"app_id"`
		TxHash  string `json:"tx_hash,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeInvalidInput, "Invalid request body", err.Error()))
		return
	}
	if req.Address == "" || req.AppID == "" {
		s.writeError(w, utils.NewAppError(utils.ErrCodeInvalidInput, "address and app_id are required"))
		return
	}

	var opts verify.StartOptions
	if req.TxHash != "" {
		if !utils.IsValidTxHash(req.TxHash) {
			s.writeError(w, utils.NewAppError(utils.ErrCodeInvalidInput, "Invalid transaction hash", req.TxHash))
			return
		}
		hash := common.HexToHash(req.TxHash)
		opts.CandidateHash = &hash
	}

	session, err := s.verifier.StartVerification(r.Context(), req.Address, req.AppID, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, session)
}

// getVerificationHandler returns the latest session for (address, app)
func (s *HTTPServer) getVerificationHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	session, err := s.verifier.GetSession(vars["address"], vars["app_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

// cancelVerificationHandler aborts a polling session
func (s *HTTPServer) cancelVerificationHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.verifier.Cancel(vars["address"], vars["app_id"]); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Verification cancelled",
	})
}

// Mission handlers

// listMissionsHandler returns (creating if needed) today's missions
func (s *HTTPServer) listMissionsHandler(w http.ResponseWriter, r *http.Request) {
	missions, err := s.missions.GetOrCreateTodayMissions(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"missions": missions,
		"date":     utils.TodayKey(),
		"total":    len(missions),
	})
}

// checkinHandler performs the daily check-in mission
func (s *HTTPServer) checkinHandler(w http.ResponseWriter, r *http.Request) {
	result, err := s.missions.DailyCheckin(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// missionProgressHandler increments progress on one mission
func (s *HTTPServer) missionProgressHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req struct {
		Delta int `json:"delta"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, utils.NewAppError(utils.ErrCodeInvalidInput, "Invalid request body", err.Error()))
			return
		}
	}
	if req.Delta == 0 {
		req.Delta = 1
	}

	instance, justCompleted, err := s.missions.Increment(r.Context(), vars["address"], vars["mission_id"], req.Delta)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"mission":        instance,
		"just_completed": justCompleted,
	})
}

// Cube handlers

// getCubesHandler returns a user's cube balance after rollover
func (s *HTTPServer) getCubesHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.rewards.GetBalance(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

// getCubeLimitHandler returns the user's remaining daily allowance
func (s *HTTPServer) getCubeLimitHandler(w http.ResponseWriter, r *http.Request) {
	status, err := s.rewards.GetLimitStatus(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// leaderboardHandler returns the top users by cube count
func (s *HTTPServer) leaderboardHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, utils.NewAppError(utils.ErrCodeInvalidInput, "Invalid limit", v))
			return
		}
		limit = n
	}

	users, err := s.rewards.Leaderboard(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"leaderboard": users,
		"total":       len(users),
	})
}
