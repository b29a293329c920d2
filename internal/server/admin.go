package server

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"coinsender/internal/ledger"
)

type setMinFeeRequest struct {
	MinFee string `json:"minFee"`
}

func (s *Server) handleSetMinFee(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		fee, err := s.ledger.MinFee(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"minFee": fee.String()})
	case http.MethodPost:
		caller, err := principal(r)
		if err != nil {
			s.writeError(w, err)
			return
		}
		var body setMinFeeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		fee, ok := new(big.Int).SetString(body.MinFee, 10)
		if !ok {
			s.writeError(w, ledger.ErrInvalidAmount)
			return
		}
		if err := s.ledger.SetMinFee(r.Context(), caller, fee); err != nil {
			s.writeError(w, err)
			return
		}
		feeFloat, _ := new(big.Float).SetInt(fee).Float64()
		s.metrics.setMinFee(feeFloat)
		writeJSON(w, http.StatusOK, map[string]string{"minFee": fee.String()})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, true)
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, false)
}

func (s *Server) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, err := principal(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !s.gate.IsOwner(caller) {
		s.writeError(w, ledger.ErrUnauthorized)
		return
	}
	s.gate.SetPaused(paused)
	s.log.WithField("paused", paused).WithField("caller", caller.Hex()).Info("pause state changed")
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}
	events, err := s.ledger.Events(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok"}
	code := http.StatusOK

	if s.dbHealthFn != nil {
		if err := s.dbHealthFn(ctx); err != nil {
			status["status"] = "degraded"
			status["db"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status["db"] = "ok"
		}
	}
	if s.rpcHealthFn != nil {
		if err := s.rpcHealthFn(ctx); err != nil {
			status["status"] = "degraded"
			status["rpc"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status["rpc"] = "ok"
		}
	}
	if s.gate.Paused() {
		status["paused"] = "true"
	}
	writeJSON(w, code, status)
}
