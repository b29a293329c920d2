package server

import (
	"encoding/json"
	"net/http"

	"coinsender/internal/ledger"
)

type sendCoinsRequest struct {
	Asset      string   `json:"asset"`
	Recipients []string `json:"recipients"`
	Amounts    []string `json:"amounts"`
	Fee        string   `json:"fee"`
	Value      string   `json:"value"`
}

type claimCoinsRequest struct {
	Senders []string `json:"senders"`
	Assets  []string `json:"assets"`
}

type cancelCoinsRequest struct {
	Recipients []string `json:"recipients"`
	Assets     []string `json:"assets"`
}

type sendVestingRequest struct {
	Asset              string   `json:"asset"`
	Recipients         []string `json:"recipients"`
	Amounts            []string `json:"amounts"`
	CliffDuration      int64    `json:"cliffDuration"`
	Start              int64    `json:"start"`
	Duration           int64    `json:"duration"`
	SlicePeriodSeconds int64    `json:"slicePeriodSeconds"`
	Revocable          bool     `json:"revocable"`
	Fee                string   `json:"fee"`
	Value              string   `json:"value"`
}

type claimVestingRequest struct {
	IDs   []uint64 `json:"ids"`
	Fee   string   `json:"fee"`
	Value string   `json:"value"`
}

type cancelVestingRequest struct {
	IDs []uint64 `json:"ids"`
}

type payoutJSON struct {
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func payoutsJSON(payouts []ledger.Payout) []payoutJSON {
	out := make([]payoutJSON, len(payouts))
	for i, p := range payouts {
		out[i] = payoutJSON{Asset: p.Asset.String(), To: p.To.Hex(), Amount: p.Amount.String()}
	}
	return out
}

type claimJSON struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
}

func claimsJSON(claims []*ledger.PendingClaim) []claimJSON {
	out := make([]claimJSON, len(claims))
	for i, c := range claims {
		out[i] = claimJSON{
			Sender:    c.Sender.Hex(),
			Recipient: c.Recipient.Hex(),
			Asset:     c.Asset.String(),
			Amount:    c.Amount.String(),
		}
	}
	return out
}

type vestingJSON struct {
	ID                 uint64 `json:"id"`
	Sender             string `json:"sender"`
	Recipient          string `json:"recipient"`
	Asset              string `json:"asset"`
	TotalAmount        string `json:"totalAmount"`
	Released           string `json:"released"`
	Start              int64  `json:"start"`
	Cliff              int64  `json:"cliff"`
	Duration           int64  `json:"duration"`
	SlicePeriodSeconds int64  `json:"slicePeriodSeconds"`
	Revocable          bool   `json:"revocable"`
}

func vestingsJSON(transfers []*ledger.VestingTransfer) []vestingJSON {
	out := make([]vestingJSON, len(transfers))
	for i, t := range transfers {
		out[i] = vestingJSON{
			ID:                 t.ID,
			Sender:             t.Sender.Hex(),
			Recipient:          t.Recipient.Hex(),
			Asset:              t.Asset.String(),
			TotalAmount:        t.TotalAmount.String(),
			Released:           t.Released.String(),
			Start:              t.Start,
			Cliff:              t.Cliff,
			Duration:           t.Duration,
			SlicePeriodSeconds: t.SlicePeriodSeconds,
			Revocable:          t.Revocable,
		}
	}
	return out
}

func (s *Server) handleSendCoins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, err := principal(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	idemKey, served := s.replayIdempotent(w, r)
	if served {
		return
	}

	var body sendCoinsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	req, err := s.buildSendRequest(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := s.ledger.SendCoins(r.Context(), caller, *req); err != nil {
		s.metrics.incSend("coins", "error")
		s.writeError(w, err)
		return
	}
	s.metrics.incSend("coins", "ok")

	resp, _ := json.Marshal(map[string]string{"status": "sent"})
	s.saveIdempotent(r.Context(), idemKey, http.StatusCreated, resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(resp)
}

func (s *Server) buildSendRequest(body sendCoinsRequest) (*ledger.SendRequest, error) {
	a, err := parseAssetField(body.Asset)
	if err != nil {
		return nil, err
	}
	recipients, err := parseAddresses(body.Recipients)
	if err != nil {
		return nil, err
	}
	amounts, err := parseAmounts(body.Amounts)
	if err != nil {
		return nil, err
	}
	fee, err := parseAmount(body.Fee)
	if err != nil {
		return nil, err
	}
	value, err := parseAmount(body.Value)
	if err != nil {
		return nil, err
	}
	return &ledger.SendRequest{
		Asset:      a,
		Recipients: recipients,
		Amounts:    amounts,
		Fee:        fee,
		Value:      value,
	}, nil
}

func (s *Server) handleClaimCoins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, err := principal(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var body claimCoinsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	senders, err := parseAddresses(body.Senders)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	assets, err := parseAssets(body.Assets)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	payouts, err := s.ledger.ClaimCoinsBatch(r.Context(), caller, senders, assets)
	if err != nil {
		s.metrics.incClaim("coins", "error")
		s.writeError(w, err)
		return
	}
	s.metrics.incClaim("coins", "ok")
	writeJSON(w, http.StatusOK, map[string]interface{}{"payouts": payoutsJSON(payouts)})
}

func (s *Server) handleCancelCoins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, err := principal(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var body cancelCoinsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	recipients, err := parseAddresses(body.Recipients)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	assets, err := parseAssets(body.Assets)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	payouts, err := s.ledger.CancelTransferBatch(r.Context(), caller, recipients, assets)
	if err != nil {
		s.metrics.incCancel("coins", "error")
		s.writeError(w, err)
		return
	}
	s.metrics.incCancel("coins", "ok")
	writeJSON(w, http.StatusOK, map[string]interface{}{"payouts": payoutsJSON(payouts)})
}

func (s *Server) handleViewClaims(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	addr, err := viewSubject(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	claims, err := s.ledger.ViewClaims(r.Context(), addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"claims": claimsJSON(claims)})
}

func (s *Server) handleViewSentTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	addr, err := viewSubject(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	claims, err := s.ledger.ViewSentTokens(r.Context(), addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"claims": claimsJSON(claims)})
}

func (s *Server) handleSendVesting(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, err := principal(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	idemKey, served := s.replayIdempotent(w, r)
	if served {
		return
	}

	var body sendVestingRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	req, err := s.buildVestingRequest(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ids, err := s.ledger.SendCoinsVesting(r.Context(), caller, *req)
	if err != nil {
		s.metrics.incSend("vesting", "error")
		s.writeError(w, err)
		return
	}
	s.metrics.incSend("vesting", "ok")

	resp, _ := json.Marshal(map[string]interface{}{"status": "sent", "ids": ids})
	s.saveIdempotent(r.Context(), idemKey, http.StatusCreated, resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(resp)
}

func (s *Server) buildVestingRequest(body sendVestingRequest) (*ledger.VestingSendRequest, error) {
	a, err := parseAssetField(body.Asset)
	if err != nil {
		return nil, err
	}
	recipients, err := parseAddresses(body.Recipients)
	if err != nil {
		return nil, err
	}
	amounts, err := parseAmounts(body.Amounts)
	if err != nil {
		return nil, err
	}
	fee, err := parseAmount(body.Fee)
	if err != nil {
		return nil, err
	}
	value, err := parseAmount(body.Value)
	if err != nil {
		return nil, err
	}
	return &ledger.VestingSendRequest{
		Asset:              a,
		Recipients:         recipients,
		Amounts:            amounts,
		CliffDuration:      body.CliffDuration,
		Start:              body.Start,
		Duration:           body.Duration,
		SlicePeriodSeconds: body.SlicePeriodSeconds,
		Revocable:          body.Revocable,
		Fee:                fee,
		Value:              value,
	}, nil
}

func (s *Server) handleClaimVesting(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, err := principal(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var body claimVestingRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	fee, err := parseAmount(body.Fee)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	value, err := parseAmount(body.Value)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	payouts, err := s.ledger.ClaimVesting(r.Context(), caller, body.IDs, fee, value)
	if err != nil {
		s.metrics.incClaim("vesting", "error")
		s.writeError(w, err)
		return
	}
	s.metrics.incClaim("vesting", "ok")
	writeJSON(w, http.StatusOK, map[string]interface{}{"payouts": payoutsJSON(payouts)})
}

func (s *Server) handleCancelVesting(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, err := principal(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var body cancelVestingRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	payouts, err := s.ledger.CancelVesting(r.Context(), caller, body.IDs)
	if err != nil {
		s.metrics.incCancel("vesting", "error")
		s.writeError(w, err)
		return
	}
	s.metrics.incCancel("vesting", "ok")
	writeJSON(w, http.StatusOK, map[string]interface{}{"payouts": payoutsJSON(payouts)})
}

func (s *Server) handleViewSentCoins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	addr, err := viewSubject(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	transfers, err := s.ledger.ViewSentCoins(r.Context(), addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transfers": vestingsJSON(transfers)})
}

func (s *Server) handleViewClaimsCoins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	addr, err := viewSubject(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	transfers, err := s.ledger.ViewClaimsCoins(r.Context(), addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transfers": vestingsJSON(transfers)})
}
