package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/walletkeeper/internal/common"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

// queryLimit reads the optional ?limit= page size. Zero lets the service
// pick its default.
func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", common.ErrValidation)
	}
	return n, nil
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.accounts.Signup(r.Context(), req.Handle, req.Contact, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(acc))
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	pair, err := s.accounts.Login(r.Context(), req.Contact, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenPairResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	pair, err := s.accounts.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenPairResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

func (s *Server) walletInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.accounts.GetWalletInfo(r.Context(), pathID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, walletResponse{Address: info.Address, Balances: info.Balances, NativeSOL: info.NativeSOL})
}

func (s *Server) exportKey(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	key, err := s.accounts.ExportPrivateKey(r.Context(), pathID(r), req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, exportResponse{PortableKey: key})
}

func (s *Server) send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || !amount.IsPositive() {
		s.writeError(w, r, fmt.Errorf("%w: amount must be a positive decimal", common.ErrValidation))
		return
	}
	res, err := s.wallet.Send(r.Context(), pathID(r), strings.TrimSpace(req.To), amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{TxSignature: res.TxSignature, NewBalance: res.NewBalance, RecipientID: res.RecipientID})
}

func (s *Server) tradeHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trades, err := s.wallet.History(r.Context(), pathID(r), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	res, err := s.rewards.Claim(r.Context(), pathID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{
		AmountPaid:  res.AmountPaid,
		TxSignature: res.TxSignature,
		NewBalance:  res.NewBalance,
		Period:      res.Period,
	})
}

func (s *Server) rewardSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.rewards.Summary(r.Context(), pathID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryResponse(sum))
}

func (s *Server) rewardHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.rewards.History(r.Context(), pathID(r), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toLedgerEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) mintNFT(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.PostID) == "" {
		s.writeError(w, r, fmt.Errorf("%w: postId is required", common.ErrValidation))
		return
	}
	tok, err := s.tokens.MintPostNFT(r.Context(), pathID(r), req.PostID, req.Name, req.Symbol)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTokenResponse(tok))
}

func (s *Server) transferNFT(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Mint == "" || req.ToAccountID == "" {
		s.writeError(w, r, fmt.Errorf("%w: mint and toAccountId are required", common.ErrValidation))
		return
	}
	tr, err := s.tokens.TransferNFT(r.Context(), pathID(r), req.Mint, req.ToAccountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTradeResponse(tr))
}

func (s *Server) listNFTs(w http.ResponseWriter, r *http.Request) {
	toks, err := s.tokens.ListNFTs(r.Context(), pathID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]tokenResponse, 0, len(toks))
	for _, t := range toks {
		out = append(out, toTokenResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) setRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.accounts.SetRole(r.Context(), pathID(r), req.Role); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) auditLog(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	events, err := s.accounts.AuditLog(r.Context(), pathID(r), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]auditEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, auditEventResponse{ID: e.ID, Kind: e.Kind, Detail: e.Detail, CreatedAt: e.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}
