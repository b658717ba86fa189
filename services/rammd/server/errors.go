package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"ramm/core/state"
	nativecommon "ramm/native/common"
	"ramm/native/ramm"
	"ramm/services/rammd/storage"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{ramm.ErrStateNotFound, http.StatusNotFound, "asset_not_found"},
	{ramm.ErrAlreadyInitialised, http.StatusConflict, "already_initialised"},
	{storage.ErrIdempotencyConflict, http.StatusConflict, "idempotency_conflict"},
	{ramm.ErrInvalidParams, http.StatusBadRequest, "invalid_params"},
	{ramm.ErrAssetMismatch, http.StatusBadRequest, "asset_mismatch"},
	{state.ErrInvalidAddress, http.StatusBadRequest, "invalid_address"},
	{ramm.ErrInvalidVaultAuthority, http.StatusForbidden, "invalid_vault_authority"},
	{state.ErrUnauthorizedMint, http.StatusForbidden, "unauthorized_mint"},
	{nativecommon.ErrModulePaused, http.StatusServiceUnavailable, "paused"},
	{ramm.ErrInputTooSmall, http.StatusUnprocessableEntity, "input_too_small"},
	{ramm.ErrInsufficientSupply, http.StatusUnprocessableEntity, "insufficient_supply"},
	{ramm.ErrInsufficientVaultBalance, http.StatusUnprocessableEntity, "insufficient_vault_balance"},
	{ramm.ErrMcrBreached, http.StatusUnprocessableEntity, "mcr_breached"},
	{ramm.ErrZeroPrice, http.StatusUnprocessableEntity, "zero_price"},
	{ramm.ErrOverflow, http.StatusUnprocessableEntity, "overflow"},
	{ramm.ErrUnderflow, http.StatusUnprocessableEntity, "underflow"},
	{state.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{state.ErrBalanceOverflow, http.StatusUnprocessableEntity, "balance_overflow"},
}

// errorStatus maps engine and ledger sentinels onto HTTP status codes.
func errorStatus(err error) (int, string, string) {
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.status, entry.code, entry.err.Error()
		}
	}
	return http.StatusInternalServerError, "internal", "internal error"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}
