package rpc

import (
	"errors"
	"fmt"
	"net/http"

	"escrowchain/core/state"
	"escrowchain/native/common"
	"escrowchain/native/escrow"
	"escrowchain/native/offer"
	"escrowchain/native/price"
	"escrowchain/native/relay"
	"escrowchain/native/trade"
)

type paramsError struct{ reason string }

func (e *paramsError) Error() string { return e.reason }

func invalidParams(format string, args ...interface{}) error {
	return &paramsError{reason: fmt.Sprintf(format, args...)}
}

type errorCode struct {
	err     error
	code    int
	status  int
	message string
}

// errorTable maps ledger sentinels to JSON-RPC codes. Codes are unique per
// sentinel so the client can restore the sentinel on its side.
var errorTable = []errorCode{
	{trade.ErrNotFound, -32040, http.StatusNotFound, "trade_not_found"},
	{offer.ErrNotFound, -32041, http.StatusNotFound, "offer_not_found"},
	{relay.ErrChannelNotFound, -32042, http.StatusNotFound, "channel_not_found"},
	{relay.ErrAckNotFound, -32043, http.StatusNotFound, "ack_not_found"},

	{trade.ErrUnauthorizedDisputer, -32044, http.StatusForbidden, "unauthorized_disputer"},
	{trade.ErrUnauthorized, -32045, http.StatusForbidden, "unauthorized"},
	{offer.ErrUnauthorized, -32046, http.StatusForbidden, "offer_unauthorized"},

	{trade.ErrInvalidStatus, -32047, http.StatusConflict, "invalid_status"},
	{trade.ErrOfferInactive, -32048, http.StatusConflict, "offer_inactive"},
	{offer.ErrInvalidStatus, -32049, http.StatusConflict, "offer_invalid_status"},
	{relay.ErrPacketAlreadyReceived, -32050, http.StatusConflict, "packet_already_received"},
	{relay.ErrPacketTimedOut, -32051, http.StatusConflict, "packet_timed_out"},
	{relay.ErrPacketCommitmentMissing, -32052, http.StatusConflict, "packet_commitment_missing"},
	{relay.ErrTimeoutNotReached, -32053, http.StatusConflict, "timeout_not_reached"},
	{relay.ErrChannelClosed, -32054, http.StatusConflict, "channel_closed"},
	{relay.ErrChannelState, -32055, http.StatusConflict, "channel_state"},
	{relay.ErrOrderedChannel, -32056, http.StatusBadRequest, "ordered_channel"},
	{relay.ErrInvalidVersion, -32057, http.StatusBadRequest, "invalid_version"},
	{relay.ErrInvalidChannelID, -32058, http.StatusBadRequest, "invalid_channel_id"},

	{trade.ErrInvalidAmount, -32060, http.StatusBadRequest, "invalid_amount"},
	{trade.ErrInvalidAmounts, -32061, http.StatusBadRequest, "invalid_amounts"},
	{trade.ErrInvalidPrice, -32062, http.StatusBadRequest, "invalid_price"},
	{trade.ErrPriceMismatch, -32063, http.StatusConflict, "price_mismatch"},
	{trade.ErrPriceUnavailable, -32064, http.StatusServiceUnavailable, "price_unavailable"},
	{trade.ErrNoArbitrator, -32065, http.StatusConflict, "no_arbitrator"},
	{trade.ErrInvalidWinner, -32066, http.StatusBadRequest, "invalid_winner"},
	{trade.ErrUnknownAsset, -32067, http.StatusBadRequest, "unknown_asset"},
	{trade.ErrOfferMismatch, -32068, http.StatusBadRequest, "offer_mismatch"},
	{offer.ErrInvalidPrice, -32069, http.StatusBadRequest, "offer_invalid_price"},
	{offer.ErrInvalidBounds, -32070, http.StatusBadRequest, "offer_invalid_bounds"},
	{offer.ErrUnknownAsset, -32071, http.StatusBadRequest, "offer_unknown_asset"},
	{escrow.ErrInsufficientFunds, -32072, http.StatusConflict, "insufficient_funds"},
	{escrow.ErrAssetMismatch, -32073, http.StatusConflict, "asset_mismatch"},
	{escrow.ErrEscrowEmpty, -32074, http.StatusConflict, "escrow_empty"},
	{state.ErrBalanceUnderflow, -32075, http.StatusConflict, "insufficient_balance"},
	{state.ErrUnknownAsset, -32076, http.StatusBadRequest, "unknown_asset"},
	{price.ErrInvalidPrice, -32077, http.StatusBadRequest, "invalid_price"},
	{price.ErrQuoteNotFound, -32078, http.StatusNotFound, "quote_not_found"},
	{price.ErrNoFreshQuote, -32079, http.StatusServiceUnavailable, "no_fresh_quote"},

	{common.ErrModulePaused, -32080, http.StatusServiceUnavailable, "module_paused"},
}

func writeCallError(w http.ResponseWriter, id interface{}, err error) {
	var perr *paramsError
	if errors.As(err, &perr) {
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, "invalid_params", perr.reason)
		return
	}
	for _, entry := range errorTable {
		if errors.Is(err, entry.err) {
			writeError(w, entry.status, id, entry.code, entry.message, err.Error())
			return
		}
	}
	writeError(w, http.StatusInternalServerError, id, codeServerError, "internal_error", err.Error())
}

// errorFromResponse restores the ledger sentinel behind a JSON-RPC error so
// errors.Is keeps working across the wire.
func errorFromResponse(rpcErr *RPCError) error {
	if rpcErr == nil {
		return nil
	}
	for _, entry := range errorTable {
		if entry.code == rpcErr.Code {
			if detail, ok := rpcErr.Data.(string); ok && detail != "" {
				return fmt.Errorf("%w: %s", entry.err, detail)
			}
			return entry.err
		}
	}
	return rpcErr
}
