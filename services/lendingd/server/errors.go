package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"nhblend/native/common"
	"nhblend/native/fees"
	"nhblend/native/lending/errcodes"
	"nhblend/native/lending/oracle"
	"nhblend/state/bank"
)

type errorBody struct {
	Code    uint16 `json:"code"`
	Name    string `json:"name"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// Names for failures that do not come from the lending core.
const (
	nameBadRequest      = "BAD_REQUEST"
	nameNotFound        = "NOT_FOUND"
	namePriceNotSet     = "PRICE_NOT_SET"
	nameFeeCollection   = "FEE_COLLECTION_FAILED"
	nameInsufficientBal = "INSUFFICIENT_WALLET_BALANCE"
	nameModulePaused    = "MODULE_PAUSED"
	nameInternal        = "INTERNAL"
)

// statusFor maps a lending failure to an HTTP status by category.
func statusFor(category errcodes.Category) int {
	switch category {
	case errcodes.CategoryAuthorization:
		return http.StatusForbidden
	case errcodes.CategoryReserveState:
		return http.StatusConflict
	case errcodes.CategoryAmount, errcodes.CategoryConfiguration:
		return http.StatusBadRequest
	case errcodes.CategoryRisk, errcodes.CategoryFlashLoan:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func classify(err error) (int, errorBody) {
	var (
		coded *errcodes.Error
		field fieldError
	)
	switch {
	case errors.As(err, &coded):
		return statusFor(coded.Category), errorBody{Code: coded.Code, Name: coded.Name}
	case errors.As(err, &field):
		return http.StatusBadRequest, errorBody{Name: nameBadRequest, Message: field.Error()}
	case errors.Is(err, common.ErrModulePaused):
		return http.StatusServiceUnavailable, errorBody{Name: nameModulePaused, Message: err.Error()}
	case errors.Is(err, oracle.ErrPriceNotFound):
		return http.StatusUnprocessableEntity, errorBody{Name: namePriceNotSet, Message: err.Error()}
	case errors.Is(err, fees.ErrFeeCollection):
		return http.StatusUnprocessableEntity, errorBody{Name: nameFeeCollection, Message: err.Error()}
	case errors.Is(err, bank.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, errorBody{Name: nameInsufficientBal, Message: err.Error()}
	case errors.Is(err, bank.ErrInvalidAmount), errors.Is(err, bank.ErrZeroAddress):
		return http.StatusBadRequest, errorBody{Name: nameBadRequest, Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorBody{Name: nameInternal}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, body := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: body})
}

func (s *Server) badRequest(w http.ResponseWriter, message string) {
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{Name: nameBadRequest, Message: message}})
}

func (s *Server) notFound(w http.ResponseWriter, message string) {
	s.writeJSON(w, http.StatusNotFound, errorResponse{Error: errorBody{Name: nameNotFound, Message: message}})
}
