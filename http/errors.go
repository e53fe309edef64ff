package http

import (
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"

	"github.com/ametist/accountbox"
	"github.com/ametist/accountbox/types"
)

// Codes of failures that do not come from the contracts
const (
	codeInvalidRequest = "invalid_request"
	codeReverted       = "transaction_reverted"
)

var statusByCode = map[string]int{
	accountbox.ErrCodeExpiredRequest:        http.StatusUnprocessableEntity,
	accountbox.ErrCodeExpiredSignature:      http.StatusUnprocessableEntity,
	accountbox.ErrCodeInvalidSigner:         http.StatusUnprocessableEntity,
	accountbox.ErrCodeInvalidSignature:      http.StatusUnprocessableEntity,
	accountbox.ErrCodeMismatchedValue:       http.StatusUnprocessableEntity,
	accountbox.ErrCodeIncompatibleLayout:    http.StatusUnprocessableEntity,
	accountbox.ErrCodeInsufficientFunds:     http.StatusUnprocessableEntity,
	accountbox.ErrCodeInsufficientBalance:   http.StatusUnprocessableEntity,
	accountbox.ErrCodeInsufficientAllowance: http.StatusUnprocessableEntity,
	accountbox.ErrCodeInvalidNonce:          http.StatusConflict,
	accountbox.ErrCodeUntrustedTarget:       http.StatusForbidden,
	accountbox.ErrCodeUnauthorizedAccount:   http.StatusForbidden,
	accountbox.ErrCodeUnauthorizedUpgrade:   http.StatusForbidden,
	accountbox.ErrCodeMissingRole:           http.StatusForbidden,
	accountbox.ErrCodeNotFound:              http.StatusNotFound,
	accountbox.ErrCodeUnsupported:           http.StatusNotImplemented,
	accountbox.ErrCodeInternal:              http.StatusBadGateway,
}

// fail aborts the request with err classified by its protocol code
func (s *Server) fail(c *gin.Context, err error) {
	code := accountbox.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		log.Warn("Request failed", "route", c.FullPath(), "err", err)
	}
	c.AbortWithStatusJSON(status, types.ErrorResponse{Code: code, Message: err.Error()})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, types.ErrorResponse{Code: codeInvalidRequest, Message: err.Error()})
}
