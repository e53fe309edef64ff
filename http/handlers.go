package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/ametist/accountbox"
	"github.com/ametist/accountbox/mechanisms/evm"
	wire "github.com/ametist/accountbox/types"
)

var forwarderABI = evm.MustParseABI(evm.ForwarderABI)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": accountbox.Version,
		"relayer": s.relayer.Address(),
	})
}

// GET /v1/forwarder/nonces/:address
func (s *Server) handleNonce(c *gin.Context) {
	addr, ok := s.addressParam(c, "address")
	if !ok {
		return
	}
	nonce, err := s.forwarderNonce(c.Request.Context(), addr)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.NonceResponse{Address: addr.Hex(), Nonce: nonce})
}

// GET /v1/forwarder/domain and GET /v1/token/domain return the EIP-712 domain to sign against
func (s *Server) handleDomain(contract common.Address, abiJSON []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := s.relayer.ReadContract(c.Request.Context(), contract.Hex(), abiJSON, evm.FunctionEIP712Domain)
		if err != nil {
			s.fail(c, err)
			return
		}
		fields, ok := out.([]interface{})
		if !ok || len(fields) < 5 {
			s.fail(c, fmt.Errorf("unexpected eip712Domain result %v", out))
			return
		}
		c.JSON(http.StatusOK, evm.TypedDataDomain{
			Name:              fields[1].(string),
			Version:           fields[2].(string),
			ChainID:           fields[3].(*big.Int),
			VerifyingContract: fields[4].(common.Address).Hex(),
		})
	}
}

// POST /v1/forwarder/verify reports whether the forwarder would accept the request now
func (s *Server) handleVerify(c *gin.Context) {
	var body wire.ForwardRequest
	if !s.bind(c, forwardRequestSchema, &body) {
		return
	}
	req, err := body.ToRequestData()
	if err != nil {
		s.badRequest(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()
	_, err = s.relayer.SimulateContract(ctx, s.cfg.Forwarder.Hex(), evm.ForwarderABI, req.Value, evm.FunctionExecute, req)
	c.JSON(http.StatusOK, wire.VerifyResponse{Valid: err == nil, Code: accountbox.ErrorCode(err)})
}

// POST /v1/forwarder/execute relays a signed forward request
func (s *Server) handleExecute(c *gin.Context) {
	var body wire.ForwardRequest
	if !s.bind(c, forwardRequestSchema, &body) {
		return
	}
	req, err := body.ToRequestData()
	if err != nil {
		s.badRequest(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	receipt, ok := s.relay(ctx, c, "execute", s.cfg.Forwarder, evm.ForwarderABI, req.Value, evm.FunctionExecute, req)
	if !ok {
		return
	}

	resp := wire.ExecuteResponse{TxHash: receipt.TxHash.Hex()}
	executed, err := executedRequest(receipt.Logs, s.cfg.Forwarder)
	if err != nil {
		s.fail(c, err)
		return
	}
	resp.Success = executed.success
	resp.Nonce = executed.nonce

	log.Info("Relayed forward request", "from", req.From, "to", req.To, "nonce", resp.Nonce, "success", resp.Success, "tx", resp.TxHash)
	c.JSON(http.StatusOK, resp)
}

// POST /v1/permit submits an owner-signed allowance
func (s *Server) handlePermit(c *gin.Context) {
	var body wire.PermitRequest
	if !s.bind(c, permitSchema, &body) {
		return
	}
	msg, r, sig, err := body.ToPermit()
	if err != nil {
		s.badRequest(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	nonce, err := s.readUint(ctx, s.cfg.Token, evm.TokenABI, evm.FunctionNonces, msg.Owner)
	if err != nil {
		s.fail(c, err)
		return
	}

	receipt, ok := s.relay(ctx, c, "permit", s.cfg.Token, evm.TokenABI, nil, "permit",
		msg.Owner, msg.Spender, msg.Value, msg.Deadline, body.V, r, sig)
	if !ok {
		return
	}

	log.Info("Relayed permit", "owner", msg.Owner, "spender", msg.Spender, "value", msg.Value, "nonce", nonce)
	c.JSON(http.StatusOK, wire.PermitResponse{TxHash: receipt.TxHash.Hex(), Nonce: nonce})
}

// GET /v1/accounts/:owner/index/:index
func (s *Server) handleAccountByIndex(c *gin.Context) {
	owner, ok := s.addressParam(c, "owner")
	if !ok {
		return
	}
	index, err := strconv.ParseUint(c.Param("index"), 10, 64)
	if err != nil {
		s.badRequest(c, fmt.Errorf("invalid index %q", c.Param("index")))
		return
	}

	out, err := s.relayer.ReadContract(c.Request.Context(), s.cfg.Factory.Hex(), evm.FactoryABI, "getAccountByIndex",
		owner, new(big.Int).SetUint64(index))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.AccountResponse{
		Owner:   owner.Hex(),
		Index:   &index,
		Address: out.(common.Address).Hex(),
	})
}

// GET /v1/accounts/:owner/id/:id
func (s *Server) handleAccountByID(c *gin.Context) {
	owner, ok := s.addressParam(c, "owner")
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.badRequest(c, fmt.Errorf("invalid account id: %w", err))
		return
	}

	out, err := s.relayer.ReadContract(c.Request.Context(), s.cfg.Factory.Hex(), evm.FactoryABI, "getAccountById",
		owner, [16]byte(id))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.AccountResponse{
		Owner:   owner.Hex(),
		ID:      id.String(),
		Address: out.(common.Address).Hex(),
	})
}

// POST /v1/signatures/verify checks a signature made by an EOA or, through EIP-1271, by an account
func (s *Server) handleVerifySignature(c *gin.Context) {
	var body wire.SignatureRequest
	if !s.bind(c, signatureSchema, &body) {
		return
	}
	signature, err := hexutil.Decode(body.Signature)
	if err != nil {
		s.badRequest(c, fmt.Errorf("invalid signature: %w", err))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()
	valid, kind, err := evm.VerifySignature(ctx, s.relayer, common.HexToAddress(body.Signer),
		common.HexToHash(body.Hash), signature)

	var invalid *accountbox.InvalidSignatureError
	if err != nil && !errors.As(err, &invalid) {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.SignatureResponse{Valid: valid, Kind: string(kind), Code: accountbox.ErrorCode(err)})
}

// GET /v1/factory
func (s *Server) handleFactory(c *gin.Context) {
	ctx := c.Request.Context()
	factory := s.cfg.Factory.Hex()

	resp := wire.FactoryResponse{Handle: factory}
	for method, dst := range map[string]*string{
		"getImplementation": &resp.Implementation,
		"implementation":    &resp.Template,
		"trustedForwarder":  &resp.TrustedForwarder,
	} {
		out, err := s.relayer.ReadContract(ctx, factory, evm.FactoryABI, method)
		if err != nil {
			s.fail(c, err)
			return
		}
		*dst = out.(common.Address).Hex()
	}

	version, err := s.relayer.ReadContract(ctx, factory, evm.FactoryABI, "version")
	if err != nil {
		s.fail(c, err)
		return
	}
	resp.Version = version.(uint64)

	// totalAccounts only exists from V2 on
	if total, err := s.readUint(ctx, s.cfg.Factory, evm.FactoryABI, "totalAccounts"); err == nil {
		resp.TotalAccounts = &total
	}
	c.JSON(http.StatusOK, resp)
}

// relay simulates the call, submits it and waits for the receipt. On failure it writes the
// error response and returns false.
func (s *Server) relay(
	ctx context.Context,
	c *gin.Context,
	kind string,
	to common.Address,
	abiJSON []byte,
	value *big.Int,
	method string,
	args ...interface{},
) (*types.Receipt, bool) {
	if _, err := s.relayer.SimulateContract(ctx, to.Hex(), abiJSON, value, method, args...); err != nil {
		s.metrics.rejected.WithLabelValues(accountbox.ErrorCode(err)).Inc()
		s.fail(c, err)
		return nil, false
	}

	hash, err := s.relayer.WriteContractWithValue(ctx, to.Hex(), abiJSON, value, method, args...)
	if err != nil {
		s.metrics.relayed.WithLabelValues(kind, "send_failed").Inc()
		s.fail(c, err)
		return nil, false
	}

	receipt, err := s.relayer.WaitMined(ctx, hash)
	if err != nil {
		s.metrics.relayed.WithLabelValues(kind, "unconfirmed").Inc()
		s.fail(c, fmt.Errorf("transaction %s not confirmed: %w", hash, err))
		return nil, false
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		s.metrics.relayed.WithLabelValues(kind, "reverted").Inc()
		c.AbortWithStatusJSON(http.StatusConflict, wire.ErrorResponse{
			Code:    codeReverted,
			Message: fmt.Sprintf("transaction %s reverted", hash),
		})
		return nil, false
	}
	s.metrics.relayed.WithLabelValues(kind, "mined").Inc()
	return receipt, true
}

// bind validates the raw body against schema and decodes it into dst
func (s *Server) bind(c *gin.Context, schema *gojsonschema.Schema, dst interface{}) bool {
	body, err := c.GetRawData()
	if err != nil {
		s.badRequest(c, err)
		return false
	}
	if err := validate(schema, body); err != nil {
		s.badRequest(c, err)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		s.badRequest(c, err)
		return false
	}
	return true
}

func (s *Server) addressParam(c *gin.Context, name string) (common.Address, bool) {
	raw := c.Param(name)
	if !common.IsHexAddress(raw) {
		s.badRequest(c, fmt.Errorf("invalid address %q", raw))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func (s *Server) forwarderNonce(ctx context.Context, addr common.Address) (uint64, error) {
	return s.readUint(ctx, s.cfg.Forwarder, evm.ForwarderABI, evm.FunctionNonces, addr)
}

func (s *Server) readUint(ctx context.Context, to common.Address, abiJSON []byte, method string, args ...interface{}) (uint64, error) {
	out, err := s.relayer.ReadContract(ctx, to.Hex(), abiJSON, method, args...)
	if err != nil {
		return 0, err
	}
	v, ok := out.(*big.Int)
	if !ok || !v.IsUint64() {
		return 0, fmt.Errorf("unexpected %s result %v", method, out)
	}
	return v.Uint64(), nil
}

type execution struct {
	nonce   uint64
	success bool
}

// executedRequest finds the ExecutedForwardRequest log of forwarder in logs
func executedRequest(logs []*types.Log, forwarder common.Address) (execution, error) {
	ev := forwarderABI.Events[accountbox.EventExecutedForwardRequest]
	for _, l := range logs {
		if l.Address != forwarder || len(l.Topics) == 0 || l.Topics[0] != ev.ID {
			continue
		}
		values := map[string]interface{}{}
		if err := forwarderABI.UnpackIntoMap(values, ev.Name, l.Data); err != nil {
			return execution{}, fmt.Errorf("failed to decode %s: %w", ev.Name, err)
		}
		return execution{
			nonce:   values["nonce"].(*big.Int).Uint64(),
			success: values["success"].(bool),
		}, nil
	}
	return execution{}, fmt.Errorf("no %s event in receipt", ev.Name)
}
