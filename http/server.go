// Package http exposes the paymaster engine over a JSON ops API: the
// validate/settle pair for the execution environment, deposit and
// withdrawal management for sponsors, and the administrative surface.
package http

import (
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	paymaster "github.com/StartaleGroup/scs-aa-paymasters"
	"github.com/StartaleGroup/scs-aa-paymasters/ledger"
	"github.com/StartaleGroup/scs-aa-paymasters/modes/token"
	"github.com/StartaleGroup/scs-aa-paymasters/oracle"
	"github.com/StartaleGroup/scs-aa-paymasters/registry"
)

// Server wires the engine components behind the ops API.
type Server struct {
	engine   *paymaster.Paymaster
	ledger   *ledger.Ledger
	registry *registry.Registry
	params   *paymaster.Params
	tokens   *token.Handler

	logger   *slog.Logger
	gatherer prometheus.Gatherer
	router   *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithTokenHandler enables the token administration endpoints.
func WithTokenHandler(tokens *token.Handler) Option {
	return func(s *Server) { s.tokens = tokens }
}

// WithGatherer sets the Prometheus gatherer served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer builds the ops API around the given components.
func NewServer(engine *paymaster.Paymaster, led *ledger.Ledger, reg *registry.Registry, params *paymaster.Params, opts ...Option) *Server {
	s := &Server{
		engine:   engine,
		ledger:   led,
		registry: reg,
		params:   params,
		logger:   slog.Default(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the http.Handler for the ops API.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLog())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	router.POST("/validate", s.handleValidate)
	router.POST("/settle", s.handleSettle)

	router.POST("/deposits", s.handleDeposit)
	router.GET("/balances/:account", s.handleBalance)

	router.POST("/withdrawals", s.handleRequestWithdrawal)
	router.POST("/withdrawals/:account/execute", s.handleExecuteWithdrawal)
	router.DELETE("/withdrawals/:account", s.handleCancelWithdrawal)

	admin := router.Group("/admin")
	{
		admin.PUT("/signers/:addr", s.handleAddSigner)
		admin.DELETE("/signers/:addr", s.handleRemoveSigner)
		admin.PUT("/fee-collector", s.handleSetFeeCollector)
		admin.PUT("/unaccounted-gas", s.handleSetUnaccountedGas)
		admin.PUT("/min-deposit", s.handleSetMinDeposit)
		admin.PUT("/withdrawal-delay", s.handleSetWithdrawalDelay)
		admin.PUT("/tokens/:addr", s.handleAddToken)
		admin.DELETE("/tokens/:addr", s.handleRemoveToken)
	}
	return router
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Set("request_id", requestID)
		c.Header("X-Request-Id", requestID)

		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// ============================================================================
// Validate / Settle
// ============================================================================

type userOpRequest struct {
	Sender   string `json:"sender" binding:"required"`
	Nonce    string `json:"nonce"`
	InitCode string `json:"initCode"`
	CallData string `json:"callData"`

	CallGasLimit         uint64 `json:"callGasLimit"`
	VerificationGasLimit uint64 `json:"verificationGasLimit"`
	PreVerificationGas   uint64 `json:"preVerificationGas"`

	MaxFeePerGas         string `json:"maxFeePerGas" binding:"required"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`

	PaymasterVerificationGasLimit uint64 `json:"paymasterVerificationGasLimit"`
	PaymasterPostOpGasLimit       uint64 `json:"paymasterPostOpGasLimit"`
	PaymasterData                 string `json:"paymasterData" binding:"required"`

	Signature string `json:"signature"`
}

type validateRequest struct {
	Op      userOpRequest `json:"userOperation" binding:"required"`
	MaxCost string        `json:"maxCost" binding:"required"`
}

type validateResponse struct {
	paymaster.ValidationResult
	Context string `json:"context,omitempty"`
}

func (s *Server) handleValidate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, paymaster.ErrCodeMalformedPayload, err)
		return
	}

	op, err := req.Op.toUserOperation()
	if err != nil {
		s.renderError(c, http.StatusBadRequest, paymaster.ErrCodeMalformedPayload, err)
		return
	}
	maxCost, ok := new(big.Int).SetString(req.MaxCost, 10)
	if !ok {
		s.renderError(c, http.StatusBadRequest, paymaster.ErrCodeMalformedPayload, errors.New("maxCost is not a decimal integer"))
		return
	}

	result, err := s.engine.Validate(c.Request.Context(), op, maxCost)
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, validateResponse{
		ValidationResult: result,
		Context:          hexutil.Encode(result.Context),
	})
}

type settleRequest struct {
	Context        string `json:"context" binding:"required"`
	OpReverted     bool   `json:"opReverted"`
	ActualGasUsed  uint64 `json:"actualGasUsed" binding:"required"`
	ActualGasPrice string `json:"actualGasPrice" binding:"required"`
}

func (s *Server) handleSettle(c *gin.Context) {
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, paymaster.ErrCodeMalformedPayload, err)
		return
	}

	contextBytes, err := hexutil.Decode(req.Context)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, paymaster.ErrCodeMalformedPayload, err)
		return
	}
	gasPrice, ok := new(big.Int).SetString(req.ActualGasPrice, 10)
	if !ok {
		s.renderError(c, http.StatusBadRequest, paymaster.ErrCodeMalformedPayload, errors.New("actualGasPrice is not a decimal integer"))
		return
	}
	postOp := paymaster.OpSucceeded
	if req.OpReverted {
		postOp = paymaster.OpReverted
	}

	result, err := s.engine.Settle(c.Request.Context(), postOp, contextBytes, req.ActualGasUsed, gasPrice)
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ============================================================================
// Deposits & Withdrawals
// ============================================================================

type depositRequest struct {
	Account string `json:"account" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

func (s *Server) handleDeposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, paymaster.ErrCodeMalformedPayload, err)
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		s.renderError(c, http.StatusBadRequest, paymaster.ErrCodeMalformedPayload, errors.New("amount is not a decimal integer"))
		return
	}
	if err := s.ledger.Deposit(common.HexToAddress(req.Account), amount); err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": s.ledger.Balance(common.HexToAddress(req.Account)).String()})
}

func (s *Server) handleBalance(c *gin.Context) {
	account := common.HexToAddress(c.Param("account"))
	resp := gin.H{"account": account.Hex(), "balance": s.ledger.Balance(account).String()}
	if req, ok := s.ledger.PendingWithdrawal(account); ok {
		resp["pendingWithdrawal"] = gin.H{
			"amount":      req.Amount.String(),
			"destination": req.Destination.Hex(),
			"submittedAt": req.SubmittedAt.UTC().Format(time.RFC3339),
		}
	}
	c.JSON(http.StatusOK, resp)
}

type withdrawalRequest struct {
	Account     string `json:"account" binding:"required"`
	Destination string `json:"destination" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
}

func (s *Server) handleRequestWithdrawal(c *gin.Context) {
	var req withdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, paymaster.ErrCodeMalformedPayload, err)
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		s.renderError(c, http.StatusBadRequest, paymaster.ErrCodeMalformedPayload, errors.New("amount is not a decimal integer"))
		return
	}
	if err := s.ledger.RequestWithdrawal(common.HexToAddress(req.Account), common.HexToAddress(req.Destination), amount); err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "requested"})
}

func (s *Server) handleExecuteWithdrawal(c *gin.Context) {
	amount, err := s.ledger.ExecuteWithdrawal(c.Request.Context(), common.HexToAddress(c.Param("account")))
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawn": amount.String()})
}

func (s *Server) handleCancelWithdrawal(c *gin.Context) {
	s.ledger.CancelWithdrawal(common.HexToAddress(c.Param("account")))
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// ============================================================================
// Administration
// ============================================================================

func (s *Server) handleAddSigner(c *gin.Context) {
	if err := s.registry.AddSigner(c.Request.Context(), common.HexToAddress(c.Param("addr"))); err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "added"})
}

func (s *Server) handleRemoveSigner(c *gin.Context) {
	s.registry.RemoveSigner(common.HexToAddress(c.Param("addr")))
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

func (s *Server) handleSetFeeCollector(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, paymaster.ErrCodeMalformedPayload, err)
		return
	}
	if err := s.params.SetFeeCollector(c.Request.Context(), common.HexToAddress(req.Address)); err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feeCollector": s.params.FeeCollector().Hex()})
}

func (s *Server) handleSetUnaccountedGas(c *gin.Context) {
	var req struct {
		Gas uint64 `json:"gas" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, paymaster.ErrCodeMalformedPayload, err)
		return
	}
	if err := s.params.SetUnaccountedGas(req.Gas); err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unaccountedGas": s.params.UnaccountedGas()})
}

func (s *Server) handleSetMinDeposit(c *gin.Context) {
	var req struct {
		Amount string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, paymaster.ErrCodeMalformedPayload, err)
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		s.renderError(c, http.StatusBadRequest, paymaster.ErrCodeMalformedPayload, errors.New("amount is not a decimal integer"))
		return
	}
	s.ledger.SetMinDeposit(amount)
	c.JSON(http.StatusOK, gin.H{"minDeposit": amount.String()})
}

func (s *Server) handleSetWithdrawalDelay(c *gin.Context) {
	var req struct {
		Delay string `json:"delay" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, paymaster.ErrCodeMalformedPayload, err)
		return
	}
	delay, err := time.ParseDuration(req.Delay)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, paymaster.ErrCodeMalformedPayload, err)
		return
	}
	if err := s.ledger.SetWithdrawalDelay(delay); err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawalDelay": delay.String()})
}

type tokenRequest struct {
	FeeMarkup          uint32 `json:"feeMarkup" binding:"required"`
	Enabled            *bool  `json:"enabled"`
	MaxRoundAgeSeconds int64  `json:"maxRoundAgeSeconds"`
	AssetDecimals      uint8  `json:"assetDecimals"`
}

func (s *Server) handleAddToken(c *gin.Context) {
	if s.tokens == nil {
		s.renderError(c, http.StatusNotImplemented, paymaster.ErrCodeUnsupportedToken, errors.New("token mode not enabled"))
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, paymaster.ErrCodeMalformedPayload, err)
		return
	}
	s.tokens.AddToken(common.HexToAddress(c.Param("addr")), token.Entry{
		Config: paymaster.TokenConfig{
			FeeMarkup: req.FeeMarkup,
			Enabled:   req.Enabled == nil || *req.Enabled,
		},
		Oracle: oracle.Config{
			MaxRoundAge:   time.Duration(req.MaxRoundAgeSeconds) * time.Second,
			AssetDecimals: req.AssetDecimals,
		},
	})
	c.JSON(http.StatusOK, gin.H{"status": "added"})
}

func (s *Server) handleRemoveToken(c *gin.Context) {
	if s.tokens == nil {
		s.renderError(c, http.StatusNotImplemented, paymaster.ErrCodeUnsupportedToken, errors.New("token mode not enabled"))
		return
	}
	s.tokens.RemoveToken(common.HexToAddress(c.Param("addr")))
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

// ============================================================================
// Helpers
// ============================================================================

func (r *userOpRequest) toUserOperation() (*paymaster.UserOperation, error) {
	op := &paymaster.UserOperation{
		Sender:                        common.HexToAddress(r.Sender),
		Nonce:                         new(big.Int),
		CallGasLimit:                  r.CallGasLimit,
		VerificationGasLimit:          r.VerificationGasLimit,
		PreVerificationGas:            r.PreVerificationGas,
		PaymasterVerificationGasLimit: r.PaymasterVerificationGasLimit,
		PaymasterPostOpGasLimit:       r.PaymasterPostOpGasLimit,
		MaxPriorityFeePerGas:          new(big.Int),
	}

	if r.Nonce != "" {
		nonce, ok := new(big.Int).SetString(r.Nonce, 10)
		if !ok {
			return nil, errors.New("nonce is not a decimal integer")
		}
		op.Nonce = nonce
	}
	maxFee, ok := new(big.Int).SetString(r.MaxFeePerGas, 10)
	if !ok {
		return nil, errors.New("maxFeePerGas is not a decimal integer")
	}
	op.MaxFeePerGas = maxFee
	if r.MaxPriorityFeePerGas != "" {
		tip, ok := new(big.Int).SetString(r.MaxPriorityFeePerGas, 10)
		if !ok {
			return nil, errors.New("maxPriorityFeePerGas is not a decimal integer")
		}
		op.MaxPriorityFeePerGas = tip
	}

	var err error
	if op.PaymasterData, err = hexField(r.PaymasterData); err != nil {
		return nil, err
	}
	if op.InitCode, err = hexField(r.InitCode); err != nil {
		return nil, err
	}
	if op.CallData, err = hexField(r.CallData); err != nil {
		return nil, err
	}
	if op.Signature, err = hexField(r.Signature); err != nil {
		return nil, err
	}
	return op, nil
}

func hexField(v string) ([]byte, error) {
	if v == "" {
		return nil, nil
	}
	return hexutil.Decode(v)
}

func (s *Server) renderError(c *gin.Context, status int, code string, err error) {
	c.JSON(status, paymaster.NewPaymasterError(code, err.Error(), nil))
}

// renderEngineError maps engine errors onto HTTP statuses, preserving the
// taxonomy: malformed input and policy violations are 4xx, charge failures
// surface as 502 so operators alert on them, everything else is 500.
func (s *Server) renderEngineError(c *gin.Context, err error) {
	code := paymaster.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case paymaster.ErrCodeMalformedPayload, paymaster.ErrCodeMarkupOutOfRange, paymaster.ErrCodePostOpGasTooLow, paymaster.ErrCodeUnsupportedToken:
		status = http.StatusBadRequest
	case paymaster.ErrCodeInsufficientFunds:
		status = http.StatusPaymentRequired
	case paymaster.ErrCodePriceStale:
		status = http.StatusConflict
	case paymaster.ErrCodeChargeFailed:
		status = http.StatusBadGateway
	default:
		if errors.Is(err, ledger.ErrZeroAmount) || errors.Is(err, ledger.ErrBelowMinDeposit) ||
			errors.Is(err, ledger.ErrZeroDestination) || errors.Is(err, ledger.ErrDelayTooLong) ||
			errors.Is(err, registry.ErrZeroAddress) || errors.Is(err, registry.ErrContractAddress) ||
			errors.Is(err, paymaster.ErrZeroFeeCollector) || errors.Is(err, paymaster.ErrContractFeeCollector) ||
			errors.Is(err, paymaster.ErrUnaccountedGasBound) {
			status = http.StatusBadRequest
		}
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			status = http.StatusPaymentRequired
		}
		if errors.Is(err, ledger.ErrNoRequest) || errors.Is(err, ledger.ErrNotMatured) || errors.Is(err, ledger.ErrNothingToDraw) {
			status = http.StatusConflict
		}
	}
	c.JSON(status, paymaster.NewPaymasterError(code, err.Error(), nil))
}
