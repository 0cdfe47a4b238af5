// Package settleapi exposes the settlement engine over HTTP. The handler
// is caller-addressed: mutating requests carry the acting account in the
// body and trust upstream termination for authentication.
package settleapi

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/gigmesh/settlement/internal/attest"
	"github.com/gigmesh/settlement/internal/escrow"
	"github.com/gigmesh/settlement/internal/gamble"
	"github.com/gigmesh/settlement/internal/ledger"
	"github.com/gigmesh/settlement/internal/oracle"
	"github.com/gigmesh/settlement/internal/orderbook"
)

var ErrInvalidConfig = errors.New("settleapi: invalid config")

type Config struct {
	Book    *orderbook.Book
	Escrow  *escrow.Engine
	Staking *gamble.Engine
	Attest  *attest.Verifier
	Ledger  *ledger.Ledger

	FeeBps             uint32
	HouseFeeBps        uint32
	SafeWithdrawFeeBps uint32

	RateLimitPerIPPerSecond float64
	RateLimitBurst          int
	RateLimitMaxTrackedIPs  int

	Now func() time.Time
}

func NewHandler(cfg Config) (http.Handler, error) {
	if cfg.Book == nil || cfg.Escrow == nil || cfg.Staking == nil || cfg.Ledger == nil {
		return nil, fmt.Errorf("%w: nil services", ErrInvalidConfig)
	}
	if cfg.RateLimitPerIPPerSecond <= 0 {
		cfg.RateLimitPerIPPerSecond = 20
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	if cfg.RateLimitMaxTrackedIPs <= 0 {
		cfg.RateLimitMaxTrackedIPs = 10_000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	h := &handler{
		cfg: cfg,
		limiter: newIPRateLimiter(
			cfg.RateLimitPerIPPerSecond,
			float64(cfg.RateLimitBurst),
			cfg.RateLimitMaxTrackedIPs,
		),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /v1/config", h.handleConfig)
	mux.HandleFunc("GET /v1/quote", h.handleQuote)
	mux.HandleFunc("GET /v1/balances/{account}", h.handleBalance)

	mux.HandleFunc("POST /v1/jobs", h.handleJobCreate)
	mux.HandleFunc("GET /v1/jobs/{jobId}", h.handleJobGet)
	mux.HandleFunc("POST /v1/jobs/{jobId}/assign", h.handleJobAssign)
	mux.HandleFunc("POST /v1/jobs/{jobId}/complete", h.handleJobComplete)
	mux.HandleFunc("POST /v1/jobs/{jobId}/cancel", h.handleJobCancel)

	mux.HandleFunc("POST /v1/jobs/{jobId}/fund", h.handleJobFund)
	mux.HandleFunc("POST /v1/jobs/{jobId}/release", h.handleJobRelease)
	mux.HandleFunc("POST /v1/jobs/{jobId}/refund", h.handleJobRefund)
	mux.HandleFunc("GET /v1/deposits/{jobId}", h.handleDepositGet)

	mux.HandleFunc("POST /v1/stake", h.handleStake)
	mux.HandleFunc("POST /v1/stake/unstake", h.handleUnstake)
	mux.HandleFunc("POST /v1/stake/cashout", h.handleCashout)
	mux.HandleFunc("POST /v1/stake/safe-withdraw", h.handleSafeWithdraw)
	mux.HandleFunc("GET /v1/stake/{account}", h.handleStakeInfo)
	mux.HandleFunc("GET /v1/stake/{account}/cashout-preview", h.handleCashoutPreview)
	mux.HandleFunc("GET /v1/stake/{account}/safe-withdraw-preview", h.handleSafeWithdrawPreview)

	if cfg.Attest != nil {
		mux.HandleFunc("POST /v1/attest/{jobId}/request", h.handleAttestRequest)
		mux.HandleFunc("POST /v1/attest/{jobId}/proof", h.handleAttestProof)
		mux.HandleFunc("GET /v1/attest/{jobId}", h.handleAttestStatus)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health checks must never be throttled.
		if r.URL.Path == "/healthz" {
			mux.ServeHTTP(w, r)
			return
		}

		now := h.cfg.Now().UTC()
		ip := clientIP(r)
		allowed := h.limiter.Allow(ip, now)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.cfg.RateLimitBurst))
		if !allowed {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}

		mux.ServeHTTP(w, r)
	}), nil
}

type handler struct {
	cfg Config

	limiter *ipRateLimiter
}

func (h *handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (h *handler) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":            "v1",
		"feeBps":             h.cfg.FeeBps,
		"houseFeeBps":        h.cfg.HouseFeeBps,
		"safeWithdrawFeeBps": h.cfg.SafeWithdrawFeeBps,
		"escrowVault":        ledger.ModuleAccount("escrow-vault").Hex(),
		"stakeVault":         ledger.ModuleAccount("stake-vault").Hex(),
		"feeCollector":       ledger.ModuleAccount("fee-collector").Hex(),
		"lossPool":           ledger.ModuleAccount("loss-pool").Hex(),
	})
}

// handleQuote is a pure passthrough to the oracle. Quotes are never
// cached: a stale feed must surface as an error, not as yesterday's
// price.
func (h *handler) handleQuote(w http.ResponseWriter, r *http.Request) {
	usd, ok := parseAmount(strings.TrimSpace(r.URL.Query().Get("usd")))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_usd_amount")
		return
	}

	native, err := h.cfg.Book.QuoteUsdToNative(r.Context(), usd)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"usd":     usd.String(),
		"native":  native.String(),
	})
}

func (h *handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	acct, ok := parseAddress(r.PathValue("account"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_account")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"account": acct.Hex(),
		"balance": h.cfg.Ledger.Balance(acct).String(),
	})
}

type jobCreateBody struct {
	Poster      string `json:"poster"`
	MetadataRef string `json:"metadataRef"`
	MaxPriceUsd string `json:"maxPriceUsd"`
	Deadline    string `json:"deadline"`
}

func (h *handler) handleJobCreate(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[jobCreateBody](w, r)
	if !ok {
		return
	}
	poster, ok := parseAddress(body.Poster)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_poster")
		return
	}
	maxUsd, ok := parseAmount(body.MaxPriceUsd)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_max_price_usd")
		return
	}
	deadline, err := time.Parse(time.RFC3339, strings.TrimSpace(body.Deadline))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_deadline")
		return
	}

	job, err := h.cfg.Book.CreateJob(r.Context(), poster, body.MetadataRef, maxUsd, deadline)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

func (h *handler) handleJobGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(r.PathValue("jobId"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_job_id")
		return
	}
	job, err := h.cfg.Book.GetJob(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

type jobAssignBody struct {
	Caller   string `json:"caller"`
	Provider string `json:"provider"`
}

func (h *handler) handleJobAssign(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(r.PathValue("jobId"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_job_id")
		return
	}
	body, ok := decodeJSONBody[jobAssignBody](w, r)
	if !ok {
		return
	}
	caller, ok := parseAddress(body.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_caller")
		return
	}
	provider, ok := parseAddress(body.Provider)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_provider")
		return
	}

	job, err := h.cfg.Book.AssignProvider(r.Context(), caller, id, provider)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

type jobCompleteBody struct {
	Caller    string `json:"caller"`
	ProofHash string `json:"proofHash"`
}

func (h *handler) handleJobComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(r.PathValue("jobId"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_job_id")
		return
	}
	body, ok := decodeJSONBody[jobCompleteBody](w, r)
	if !ok {
		return
	}
	caller, ok := parseAddress(body.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_caller")
		return
	}
	proofHash, ok := parseHash(body.ProofHash)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_proof_hash")
		return
	}

	job, err := h.cfg.Book.MarkCompleted(r.Context(), caller, id, proofHash)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

type callerBody struct {
	Caller string `json:"caller"`
}

func (h *handler) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(r.PathValue("jobId"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_job_id")
		return
	}
	body, ok := decodeJSONBody[callerBody](w, r)
	if !ok {
		return
	}
	caller, ok := parseAddress(body.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_caller")
		return
	}

	job, err := h.cfg.Book.CancelJob(r.Context(), caller, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

type jobFundBody struct {
	Caller      string `json:"caller"`
	Provider    string `json:"provider"`
	UsdBudget   string `json:"usdBudget"`
	Transferred string `json:"transferred"`
}

func (h *handler) handleJobFund(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(r.PathValue("jobId"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_job_id")
		return
	}
	body, ok := decodeJSONBody[jobFundBody](w, r)
	if !ok {
		return
	}
	caller, ok := parseAddress(body.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_caller")
		return
	}
	provider, ok := parseAddress(body.Provider)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_provider")
		return
	}
	usdBudget, ok := parseAmount(body.UsdBudget)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_usd_budget")
		return
	}
	transferred, ok := parseAmount(body.Transferred)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_transferred")
		return
	}

	dep, err := h.cfg.Escrow.FundJob(r.Context(), caller, id, provider, usdBudget, transferred)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, depositResponse(dep))
}

func (h *handler) handleJobRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(r.PathValue("jobId"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_job_id")
		return
	}
	body, ok := decodeJSONBody[callerBody](w, r)
	if !ok {
		return
	}
	caller, ok := parseAddress(body.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_caller")
		return
	}

	dep, err := h.cfg.Escrow.ReleaseToProvider(r.Context(), caller, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, depositResponse(dep))
}

func (h *handler) handleJobRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(r.PathValue("jobId"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_job_id")
		return
	}
	body, ok := decodeJSONBody[callerBody](w, r)
	if !ok {
		return
	}
	caller, ok := parseAddress(body.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_caller")
		return
	}

	dep, err := h.cfg.Escrow.Refund(r.Context(), caller, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, depositResponse(dep))
}

func (h *handler) handleDepositGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(r.PathValue("jobId"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_job_id")
		return
	}
	dep, err := h.cfg.Escrow.GetDeposit(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, depositResponse(dep))
}

type stakeBody struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

func (h *handler) handleStake(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[stakeBody](w, r)
	if !ok {
		return
	}
	caller, ok := parseAddress(body.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_caller")
		return
	}
	amount, ok := parseAmount(body.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_amount")
		return
	}

	pos, err := h.cfg.Staking.Stake(r.Context(), caller, amount)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionResponse(pos))
}

func (h *handler) handleUnstake(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[callerBody](w, r)
	if !ok {
		return
	}
	caller, ok := parseAddress(body.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_caller")
		return
	}

	pos, err := h.cfg.Staking.Unstake(r.Context(), caller)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionResponse(pos))
}

func (h *handler) handleCashout(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[callerBody](w, r)
	if !ok {
		return
	}
	caller, ok := parseAddress(body.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_caller")
		return
	}

	outcome, payout, err := h.cfg.Staking.Cashout(r.Context(), caller)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"outcome": outcomeString(outcome),
		"payout":  payout.String(),
	})
}

func (h *handler) handleSafeWithdraw(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[callerBody](w, r)
	if !ok {
		return
	}
	caller, ok := parseAddress(body.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_caller")
		return
	}

	net, err := h.cfg.Staking.SafeWithdraw(r.Context(), caller)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"net":     net.String(),
	})
}

func (h *handler) handleStakeInfo(w http.ResponseWriter, r *http.Request) {
	acct, ok := parseAddress(r.PathValue("account"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_account")
		return
	}
	pos, err := h.cfg.Staking.GetStakeInfo(r.Context(), acct)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionResponse(pos))
}

func (h *handler) handleCashoutPreview(w http.ResponseWriter, r *http.Request) {
	acct, ok := parseAddress(r.PathValue("account"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_account")
		return
	}
	fee, net, bonus, err := h.cfg.Staking.PreviewCashout(r.Context(), acct)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":        "v1",
		"fee":            fee.String(),
		"net":            net.String(),
		"availableBonus": bonus.String(),
	})
}

func (h *handler) handleSafeWithdrawPreview(w http.ResponseWriter, r *http.Request) {
	acct, ok := parseAddress(r.PathValue("account"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_account")
		return
	}
	fee, net, err := h.cfg.Staking.PreviewSafeWithdraw(r.Context(), acct)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"fee":     fee.String(),
		"net":     net.String(),
	})
}

func (h *handler) handleAttestRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(r.PathValue("jobId"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_job_id")
		return
	}

	job, err := h.cfg.Book.GetJob(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	requestID, err := h.cfg.Attest.RequestAttestation(r.Context(), id, job.DeliveryProofHash)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":   "v1",
		"jobId":     strconv.FormatUint(id, 10),
		"requestId": requestID.Hex(),
	})
}

type attestProofBody struct {
	Payload string `json:"payload"`
	Seal    string `json:"seal"`
}

func (h *handler) handleAttestProof(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(r.PathValue("jobId"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_job_id")
		return
	}
	body, ok := decodeJSONBody[attestProofBody](w, r)
	if !ok {
		return
	}
	payload, err := decodeHexField(body.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	seal, err := decodeHexField(body.Seal)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_seal")
		return
	}

	if err := h.cfg.Attest.VerifyDelivery(r.Context(), id, attest.Proof{Payload: payload, Seal: seal}); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":   "v1",
		"jobId":     strconv.FormatUint(id, 10),
		"confirmed": true,
	})
}

func (h *handler) handleAttestStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(r.PathValue("jobId"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_job_id")
		return
	}
	confirmed, err := h.cfg.Attest.IsDeliveryConfirmed(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":   "v1",
		"jobId":     strconv.FormatUint(id, 10),
		"confirmed": confirmed,
	})
}

// writeDomainError maps engine errors onto HTTP status codes. Unknown
// errors are reported as internal without leaking detail.
func (h *handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orderbook.ErrNotFound),
		errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, gamble.ErrNotFound),
		errors.Is(err, attest.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, orderbook.ErrNotPoster),
		errors.Is(err, orderbook.ErrNotProvider),
		errors.Is(err, escrow.ErrNotParty),
		errors.Is(err, escrow.ErrNotOperator),
		errors.Is(err, attest.ErrNotOperator):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, orderbook.ErrWrongState),
		errors.Is(err, escrow.ErrWrongState),
		errors.Is(err, escrow.ErrAlreadyFunded),
		errors.Is(err, escrow.ErrAlreadySettled),
		errors.Is(err, escrow.ErrProviderMismatch),
		errors.Is(err, gamble.ErrAlreadyStaked),
		errors.Is(err, gamble.ErrNotStaked),
		errors.Is(err, gamble.ErrNoEarnings):
		writeError(w, http.StatusConflict, "conflict")
	case errors.Is(err, escrow.ErrNotAttested):
		writeError(w, http.StatusConflict, "delivery_not_attested")
	case errors.Is(err, escrow.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, "insufficient_funds")
	case errors.Is(err, oracle.ErrStaleData), errors.Is(err, oracle.ErrBadFeed):
		writeError(w, http.StatusServiceUnavailable, "price_feed_unavailable")
	case errors.Is(err, attest.ErrInvalidProof),
		errors.Is(err, attest.ErrJobIDMismatch),
		errors.Is(err, attest.ErrNotDelivered):
		writeError(w, http.StatusUnprocessableEntity, "proof_rejected")
	case errors.Is(err, orderbook.ErrInvalidDeadline),
		errors.Is(err, orderbook.ErrInvalidJob),
		errors.Is(err, gamble.ErrBelowMinimumStake),
		errors.Is(err, gamble.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "invalid_request")
	default:
		writeError(w, http.StatusInternalServerError, "internal")
	}
}

func jobResponse(j orderbook.Job) map[string]any {
	provider := ""
	if j.Provider != (common.Address{}) {
		provider = j.Provider.Hex()
	}
	proofHash := ""
	if j.DeliveryProofHash != (common.Hash{}) {
		proofHash = j.DeliveryProofHash.Hex()
	}
	return map[string]any{
		"version":           "v1",
		"jobId":             strconv.FormatUint(j.ID, 10),
		"poster":            j.Poster.Hex(),
		"provider":          provider,
		"metadataRef":       j.MetadataRef,
		"maxPriceUsd":       j.MaxPriceUsd.String(),
		"maxPriceNative":    j.MaxPriceNative.String(),
		"deadline":          j.Deadline.UTC().Format(time.RFC3339),
		"deliveryProofHash": proofHash,
		"status":            j.Status.String(),
	}
}

func depositResponse(d escrow.Deposit) map[string]any {
	state := "funded"
	switch {
	case d.Released:
		state = "released"
	case d.Refunded:
		state = "refunded"
	}
	return map[string]any{
		"version":  "v1",
		"jobId":    strconv.FormatUint(d.JobID, 10),
		"poster":   d.Poster.Hex(),
		"provider": d.Provider.Hex(),
		"amount":   d.Amount.String(),
		"state":    state,
	}
}

func positionResponse(p gamble.Position) map[string]any {
	return map[string]any{
		"version":             "v1",
		"provider":            p.Provider.Hex(),
		"stakedAmount":        p.StakedAmount.String(),
		"accumulatedEarnings": p.AccumulatedEarnings.String(),
		"wins":                p.Wins,
		"losses":              p.Losses,
		"isStaked":            p.IsStaked,
	}
}

func outcomeString(o gamble.Outcome) string {
	switch o {
	case gamble.OutcomeWin:
		return "win"
	case gamble.OutcomeLoss:
		return "loss"
	case gamble.OutcomeSafeWithdraw:
		return "safe_withdraw"
	default:
		return "unknown"
	}
}

func parseJobID(s string) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func parseAddress(s string) (common.Address, bool) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, false
	}
	return addr, true
}

func parseHash(s string) (common.Hash, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 64 {
		return common.Hash{}, false
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

func parseAmount(s string) (sdkmath.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return sdkmath.Int{}, false
	}
	v, ok := sdkmath.NewIntFromString(s)
	if !ok || !v.IsPositive() {
		return sdkmath.Int{}, false
	}
	return v, true
}

func decodeHexField(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "0x")
	raw = strings.TrimPrefix(raw, "0X")
	if raw == "" {
		return nil, errors.New("empty hex value")
	}
	return hex.DecodeString(raw)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"version": "v1",
		"error":   msg,
	})
}

func decodeJSONBody[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var out T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return out, false
	}
	return out, true
}

func clientIP(r *http.Request) string {
	xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xff != "" {
		parts := strings.Split(xff, ",")
		ip := strings.TrimSpace(parts[0])
		if ip != "" {
			return ip
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		return xrip
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(remote); err == nil {
		return addr.Addr().String()
	}
	if addr, err := netip.ParseAddr(remote); err == nil {
		return addr.String()
	}
	host := remote
	if i := strings.LastIndex(remote, ":"); i > 0 {
		host = remote[:i]
	}
	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		return addr.String()
	}
	return remote
}

type limiterState struct {
	tokens   float64
	lastAt   time.Time
	lastSeen time.Time
}

type ipRateLimiter struct {
	mu sync.Mutex

	refillPerSecond float64
	burst           float64
	maxTrackedIPs   int
	states          map[string]limiterState
}

func newIPRateLimiter(refillPerSecond float64, burst float64, maxTrackedIPs int) *ipRateLimiter {
	return &ipRateLimiter{
		refillPerSecond: refillPerSecond,
		burst:           burst,
		maxTrackedIPs:   maxTrackedIPs,
		states:          make(map[string]limiterState),
	}
}

func (l *ipRateLimiter) Allow(ip string, now time.Time) bool {
	if l == nil {
		return true
	}
	if ip == "" {
		ip = "unknown"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.states[ip]
	if !ok {
		if len(l.states) >= l.maxTrackedIPs {
			l.evictOne()
		}
		l.states[ip] = limiterState{
			tokens:   l.burst - 1,
			lastAt:   now,
			lastSeen: now,
		}
		return true
	}

	elapsed := now.Sub(st.lastAt).Seconds()
	if elapsed > 0 {
		st.tokens += elapsed * l.refillPerSecond
		if st.tokens > l.burst {
			st.tokens = l.burst
		}
	}
	st.lastAt = now
	st.lastSeen = now

	if st.tokens < 1 {
		l.states[ip] = st
		return false
	}
	st.tokens -= 1
	l.states[ip] = st
	return true
}

func (l *ipRateLimiter) evictOne() {
	var oldestIP string
	var oldestAt time.Time
	first := true
	for ip, st := range l.states {
		if first || st.lastSeen.Before(oldestAt) {
			oldestIP = ip
			oldestAt = st.lastSeen
			first = false
		}
	}
	if oldestIP != "" {
		delete(l.states, oldestIP)
	}
}
