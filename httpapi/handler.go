// Package httpapi exposes the claim and dispute operations over HTTP. Every
// route resolves the caller's on-protocol address from a bearer token; the
// domain services enforce the actual authorization rules.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bountyflow/arbitration"
	"bountyflow/bond"
	"bountyflow/claim"
	"bountyflow/identity"
	"bountyflow/token"
)

type ctxKey int

const ctxKeyActor ctxKey = iota

// Handler wires the domain services into the router.
type Handler struct {
	identity  *identity.Service
	authority *claim.Authority
	engine    *arbitration.Engine
	claims    *claim.Store
	bonds     *bond.Ledger
	pool      *pgxpool.Pool
	vaultID   string
}

func NewHandler(identitySvc *identity.Service, authority *claim.Authority, engine *arbitration.Engine, claims *claim.Store, bonds *bond.Ledger, pool *pgxpool.Pool, vaultID string) *Handler {
	return &Handler{
		identity:  identitySvc,
		authority: authority,
		engine:    engine,
		claims:    claims,
		bonds:     bonds,
		pool:      pool,
		vaultID:   vaultID,
	}
}

// Routes builds the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeSuccess(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Post("/auth/register", h.register)
	r.Post("/auth/login", h.login)

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware)

		r.Get("/claims/active", h.activeClaim)
		r.Post("/claims", h.submitClaim)
		r.Post("/claims/{claimID}/challenge", h.challengeClaim)
		r.Post("/claims/{claimID}/approve", h.approveClaim)
		r.Post("/claims/{claimID}/dismiss", h.dismissClaim)

		r.Post("/claims/{claimID}/dispute", h.dispute)
		r.Post("/claims/{claimID}/dismiss-dispute", h.dismissDispute)
		r.Post("/claims/{claimID}/accept-dispute", h.acceptDispute)
		r.Post("/claims/{claimID}/refund-bond", h.refundBond)
		r.Post("/claims/{claimID}/execute-resolution", h.executeResolution)
		r.Post("/claims/{claimID}/challenge-resolution", h.challengeResolution)
		r.Get("/claims/{claimID}/bonds", h.listBonds)
	})

	return r
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}
		address, _, err := h.identity.VerifyToken(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyActor, address)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFromContext(r *http.Request) string {
	addr, _ := r.Context().Value(ctxKeyActor).(string)
	return addr
}

func bearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", fmt.Errorf("httpapi: malformed authorization header")
	}
	return strings.TrimSpace(header[len(prefix):]), nil
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req identity.RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	actor, err := h.identity.Register(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{
		"actor_id": actor.ID,
		"address":  actor.Address,
		"role":     actor.Role,
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req identity.LoginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	res, err := h.identity.Login(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"token":   res.Token,
		"address": res.Actor.Address,
		"role":    res.Actor.Role,
	})
}

func (h *Handler) activeClaim(w http.ResponseWriter, r *http.Request) {
	c, err := h.claims.GetActive(r.Context(), h.vaultID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, claimJSON(c))
}

type submitClaimRequest struct {
	Beneficiary      string `json:"beneficiary"`
	BountyPercentage int    `json:"bounty_percentage"`
}

func (h *Handler) submitClaim(w http.ResponseWriter, r *http.Request) {
	var req submitClaimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	c, err := h.authority.Submit(r.Context(), actorFromContext(r), claim.SubmitParams{
		Beneficiary:      req.Beneficiary,
		BountyPercentage: req.BountyPercentage,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, claimJSON(c))
}

func (h *Handler) challengeClaim(w http.ResponseWriter, r *http.Request) {
	err := h.authority.Challenge(r.Context(), actorFromContext(r), chi.URLParam(r, "claimID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"challenged": true})
}

func (h *Handler) approveClaim(w http.ResponseWriter, r *http.Request) {
	err := h.authority.Approve(r.Context(), actorFromContext(r), chi.URLParam(r, "claimID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"approved": true})
}

func (h *Handler) dismissClaim(w http.ResponseWriter, r *http.Request) {
	err := h.authority.Dismiss(r.Context(), actorFromContext(r), chi.URLParam(r, "claimID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"dismissed": true})
}

type disputeRequest struct {
	EvidenceRef string `json:"evidence_ref"`
	Amount      int64  `json:"amount"`
}

func (h *Handler) dispute(w http.ResponseWriter, r *http.Request) {
	var req disputeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	total, err := h.engine.Dispute(r.Context(), actorFromContext(r), chi.URLParam(r, "claimID"), req.EvidenceRef, req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"bond_total": total})
}

func (h *Handler) dismissDispute(w http.ResponseWriter, r *http.Request) {
	err := h.engine.DismissDispute(r.Context(), actorFromContext(r), chi.URLParam(r, "claimID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"dismissed": true})
}

type acceptDisputeRequest struct {
	Beneficiary      string `json:"beneficiary"`
	BountyPercentage int    `json:"bounty_percentage"`
}

func (h *Handler) acceptDispute(w http.ResponseWriter, r *http.Request) {
	var req acceptDisputeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	err := h.engine.AcceptDispute(r.Context(), actorFromContext(r), chi.URLParam(r, "claimID"), req.BountyPercentage, req.Beneficiary)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"resolved": true})
}

func (h *Handler) refundBond(w http.ResponseWriter, r *http.Request) {
	amount, err := h.engine.RefundBond(r.Context(), actorFromContext(r), chi.URLParam(r, "claimID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"refunded": amount})
}

func (h *Handler) executeResolution(w http.ResponseWriter, r *http.Request) {
	err := h.engine.ExecuteResolution(r.Context(), actorFromContext(r), chi.URLParam(r, "claimID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"executed": true})
}

func (h *Handler) challengeResolution(w http.ResponseWriter, r *http.Request) {
	err := h.engine.ChallengeResolution(r.Context(), actorFromContext(r), chi.URLParam(r, "claimID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"challenged": true})
}

func (h *Handler) listBonds(w http.ResponseWriter, r *http.Request) {
	tx, err := h.pool.Begin(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "begin read")
		return
	}
	defer tx.Rollback(r.Context())

	bonds, err := h.bonds.ListByClaim(r.Context(), tx, chi.URLParam(r, "claimID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(bonds))
	for _, b := range bonds {
		out = append(out, map[string]any{
			"disputer":    b.Disputer,
			"amount":      b.Amount,
			"refunded_at": b.RefundedAt,
		})
	}
	writeSuccess(w, http.StatusOK, map[string]any{"bonds": out})
}

func claimJSON(c claim.Claim) map[string]any {
	return map[string]any{
		"id":                c.ID,
		"vault_id":          c.VaultID,
		"beneficiary":       c.Beneficiary,
		"bounty_percentage": c.BountyPercentage,
		"committee":         c.CommitteeAtSubmission,
		"status":            c.Status,
		"created_at":        c.CreatedAt,
		"challenged_at":     c.ChallengedAt,
	}
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("httpapi: decode body: %w", err)
	}
	return nil
}

func writeSuccess(w http.ResponseWriter, status int, data map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, claim.ErrNotCommittee),
		errors.Is(err, claim.ErrNotArbitrator),
		errors.Is(err, arbitration.ErrNotExpertCommittee),
		errors.Is(err, arbitration.ErrNotCourt):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, claim.ErrNoActiveClaim),
		errors.Is(err, identity.ErrActorNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, claim.ErrActiveClaimExists),
		errors.Is(err, claim.ErrClaimMismatch),
		errors.Is(err, claim.ErrAlreadyChallenged),
		errors.Is(err, claim.ErrClaimNotChallenged),
		errors.Is(err, arbitration.ErrAlreadyResolved),
		errors.Is(err, arbitration.ErrNoResolution),
		errors.Is(err, arbitration.ErrResolutionAlreadyChallenged),
		errors.Is(err, identity.ErrDuplicateAddress):
		return http.StatusConflict, "STATE_CONFLICT"
	case errors.Is(err, claim.ErrSafetyPeriod),
		errors.Is(err, claim.ErrChallengePeriodNotOver),
		errors.Is(err, claim.ErrChallengePeriodEnded),
		errors.Is(err, arbitration.ErrCannotSubmitMoreEvidence),
		errors.Is(err, arbitration.ErrResolutionWindowOpen),
		errors.Is(err, arbitration.ErrResolutionWindowClosed):
		return http.StatusUnprocessableEntity, "TIMING"
	case errors.Is(err, bond.ErrBondTooSmall),
		errors.Is(err, claim.ErrBountyTooHigh),
		errors.Is(err, identity.ErrWeakPassword):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, token.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
