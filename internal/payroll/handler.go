package payroll

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openstipend/openstipend/internal/platform/httpx"
	"github.com/openstipend/openstipend/internal/shared"
)

// Handler exposes the payroll HTTP surface.
type Handler struct {
	service    *Service
	registry   *Registry
	reconciler *Reconciler
	store      *FileStore
	logger     *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *Service, registry *Registry, reconciler *Reconciler, store *FileStore, logger *slog.Logger) *Handler {
	return &Handler{
		service:    service,
		registry:   registry,
		reconciler: reconciler,
		store:      store,
		logger:     logger,
	}
}

// Register mounts the payroll routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/payrolls", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Get("/payment-methods", h.paymentMethods)
		r.Route("/{payrollID}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Delete("/", h.delete)
			r.Get("/benefits", h.benefits)
			r.Post("/benefits/{benefitID}", h.attachBenefit)
			r.Post("/deletion-request", h.requestDeletion)
			r.Post("/rejection-request", h.requestRejection)
			r.Get("/reconciliation/export", h.exportReconciliation)
			r.Post("/reconciliation", h.importReconciliation)
			r.Get("/reconciliation/files", h.reconciliationFiles)
		})
	})
	r.Post("/benefits/{benefitID}/deletion-request", h.requestBenefitDeletion)
}

// RegisterCallback mounts the gateway callback route; mounted separately so
// the router can rate-limit it.
func (h *Handler) RegisterCallback(r chi.Router) {
	r.Post("/gateway/callback", h.gatewayCallback)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	p, err := h.service.Create(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	payrolls, err := h.service.List(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payrolls": payrolls})
}

func (h *Handler) paymentMethods(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"payment_methods": h.registry.Methods()})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "payrollID")
	if !ok {
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "payrollID")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) benefits(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "payrollID")
	if !ok {
		return
	}
	benefits, err := h.service.Benefits(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"benefits": benefits})
}

func (h *Handler) attachBenefit(w http.ResponseWriter, r *http.Request) {
	payrollID, ok := parseID(w, r, "payrollID")
	if !ok {
		return
	}
	benefitID, ok := parseID(w, r, "benefitID")
	if !ok {
		return
	}
	if err := h.service.AttachBenefitToPayroll(r.Context(), payrollID, benefitID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requestDeletion(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "payrollID")
	if !ok {
		return
	}
	if err := h.service.RequestDeletion(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) requestRejection(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "payrollID")
	if !ok {
		return
	}
	if err := h.service.RequestRejection(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) requestBenefitDeletion(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "benefitID")
	if !ok {
		return
	}
	if err := h.service.RequestBenefitDeletion(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) exportReconciliation(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "payrollID")
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=payroll_%s.csv", id))
	if err := h.reconciler.Export(r.Context(), id, w); err != nil {
		h.logger.Error("export reconciliation csv", slog.Any("error", err))
	}
}

func (h *Handler) importReconciliation(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "payrollID")
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "multipart form with a file field required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "file field missing")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "cannot read upload")
		return
	}
	summary, err := h.reconciler.Import(r.Context(), id, header.Filename, content)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) reconciliationFiles(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "payrollID")
	if !ok {
		return
	}
	names, err := h.store.List(id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"files": names})
}

// gatewayCallback receives the payment gateway's settlement report. The
// payload must name the payroll, carry the raw response and the list of
// rejected bills (possibly empty but present).
func (h *Handler) gatewayCallback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PayrollID       *uuid.UUID     `json:"payroll_id"`
		Response        map[string]any `json:"response_from_gateway"`
		RejectedBillIDs *[]uuid.UUID   `json:"rejected_bills"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if body.PayrollID == nil || body.Response == nil || body.RejectedBillIDs == nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request",
			"payroll_id, response_from_gateway and rejected_bills are required")
		return
	}

	p, err := h.service.Get(r.Context(), *body.PayrollID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	strategy, ok := h.registry.Resolve(p.PaymentMethod)
	if !ok {
		httpx.Problem(w, http.StatusConflict, "Conflict",
			fmt.Sprintf("payroll %s has no strategy for method %q", p.ID, p.PaymentMethod))
		return
	}
	actor := shared.ActorFromContext(r.Context())
	if err := strategy.AcknowledgeGatewayResponse(r.Context(), p, body.Response, actor, *body.RejectedBillIDs); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"success": true})
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", param+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
