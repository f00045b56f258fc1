package billing

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/ehr/hospital-core/internal/platform/apperr"
	"github.com/ehr/hospital-core/internal/platform/auth"
	"github.com/ehr/hospital-core/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	charges := api.Group("", auth.RequireRole(auth.RoleCashier, auth.RoleDoctor, auth.RoleNurse,
		auth.RolePharmacist, auth.RoleLabTech))
	charges.POST("/charges", h.CreateCharge)
	charges.GET("/charges/:id", h.GetCharge)
	charges.POST("/charges/:id/cancel", h.CancelCharge)
	charges.GET("/encounters/:id/charges", h.ListEncounterCharges)
	charges.GET("/charge-items", h.ListCatalogItems)

	cashier := api.Group("", auth.RequireRole(auth.RoleCashier))
	cashier.POST("/invoices", h.CreateInvoice)
	cashier.GET("/invoices", h.ListInvoices)
	cashier.GET("/invoices/:id", h.GetInvoice)
	cashier.POST("/invoices/:id/attach-charges", h.AttachCharges)
	cashier.POST("/invoices/:id/void", h.VoidInvoice)

	cashier.POST("/payments", h.CreatePayment)
	cashier.GET("/payments", h.ListPayments)
	cashier.GET("/payments/:id", h.GetPayment)
	cashier.POST("/payments/:id/cancel", h.CancelPayment)
	cashier.POST("/payments/:id/refunds", h.CreateRefund)
	cashier.GET("/payments/:id/refunds", h.ListRefunds)

	portal := api.Group("/portal", auth.RequireRole(auth.RolePatient), auth.RequirePatient())
	portal.GET("/my-invoices", h.ListMyInvoices)
	portal.GET("/my-invoices/:id", h.GetMyInvoice)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

func queryID(c echo.Context, name string) (*uuid.UUID, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, apperr.Validation("invalid %s", name)
	}
	return &id, nil
}

func bindValid(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return apperr.Validation("invalid request body")
	}
	return c.Validate(v)
}

// -- Charges --

func (h *Handler) CreateCharge(c echo.Context) error {
	var in CreateChargeInput
	if err := bindValid(c, &in); err != nil {
		return err
	}
	ch, err := h.svc.CreateCharge(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ch)
}

func (h *Handler) GetCharge(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	ch, err := h.svc.GetCharge(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ch)
}

func (h *Handler) CancelCharge(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	ch, err := h.svc.CancelCharge(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ch)
}

func (h *Handler) ListEncounterCharges(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	charges, err := h.svc.ListChargesByEncounter(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": charges, "total": len(charges)})
}

func (h *Handler) ListCatalogItems(c echo.Context) error {
	activeOnly := true
	if v := c.QueryParam("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return apperr.Validation("invalid active flag")
		}
		activeOnly = b
	}
	items, err := h.svc.ListCatalogItems(c.Request().Context(), activeOnly)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

// -- Invoices --

type createInvoiceRequest struct {
	EncounterID uuid.UUID `json:"encounter_id" validate:"required"`
	Note        *string   `json:"note" validate:"omitempty,max=500"`
}

func (h *Handler) CreateInvoice(c echo.Context) error {
	var req createInvoiceRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	res, err := h.svc.CreateInvoiceForEncounter(c.Request().Context(), req.EncounterID, req.Note)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListInvoices(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := InvoiceFilter{Status: InvoiceStatus(c.QueryParam("status"))}
	var err error
	if f.PatientID, err = queryID(c, "patient_id"); err != nil {
		return err
	}
	if f.EncounterID, err = queryID(c, "encounter_id"); err != nil {
		return err
	}
	invs, total, err := h.svc.ListInvoices(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(invs, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetInvoice(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetInvoice(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) AttachCharges(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.AttachUnbilledCharges(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

type voidRequest struct {
	Reason *string `json:"reason" validate:"omitempty,max=500"`
}

func (h *Handler) VoidInvoice(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req voidRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	inv, err := h.svc.VoidInvoice(c.Request().Context(), id, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

// -- Payments --

func (h *Handler) CreatePayment(c echo.Context) error {
	var in CreatePaymentInput
	if err := bindValid(c, &in); err != nil {
		return err
	}
	res, err := h.svc.CreatePayment(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListPayments(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := PaymentFilter{Status: PaymentStatus(c.QueryParam("status"))}
	var err error
	if f.InvoiceID, err = queryID(c, "invoice_id"); err != nil {
		return err
	}
	pays, total, err := h.svc.ListPayments(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(pays, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetPayment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPayment(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CancelPayment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.CancelPayment(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required,money"`
	Reason *string         `json:"reason" validate:"omitempty,max=500"`
}

func (h *Handler) CreateRefund(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req refundRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	res, err := h.svc.CreateRefund(c.Request().Context(), id, req.Amount, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListRefunds(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	refunds, err := h.svc.ListRefunds(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": refunds, "total": len(refunds)})
}

// -- Patient portal --

func portalPatient(c echo.Context) (uuid.UUID, error) {
	pid, err := uuid.Parse(auth.PatientIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "patient account required")
	}
	return pid, nil
}

func (h *Handler) ListMyInvoices(c echo.Context) error {
	pid, err := portalPatient(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	invs, total, err := h.svc.ListInvoicesForPatient(c.Request().Context(), pid,
		InvoiceStatus(c.QueryParam("status")), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(invs, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetMyInvoice(c echo.Context) error {
	pid, err := portalPatient(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetInvoiceForPatient(c.Request().Context(), pid, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}
