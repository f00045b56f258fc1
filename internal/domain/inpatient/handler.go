package inpatient

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	ward := api.Group("", auth.RequireRole(auth.RoleNurse, auth.RoleDoctor))
	ward.GET("/admissions", h.ListAdmissions)
	ward.GET("/admissions/:id", h.GetAdmission)
	ward.GET("/inpatients", h.ListCurrentInpatients)
	ward.POST("/admissions/:id/discharge", h.Discharge)
	ward.GET("/wards/:id/beds", h.WardOccupancy)

	nurse := api.Group("", auth.RequireRole(auth.RoleNurse))
	nurse.POST("/admissions", h.Admit)
	nurse.POST("/admissions/:id/transfer", h.TransferBed)
	nurse.GET("/beds/occupancy", h.BedOccupancy)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

func (h *Handler) Admit(c echo.Context) error {
	var in AdmitInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := c.Validate(&in); err != nil {
		return err
	}
	res, err := h.svc.Admit(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

type transferRequest struct {
	NewBedID uuid.UUID `json:"new_bed_id" validate:"required"`
	Reason   *string   `json:"reason" validate:"omitempty,max=500"`
}

func (h *Handler) TransferBed(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	res, err := h.svc.TransferBed(c.Request().Context(), id, req.NewBedID, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

type dischargeRequest struct {
	Summary *string `json:"discharge_summary" validate:"omitempty,max=4000"`
}

func (h *Handler) Discharge(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req dischargeRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	res, err := h.svc.Discharge(c.Request().Context(), id, req.Summary)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetAdmission(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetAdmission(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListAdmissions(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := AdmissionFilter{Status: AdmissionStatus(c.QueryParam("status"))}
	if v := c.QueryParam("patient_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return apperr.Validation("invalid patient_id")
		}
		f.PatientID = &pid
	}
	list, total, err := h.svc.ListAdmissions(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(list, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListCurrentInpatients(c echo.Context) error {
	var wardID *uuid.UUID
	if v := c.QueryParam("ward_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.Validation("invalid ward_id")
		}
		wardID = &id
	}
	list, err := h.svc.ListCurrentInpatients(c.Request().Context(), wardID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": list, "total": len(list)})
}

func (h *Handler) WardOccupancy(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	beds, err := h.svc.WardOccupancy(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": beds, "total": len(beds)})
}

func (h *Handler) BedOccupancy(c echo.Context) error {
	beds, err := h.svc.BedOccupancy(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": beds, "total": len(beds)})
}
