package encounter

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/hospital-core/internal/platform/apperr"
	"github.com/ehr/hospital-core/internal/platform/validate"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	e := echo.New()
	e.Validator = validate.New()
	return NewHandler(f.svc), f, e
}

func TestHandler_OpenEncounter(t *testing.T) {
	h, f, e := newTestHandler()

	body := `{"patient_id":"` + f.patient.String() + `","department_id":"` + f.department.String() + `","type":"OUTPATIENT"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/encounters", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.OpenEncounter(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var enc Encounter
	if err := json.Unmarshal(rec.Body.Bytes(), &enc); err != nil {
		t.Fatal(err)
	}
	if enc.Status != StatusOpen || enc.PatientID != f.patient {
		t.Errorf("unexpected encounter %+v", enc)
	}
}

func TestHandler_OpenEncounter_BadType(t *testing.T) {
	h, f, e := newTestHandler()

	body := `{"patient_id":"` + f.patient.String() + `","department_id":"` + f.department.String() + `","type":"ER"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/encounters", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	err := h.OpenEncounter(e.NewContext(req, httptest.NewRecorder()))
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestHandler_GetEncounter(t *testing.T) {
	h, f, e := newTestHandler()
	enc := f.open(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(enc.ID.String())
	if err := h.GetEncounter(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if err := h.GetEncounter(c); apperr.HTTPStatus(err) != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_CloseEncounter(t *testing.T) {
	h, f, e := newTestHandler()
	enc := f.open(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(enc.ID.String())
	if err := h.CloseEncounter(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"status":"CLOSED"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
