package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTenantContext(target string, header string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if header != "" {
		req.Header.Set(TenantHeader, header)
	}
	return e.NewContext(req, httptest.NewRecorder())
}

func TestExtractTenantID(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		jwt    string
		want   string
	}{
		{"default", "/", "", "", "general"},
		{"query", "/?tenant_id=west_wing", "", "", "west_wing"},
		{"header over query", "/?tenant_id=west_wing", "city_hosp", "", "city_hosp"},
		{"jwt over header", "/", "city_hosp", "county_hosp", "county_hosp"},
		{"empty jwt falls through", "/", "city_hosp", "", "city_hosp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTenantContext(tt.target, tt.header)
			c.Set("jwt_tenant_id", tt.jwt)
			if got := extractTenantID(c, "general"); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestSchemaName(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"abc", "tenant_abc", true},
		{"Hosp_01", "tenant_Hosp_01", true},
		{"a-b", "", false},
		{"a.b", "", false},
		{"a b", "", false},
		{"", "", false},
		{"drop;table", "", false},
	}
	for _, tt := range tests {
		got, err := SchemaName(tt.input)
		if (err == nil) != tt.ok {
			t.Errorf("SchemaName(%q) error = %v, want ok=%v", tt.input, err, tt.ok)
		}
		if got != tt.want {
			t.Errorf("SchemaName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCreateTenantSchema_InvalidID(t *testing.T) {
	for _, id := range []string{"tenant-with-dash", "ten ant", "x;y"} {
		if err := CreateTenantSchema(context.Background(), nil, id, nil); err == nil {
			t.Errorf("expected error for invalid tenant ID %q", id)
		}
	}
}

func TestContextAccessors_WrongTypes(t *testing.T) {
	ctx := context.Background()
	ctx = context.WithValue(ctx, DBConnKey, "not-a-conn")
	ctx = context.WithValue(ctx, DBTxKey, "not-a-tx")
	ctx = context.WithValue(ctx, TenantIDKey, 12345)

	if ConnFromContext(ctx) != nil {
		t.Error("expected nil conn")
	}
	if TxFromContext(ctx) != nil {
		t.Error("expected nil tx")
	}
	if TenantFromContext(ctx) != "" {
		t.Error("expected empty tenant")
	}
}

func TestWithTx_NoConnection(t *testing.T) {
	_, _, err := WithTx(context.Background())
	if err == nil {
		t.Fatal("expected error when no connection in context")
	}
	if err.Error() != "no database connection in context" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
}
