package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func okNext(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestPlanEnforcer_SkipsBillingRoutes(t *testing.T) {
	pe := NewPlanEnforcer(nil)

	var called bool
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/billing/plans", nil)

	pe.Middleware(okNext(&called)).ServeHTTP(rr, req)

	if !called {
		t.Fatal("expected next handler to run")
	}
}

func TestPlanEnforcer_BlocksAccountConnectAtCap(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	pe := NewPlanEnforcer(db)

	mock.ExpectQuery(`SELECT COALESCE\(plan_tier, 'free'\)`).
		WithArgs("cl_1").
		WillReturnRows(sqlmock.NewRows([]string{"plan_tier"}).AddRow("free"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM public\.platform_accounts`).
		WithArgs("cl_1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	var called bool
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/clients/cl_1/accounts", nil)

	pe.Middleware(okNext(&called)).ServeHTTP(rr, req)

	if called {
		t.Fatal("next handler should not run at the account cap")
	}
	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 got %d body=%q", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestPlanEnforcer_BlocksScheduleAtDailyLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	pe := NewPlanEnforcer(db)

	mock.ExpectQuery(`SELECT COALESCE\(plan_tier, 'free'\)`).
		WithArgs("cl_1").
		WillReturnRows(sqlmock.NewRows([]string{"plan_tier"}).AddRow("free"))
	mock.ExpectQuery(`SELECT CASE WHEN usage_reset_date`).
		WithArgs("cl_1").
		WillReturnRows(sqlmock.NewRows([]string{"used"}).AddRow(5))

	var called bool
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/clients/cl_1/content/cnt_1/schedule", nil)

	pe.Middleware(okNext(&called)).ServeHTTP(rr, req)

	if called {
		t.Fatal("next handler should not run past the daily post limit")
	}
	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 got %d", rr.Code)
	}
}

func TestPlanEnforcer_AllowsScheduleUnderLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	pe := NewPlanEnforcer(db)

	mock.ExpectQuery(`SELECT COALESCE\(plan_tier, 'free'\)`).
		WithArgs("cl_1").
		WillReturnRows(sqlmock.NewRows([]string{"plan_tier"}).AddRow("pro"))
	mock.ExpectQuery(`SELECT CASE WHEN usage_reset_date`).
		WithArgs("cl_1").
		WillReturnRows(sqlmock.NewRows([]string{"used"}).AddRow(10))

	var called bool
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/clients/cl_1/content/cnt_1/schedule", nil)

	pe.Middleware(okNext(&called)).ServeHTTP(rr, req)

	if !called {
		t.Fatalf("expected next handler to run, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestPlanEnforcer_UnlimitedTier(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	pe := NewPlanEnforcer(db)

	mock.ExpectQuery(`SELECT COALESCE\(plan_tier, 'free'\)`).
		WithArgs("cl_1").
		WillReturnRows(sqlmock.NewRows([]string{"plan_tier"}).AddRow("agency"))
	mock.ExpectQuery(`SELECT CASE WHEN usage_reset_date`).
		WithArgs("cl_1").
		WillReturnRows(sqlmock.NewRows([]string{"used"}).AddRow(100000))

	var called bool
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/clients/cl_1/content/cnt_1/schedule", nil)

	pe.Middleware(okNext(&called)).ServeHTTP(rr, req)

	if !called {
		t.Fatal("agency tier should never be limited")
	}
}
