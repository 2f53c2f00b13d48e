package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
)

var contentTestCols = []string{
	"id", "client_id", "status", "caption", "caption_short", "hashtags", "call_to_action", "content_type",
	"target_platforms", "primary_media_url", "media_urls",
	"rejection_reason", "approved_at", "approved_by", "last_submission_id", "created_at", "updated_at",
}

func contentRow(id, clientID, status, caption string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(contentTestCols).
		AddRow(id, clientID, status, caption, nil, nil, nil, "image-post",
			"{}", nil, "{}",
			nil, nil, nil, nil, now, now)
}

func contentReq(t *testing.T, method, path, body string, vars map[string]string) *http.Request {
	t.Helper()
	var rd *bytes.Buffer
	if body == "" {
		rd = bytes.NewBufferString("{}")
	} else {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	return mux.SetURLVars(req, vars)
}

func TestCreateContentItem_StartsAsDraft(t *testing.T) {
	h, mock, closeDB := newTestHandler(t)
	defer closeDB()

	mock.ExpectQuery(`INSERT INTO public\.content_items`).
		WillReturnRows(contentRow("cnt_1", "cl_1", "draft", "Hello"))

	rr := httptest.NewRecorder()
	req := contentReq(t, http.MethodPost, "/api/clients/cl_1/content",
		`{"caption":"Hello","targetPlatforms":["instagram"]}`,
		map[string]string{"clientId": "cl_1"})

	h.CreateContentItem(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if out["status"] != "draft" {
		t.Fatalf("expected draft got %#v", out["status"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestCreateContentItem_RejectsUnknownPlatform(t *testing.T) {
	h := New(nil, &stubProvider{})

	rr := httptest.NewRecorder()
	req := contentReq(t, http.MethodPost, "/api/clients/cl_1/content",
		`{"caption":"x","targetPlatforms":["myspace"]}`,
		map[string]string{"clientId": "cl_1"})

	h.CreateContentItem(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%q", rr.Code, rr.Body.String())
	}
}

func TestCreateContentItem_RejectsUnknownContentType(t *testing.T) {
	h := New(nil, &stubProvider{})

	rr := httptest.NewRecorder()
	req := contentReq(t, http.MethodPost, "/api/clients/cl_1/content",
		`{"caption":"x","contentType":"hologram"}`,
		map[string]string{"clientId": "cl_1"})

	h.CreateContentItem(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%q", rr.Code, rr.Body.String())
	}
}

func TestUpdateContentItem_NonDraftConflicts(t *testing.T) {
	h, mock, closeDB := newTestHandler(t)
	defer closeDB()

	mock.ExpectQuery(`UPDATE public\.content_items`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT status FROM public\.content_items`).
		WithArgs("cnt_1", "cl_1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("approved"))

	rr := httptest.NewRecorder()
	req := contentReq(t, http.MethodPut, "/api/clients/cl_1/content/cnt_1",
		`{"caption":"edited"}`,
		map[string]string{"clientId": "cl_1", "contentId": "cnt_1"})

	h.UpdateContentItem(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d body=%q", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestSubmitForApproval_EmptyDraftRejected(t *testing.T) {
	h, mock, closeDB := newTestHandler(t)
	defer closeDB()

	mock.ExpectQuery(`UPDATE public\.content_items`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT status, caption, primary_media_url`).
		WithArgs("cnt_1", "cl_1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "caption", "primary_media_url", "coalesce"}).
			AddRow("draft", "  ", nil, 0))

	rr := httptest.NewRecorder()
	req := contentReq(t, http.MethodPost, "/api/clients/cl_1/content/cnt_1/submit", "",
		map[string]string{"clientId": "cl_1", "contentId": "cnt_1"})

	h.SubmitForApproval(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%q", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestSubmitForApproval_Success(t *testing.T) {
	h, mock, closeDB := newTestHandler(t)
	defer closeDB()

	mock.ExpectQuery(`UPDATE public\.content_items`).
		WithArgs("cnt_1", "cl_1").
		WillReturnRows(contentRow("cnt_1", "cl_1", "pending_approval", "Hello"))

	rr := httptest.NewRecorder()
	req := contentReq(t, http.MethodPost, "/api/clients/cl_1/content/cnt_1/submit", "",
		map[string]string{"clientId": "cl_1", "contentId": "cnt_1"})

	h.SubmitForApproval(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if out["status"] != "pending_approval" {
		t.Fatalf("expected pending_approval got %#v", out["status"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestApproveContent_Success(t *testing.T) {
	h, mock, closeDB := newTestHandler(t)
	defer closeDB()

	mock.ExpectQuery(`UPDATE public\.content_items`).
		WithArgs("cnt_1", "cl_1", "reviewer@acme").
		WillReturnRows(contentRow("cnt_1", "cl_1", "approved", "Hello"))

	rr := httptest.NewRecorder()
	req := contentReq(t, http.MethodPost, "/api/clients/cl_1/content/cnt_1/approve",
		`{"approvedBy":"reviewer@acme"}`,
		map[string]string{"clientId": "cl_1", "contentId": "cnt_1"})

	h.ApproveContent(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestApproveContent_WrongStateConflicts(t *testing.T) {
	h, mock, closeDB := newTestHandler(t)
	defer closeDB()

	mock.ExpectQuery(`UPDATE public\.content_items`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT status FROM public\.content_items`).
		WithArgs("cnt_1", "cl_1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("draft"))

	rr := httptest.NewRecorder()
	req := contentReq(t, http.MethodPost, "/api/clients/cl_1/content/cnt_1/approve", "",
		map[string]string{"clientId": "cl_1", "contentId": "cnt_1"})

	h.ApproveContent(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d body=%q", rr.Code, rr.Body.String())
	}
}

func TestApproveContent_MissingRowIs404(t *testing.T) {
	h, mock, closeDB := newTestHandler(t)
	defer closeDB()

	mock.ExpectQuery(`UPDATE public\.content_items`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT status FROM public\.content_items`).
		WithArgs("cnt_x", "cl_1").
		WillReturnError(sql.ErrNoRows)

	rr := httptest.NewRecorder()
	req := contentReq(t, http.MethodPost, "/api/clients/cl_1/content/cnt_x/approve", "",
		map[string]string{"clientId": "cl_1", "contentId": "cnt_x"})

	h.ApproveContent(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d body=%q", rr.Code, rr.Body.String())
	}
}

func TestRejectContent_RequiresReason(t *testing.T) {
	h := New(nil, &stubProvider{})

	rr := httptest.NewRecorder()
	req := contentReq(t, http.MethodPost, "/api/clients/cl_1/content/cnt_1/reject",
		`{"reason":"   "}`,
		map[string]string{"clientId": "cl_1", "contentId": "cnt_1"})

	h.RejectContent(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%q", rr.Code, rr.Body.String())
	}
}

func TestRejectContent_Success(t *testing.T) {
	h, mock, closeDB := newTestHandler(t)
	defer closeDB()

	mock.ExpectQuery(`UPDATE public\.content_items`).
		WithArgs("cnt_1", "cl_1", "off brand").
		WillReturnRows(contentRow("cnt_1", "cl_1", "rejected", "Hello"))

	rr := httptest.NewRecorder()
	req := contentReq(t, http.MethodPost, "/api/clients/cl_1/content/cnt_1/reject",
		`{"reason":"off brand"}`,
		map[string]string{"clientId": "cl_1", "contentId": "cnt_1"})

	h.RejectContent(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestRevertToDraft_Success(t *testing.T) {
	h, mock, closeDB := newTestHandler(t)
	defer closeDB()

	mock.ExpectQuery(`UPDATE public\.content_items`).
		WithArgs("cnt_1", "cl_1").
		WillReturnRows(contentRow("cnt_1", "cl_1", "draft", "Hello"))

	rr := httptest.NewRecorder()
	req := contentReq(t, http.MethodPost, "/api/clients/cl_1/content/cnt_1/revert", "",
		map[string]string{"clientId": "cl_1", "contentId": "cnt_1"})

	h.RevertToDraft(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if out["status"] != "draft" {
		t.Fatalf("expected draft got %#v", out["status"])
	}
}

func TestMediaCallback_SetsPrimaryMedia(t *testing.T) {
	h, mock, closeDB := newTestHandler(t)
	defer closeDB()

	mock.ExpectExec(`UPDATE public\.content_items`).
		WithArgs("cnt_1", "cl_1", "https://cdn.example.com/a.jpg").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rr := httptest.NewRecorder()
	req := contentReq(t, http.MethodPost, "/callback/media",
		`{"contentId":"cnt_1","clientId":"cl_1","mediaUrl":"https://cdn.example.com/a.jpg"}`,
		nil)

	h.MediaCallback(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestMediaCallback_UnknownContent404(t *testing.T) {
	h, mock, closeDB := newTestHandler(t)
	defer closeDB()

	mock.ExpectExec(`UPDATE public\.content_items`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rr := httptest.NewRecorder()
	req := contentReq(t, http.MethodPost, "/callback/media",
		`{"contentId":"cnt_x","clientId":"cl_1","mediaUrl":"https://cdn.example.com/a.jpg"}`,
		nil)

	h.MediaCallback(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d body=%q", rr.Code, rr.Body.String())
	}
}
