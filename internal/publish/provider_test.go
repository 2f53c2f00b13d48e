package publish

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(srv *httptest.Server) *Client {
	return &Client{BaseURL: srv.URL, APIKey: "k1", HTTP: srv.Client()}
}

func TestClientListAccounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/accounts" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("external_id"); got != "ext1" {
			t.Errorf("external_id=%q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k1" {
			t.Errorf("auth=%q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"accounts": []map[string]string{
				{"platform": "instagram", "id": "acc_ig", "status": "connected"},
			},
		})
	}))
	defer srv.Close()

	accounts, err := newTestClient(srv).ListAccounts(context.Background(), "ext1")
	if err != nil {
		t.Fatalf("ListAccounts err=%v", err)
	}
	if len(accounts) != 1 || accounts[0].ID != "acc_ig" {
		t.Fatalf("accounts=%v", accounts)
	}
}

func TestClientCreatePost_SendsScheduleAndExternalID(t *testing.T) {
	var got CreatePostRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/posts" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "post_9"})
	}))
	defer srv.Close()

	when := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	id, err := newTestClient(srv).CreatePost(context.Background(), CreatePostRequest{
		AccountIDs:  []string{"acc_1"},
		Caption:     "hi",
		ScheduledAt: &when,
		ExternalID:  "cnt_1",
	})
	if err != nil {
		t.Fatalf("CreatePost err=%v", err)
	}
	if id != "post_9" {
		t.Fatalf("id=%q", id)
	}
	if got.ExternalID != "cnt_1" || got.ScheduledAt == nil || !got.ScheduledAt.Equal(when) {
		t.Fatalf("request=%+v", got)
	}
}

func TestClientCreatePost_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad caption"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).CreatePost(context.Background(), CreatePostRequest{Caption: "x"})
	if err == nil || !strings.Contains(err.Error(), "publisher_non_2xx") {
		t.Fatalf("expected publisher_non_2xx got %v", err)
	}
}

func TestClientListResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/posts/post_9/results" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]string{
				{"platform": "instagram", "status": "posted", "post_id": "ig_123"},
				{"platform": "x", "status": "failed", "error": "duplicate"},
			},
		})
	}))
	defer srv.Close()

	results, err := newTestClient(srv).ListResults(context.Background(), "post_9")
	if err != nil {
		t.Fatalf("ListResults err=%v", err)
	}
	if len(results) != 2 || results[1].Error != "duplicate" {
		t.Fatalf("results=%v", results)
	}
}

func TestClientCreateUploadTarget_RejectsEmptyTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	if _, err := newTestClient(srv).CreateUploadTarget(context.Background()); err == nil {
		t.Fatal("expected error for empty upload target")
	}
}
