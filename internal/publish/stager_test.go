package publish

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStage_TwoPhaseHandshake(t *testing.T) {
	var uploaded []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/media/cat.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte{0xff, 0xd8, 0xff, 0xdb})
		case r.Method == http.MethodPut && r.URL.Path == "/upload/t1":
			uploaded, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	fp := &fakeProvider{uploadTargets: []UploadTarget{{Handle: "media_1", WriteURL: srv.URL + "/upload/t1"}}}
	s := &Stager{Provider: fp, HTTP: srv.Client()}

	handle, err := s.Stage(context.Background(), srv.URL+"/media/cat.jpg")
	if err != nil {
		t.Fatalf("Stage err=%v", err)
	}
	if handle != "media_1" {
		t.Fatalf("handle=%q", handle)
	}
	if len(uploaded) != 4 {
		t.Fatalf("uploaded %d bytes", len(uploaded))
	}
}

func TestStage_SourceFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	s := &Stager{Provider: &fakeProvider{}, HTTP: srv.Client()}
	_, err := s.Stage(context.Background(), srv.URL+"/missing.jpg")
	if !errors.Is(err, ErrMediaStaging) {
		t.Fatalf("expected ErrMediaStaging got %v", err)
	}
}

func TestStage_UploadTargetFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("bytes"))
	}))
	defer srv.Close()

	fp := &fakeProvider{uploadTargetErr: errors.New("quota exceeded")}
	s := &Stager{Provider: fp, HTTP: srv.Client()}
	_, err := s.Stage(context.Background(), srv.URL+"/a.jpg")
	if !errors.Is(err, ErrMediaStaging) {
		t.Fatalf("expected ErrMediaStaging got %v", err)
	}
}

func TestStage_WriteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("bytes"))
	}))
	defer srv.Close()

	fp := &fakeProvider{uploadTargets: []UploadTarget{{Handle: "media_1", WriteURL: srv.URL + "/upload/t1"}}}
	s := &Stager{Provider: fp, HTTP: srv.Client()}
	_, err := s.Stage(context.Background(), srv.URL+"/a.jpg")
	if !errors.Is(err, ErrMediaStaging) {
		t.Fatalf("expected ErrMediaStaging got %v", err)
	}
}

func TestStage_EmptyURL(t *testing.T) {
	s := &Stager{Provider: &fakeProvider{}}
	if _, err := s.Stage(context.Background(), "  "); !errors.Is(err, ErrMediaStaging) {
		t.Fatalf("expected ErrMediaStaging got %v", err)
	}
}
