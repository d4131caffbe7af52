package objectstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

func TestRemotePutAndMint(t *testing.T) {
	var uploaded []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("apikey"); got != "anon" {
			t.Errorf("apikey = %q", got)
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/storage/v1/object/notes/u1/a.pdf":
			uploaded, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"Key":"notes/u1/a.pdf"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/storage/v1/object/sign/notes/u1/a.pdf":
			var body signRequest
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.ExpiresIn != 3600 {
				t.Errorf("expiresIn = %d", body.ExpiresIn)
			}
			_, _ = w.Write([]byte(`{"signedURL":"/object/sign/notes/u1/a.pdf?token=abc"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r, err := NewRemote(srv.URL, "notes", "anon", staticToken("tok"), srv.Client())
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	ctx := context.Background()
	if err := r.Put(ctx, "u1/a.pdf", []byte("pdf"), "application/pdf"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if string(uploaded) != "pdf" {
		t.Errorf("uploaded = %q", uploaded)
	}
	ref, err := r.MintReference(ctx, "u1/a.pdf", time.Hour)
	if err != nil {
		t.Fatalf("MintReference: %v", err)
	}
	if ref != srv.URL+"/storage/v1/object/sign/notes/u1/a.pdf?token=abc" {
		t.Errorf("ref = %q", ref)
	}
}

func TestRemotePutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"new row violates row-level security policy"}`))
	}))
	defer srv.Close()

	r, _ := NewRemote(srv.URL, "notes", "", nil, srv.Client())
	err := r.Put(context.Background(), "u1/a.pdf", []byte("x"), "")
	if err == nil || !strings.Contains(err.Error(), "row-level security") {
		t.Errorf("err = %v", err)
	}
}
