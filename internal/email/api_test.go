package email

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

func TestAPISender_SendsPostmarkRequest(t *testing.T) {
	var got apiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/email" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Postmark-Server-Token") != "secret" {
			t.Errorf("missing token header")
		}
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, &got); err != nil {
			t.Errorf("bad body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewAPISender(APIConfig{BaseURL: srv.URL + "/", Token: "secret", From: "news@example.com", Timeout: time.Second})
	if err := s.Send(context.Background(), "to@example.com", "Hi", "<p>hi</p>", "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	want := apiRequest{From: "news@example.com", To: "to@example.com", Subject: "Hi", HTMLBody: "<p>hi</p>", TextBody: "hi"}
	if got != want {
		t.Fatalf("request body = %+v, want %+v", got, want)
	}
}

func TestAPISender_ClassifiesStatus(t *testing.T) {
	cases := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnprocessableEntity, true},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"ErrorCode":300,"Message":"nope"}`))
			}))
			defer srv.Close()

			s := NewAPISender(APIConfig{BaseURL: srv.URL, Token: "t", From: "f@example.com"})
			err := s.Send(context.Background(), "to@example.com", "s", "h", "t")
			if err == nil {
				t.Fatalf("expected error for %d", tc.status)
			}
			if IsPermanent(err) != tc.permanent {
				t.Fatalf("status %d: IsPermanent=%v want %v", tc.status, IsPermanent(err), tc.permanent)
			}
			if !strings.Contains(err.Error(), "nope") {
				t.Fatalf("error should carry response body: %v", err)
			}
		})
	}
}

func TestAPISender_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	s := NewAPISender(APIConfig{BaseURL: url, Token: "t", From: "f@example.com", Timeout: time.Second})
	err := s.Send(context.Background(), "to@example.com", "s", "h", "t")
	if err == nil || IsPermanent(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
