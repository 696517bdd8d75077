package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewRequiresURLAndKey(t *testing.T) {
	if _, err := New(Config{APIKey: "k"}); err == nil {
		t.Fatal("expected error without URL")
	}
	if _, err := New(Config{URL: "http://x"}); err == nil {
		t.Fatal("expected error without APIKey")
	}
}

func TestGetUser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/user" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("apikey") != "anon" {
			t.Fatalf("missing apikey header")
		}
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"msg":"invalid JWT"}`))
			return
		}
		w.Write([]byte(`{"id":"user-1","email":"a@example.com","app_metadata":{"roles":["admin"]},"user_metadata":{"full_name":"Ada"}}`))
	}))
	defer server.Close()

	c, err := New(Config{URL: server.URL + "/", APIKey: "anon", HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	user, err := c.Auth().GetUser(context.Background(), "good")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if user.ID != "user-1" || user.Email != "a@example.com" || user.FullName() != "Ada" {
		t.Fatalf("unexpected user %+v", user)
	}
	if !user.HasRole("admin") || user.HasRole("auditor") {
		t.Fatalf("unexpected roles %+v", user.AppMetadata)
	}

	_, err = c.Auth().GetUser(context.Background(), "bad")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("GetUser(bad) error = %v, want ErrUnauthorized", err)
	}
}

func TestGetUserServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c, _ := New(Config{URL: server.URL, APIKey: "anon", HTTPClient: server.Client()})
	_, err := c.Auth().GetUser(context.Background(), "tok")
	if err == nil || errors.Is(err, ErrUnauthorized) {
		t.Fatalf("GetUser() error = %v, want upstream error", err)
	}
}
