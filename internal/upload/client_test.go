package upload

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDeliverSuccessSendsBothParts(t *testing.T) {
	var gotAuth string
	var gotImage, gotMeta []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			t.Fatal(err)
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatal(err)
			}
			data, _ := io.ReadAll(part)
			switch part.FormName() {
			case "image":
				gotImage = data
			case "metadata":
				gotMeta = data
			}
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL, AuthToken: "secret-tok", SSLVerify: true, TimeoutSec: 5})
	if err != nil {
		t.Fatal(err)
	}

	item := Item{Key: "cam1_2026-01-01.jpg", Bytes: []byte{0xFF, 0xD8}, Metadata: []byte(`{"camera_id":"cam1"}`)}
	if err := c.Deliver(context.Background(), item); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if gotAuth != "Bearer secret-tok" {
		t.Errorf("Authorization header = %q, want Bearer secret-tok", gotAuth)
	}
	if string(gotImage) != "\xFF\xD8" {
		t.Errorf("image part = %v, want FF D8", gotImage)
	}
	if string(gotMeta) != `{"camera_id":"cam1"}` {
		t.Errorf("metadata part = %s", gotMeta)
	}
}

func TestDeliverNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL, SSLVerify: true, TimeoutSec: 5})
	if err != nil {
		t.Fatal(err)
	}
	err = c.Deliver(context.Background(), Item{Key: "k.jpg", Bytes: []byte("x"), Metadata: []byte("{}")})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error %q does not mention status code", err.Error())
	}
}

func TestDeliverTransportErrorIsReported(t *testing.T) {
	c, err := New(Config{URL: "http://127.0.0.1:0", SSLVerify: true, TimeoutSec: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Deliver(context.Background(), Item{Key: "k.jpg", Bytes: []byte("x"), Metadata: []byte("{}")}); err == nil {
		t.Fatal("expected transport error for unreachable endpoint")
	}
}

func TestReconfigureSwapsEndpoint(t *testing.T) {
	c, err := New(Config{URL: "https://old.example", AuthToken: "a", SSLVerify: true, TimeoutSec: 5})
	if err != nil {
		t.Fatal(err)
	}
	c.Reconfigure(Config{URL: "https://new.example", AuthToken: "b"})
	if c.cfg.URL != "https://new.example" || c.cfg.AuthToken != "b" {
		t.Errorf("Reconfigure did not apply: %+v", c.cfg)
	}
}
