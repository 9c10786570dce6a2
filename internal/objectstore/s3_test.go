package objectstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestStore создаёт Store поверх httptest-сервера (path-style адресация).
func newTestStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider("AKIDTEST", "SECRETTEST", ""),
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
	})
	return newStore(client, "case-files", srv.URL, "us-east-1", true, testLogger())
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"cases/abc-1234/upper scan (1).stl", "cases/abc-1234/upper scan (1).stl"},
		{"cases/abc-1234/фото_улыбки.jpg", "cases/abc-1234/фото_улыбки.jpg"},
		{"cases/abc-1234/a?b*c%d.pdf", "cases/abc-1234/a_b_c_d.pdf"},
		{"cases/abc-1234/x@y+z#1&2!=3.png", "cases/abc-1234/x@y+z#1&2!=3.png"},
		{`cases\abc`, "cases_abc"},
	}

	for _, tt := range tests {
		if got := SanitizeKey(tt.in); got != tt.want {
			t.Errorf("SanitizeKey(%q) = %q, ожидалось %q", tt.in, got, tt.want)
		}
	}
}

func TestMintSignedURL(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("подпись ссылки не должна обращаться к хранилищу: %s %s", r.Method, r.URL)
	})

	raw, err := store.MintSignedURL(context.Background(), "cases/abc-1234/report.pdf", SignOptions{
		ContentType: "application/pdf",
		Disposition: "inline",
		TTL:         24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("MintSignedURL() ошибка: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("некорректный URL: %v", err)
	}
	if !strings.HasSuffix(u.Path, "/case-files/cases/abc-1234/report.pdf") {
		t.Errorf("path = %q", u.Path)
	}

	q := u.Query()
	if q.Get("X-Amz-Expires") != "86400" {
		t.Errorf("X-Amz-Expires = %q, ожидалось 86400", q.Get("X-Amz-Expires"))
	}
	if q.Get("response-content-type") != "application/pdf" {
		t.Errorf("response-content-type = %q", q.Get("response-content-type"))
	}
	if q.Get("response-content-disposition") != "inline" {
		t.Errorf("response-content-disposition = %q", q.Get("response-content-disposition"))
	}
	if q.Get("X-Amz-Signature") == "" {
		t.Error("отсутствует подпись")
	}
}

func TestMintSignedURL_NoOverrides(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {})

	raw, err := store.MintSignedURL(context.Background(), "cases/abc-1234/upper.stl", SignOptions{TTL: time.Hour})
	if err != nil {
		t.Fatalf("MintSignedURL() ошибка: %v", err)
	}
	if strings.Contains(raw, "response-content-disposition") {
		t.Errorf("URL не должен содержать переопределение disposition: %s", raw)
	}
}

func TestStream(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("метод = %s, ожидался GET", r.Method)
		}
		switch r.URL.Path {
		case "/case-files/cases/abc-1234/upper.stl":
			w.Header().Set("Content-Type", "model/stl")
			_, _ = w.Write([]byte("solid upper"))
		default:
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>not found</Message></Error>`))
		}
	})

	body, err := store.Stream(context.Background(), "cases/abc-1234/upper.stl")
	if err != nil {
		t.Fatalf("Stream() ошибка: %v", err)
	}
	defer body.Close()

	data, _ := io.ReadAll(body)
	if string(data) != "solid upper" {
		t.Errorf("содержимое = %q", data)
	}

	_, err = store.Stream(context.Background(), "cases/abc-1234/missing.stl")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("ожидался ErrObjectNotFound, получено %v", err)
	}
}

func TestPut(t *testing.T) {
	var gotPath, gotType, gotBody string
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.WriteHeader(http.StatusOK)
	})

	err := store.Put(context.Background(), "cases/abc-1234/lower.stl", strings.NewReader("solid lower"), 11, "model/stl")
	if err != nil {
		t.Fatalf("Put() ошибка: %v", err)
	}
	if gotPath != "/case-files/cases/abc-1234/lower.stl" {
		t.Errorf("path = %q", gotPath)
	}
	if gotType != "model/stl" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if !strings.Contains(gotBody, "solid lower") {
		t.Errorf("тело запроса = %q", gotBody)
	}
}

func TestObjectURL(t *testing.T) {
	tests := []struct {
		name  string
		store *Store
		want  string
	}{
		{
			name:  "AWS",
			store: &Store{bucket: "case-files", region: "ap-southeast-1"},
			want:  "https://case-files.s3.ap-southeast-1.amazonaws.com/cases/abc-1234/upper%20scan.stl",
		},
		{
			name:  "path-style endpoint",
			store: &Store{bucket: "case-files", endpoint: "http://minio:9000", pathStyle: true},
			want:  "http://minio:9000/case-files/cases/abc-1234/upper%20scan.stl",
		},
		{
			name:  "virtual-host endpoint",
			store: &Store{bucket: "case-files", endpoint: "https://storage.example.com"},
			want:  "https://case-files.storage.example.com/cases/abc-1234/upper%20scan.stl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.store.ObjectURL("cases/abc-1234/upper scan.stl"); got != tt.want {
				t.Errorf("ObjectURL() = %q, ожидалось %q", got, tt.want)
			}
		})
	}
}
