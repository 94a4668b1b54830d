package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

func init() { gin.SetMode(gin.TestMode) }

func testAuth() *service.AuthService {
	return service.NewAuthService(&config.Config{JWTSecret: "test-secret"})
}

func errorCode(t *testing.T, body []byte) response.ErrCode {
	t.Helper()
	var r response.Response
	if err := json.Unmarshal(body, &r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.Error == nil {
		return ""
	}
	return r.Error.Code
}

func TestRequireJWT(t *testing.T) {
	auth := testAuth()
	student := model.Caller{UserID: "stu-a", Role: model.RoleStudent}
	valid, _ := auth.IssueToken(student, time.Hour)
	expired, _ := auth.IssueToken(student, -time.Minute)

	r := gin.New()
	r.GET("/me", RequireJWT(auth), func(c *gin.Context) {
		caller, _ := GetCaller(c)
		c.String(http.StatusOK, caller.UserID)
	})

	tests := []struct {
		name     string
		header   string
		query    string
		wantCode int
		wantErr  response.ErrCode
	}{
		{"bearer header", "Bearer " + valid, "", http.StatusOK, ""},
		{"query fallback", "", valid, http.StatusOK, ""},
		{"missing", "", "", http.StatusUnauthorized, response.ErrTokenRequired},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized, response.ErrTokenExpired},
		{"garbage", "Bearer nope", "", http.StatusUnauthorized, response.ErrTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/me"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantErr != "" {
				if got := errorCode(t, w.Body.Bytes()); got != tt.wantErr {
					t.Fatalf("code = %s, want %s", got, tt.wantErr)
				}
			} else if w.Body.String() != "stu-a" {
				t.Fatalf("body = %q", w.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	auth := testAuth()
	studentTok, _ := auth.IssueToken(model.Caller{UserID: "stu-a", Role: model.RoleStudent}, time.Hour)

	r := gin.New()
	r.GET("/alerts", RequireJWT(auth), RequireRole(model.RoleInvigilator), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/alerts", nil)
	req.Header.Set("Authorization", "Bearer "+studentTok)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden || errorCode(t, w.Body.Bytes()) != response.ErrInvigilatorOnly {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
}

func TestExamIDParam(t *testing.T) {
	r := gin.New()
	r.GET("/exams/:exam_id", ExamIDParam(), func(c *gin.Context) {
		c.String(http.StatusOK, GetExamID(c).String())
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/exams/not-a-uuid", nil))
	if w.Code != http.StatusBadRequest || errorCode(t, w.Body.Bytes()) != response.ErrInvalidID {
		t.Fatalf("bad id: status = %d", w.Code)
	}

	id := "0b6a4c1e-8f53-4d0e-9a51-8a2b2d6f1c11"
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/exams/"+id, nil))
	if w.Code != http.StatusOK || w.Body.String() != id {
		t.Fatalf("good id: status = %d body = %q", w.Code, w.Body.String())
	}
}

func TestRateLimiterRefills(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl := &RateLimiter{visitors: make(map[string]*visitor), rate: 2, interval: time.Minute, now: func() time.Time { return now }}

	if !rl.allow("user:a") || !rl.allow("user:a") {
		t.Fatal("first two requests should pass")
	}
	if rl.allow("user:a") {
		t.Fatal("third request should be limited")
	}
	if !rl.allow("user:b") {
		t.Fatal("buckets must be per caller")
	}

	now = now.Add(time.Minute)
	if !rl.allow("user:a") {
		t.Fatal("bucket did not refill")
	}
}

func TestBrotliCompressesLargeBodies(t *testing.T) {
	large := strings.Repeat("v=0 o=- 4611731400430051336 2 IN IP4 127.0.0.1\n", 100)

	r := gin.New()
	r.Use(Brotli())
	r.GET("/large", func(c *gin.Context) { c.String(http.StatusOK, large) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/large", nil)
	req.Header.Set("Accept-Encoding", "gzip, br;q=1.0")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Header().Get("Content-Encoding") != "br" {
		t.Fatalf("large body not compressed: %v", w.Header())
	}
	plain, err := io.ReadAll(brotli.NewReader(bytes.NewReader(w.Body.Bytes())))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(plain) != large {
		t.Fatal("round trip mismatch")
	}

	req = httptest.NewRequest(http.MethodGet, "/small", nil)
	req.Header.Set("Accept-Encoding", "br")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get("Content-Encoding") != "" || w.Body.String() != "ok" {
		t.Fatalf("small body altered: %q %v", w.Body.String(), w.Header())
	}
}
