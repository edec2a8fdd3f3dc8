package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mosaicworks/signon/internal/auth"
	"github.com/mosaicworks/signon/internal/users"
)

type stubVerifier struct {
	claims auth.GoogleClaims
	err    error
	calls  int
}

func (s *stubVerifier) Verify(context.Context, string) (auth.GoogleClaims, error) {
	s.calls++
	return s.claims, s.err
}

type stubDirectory struct {
	record      *users.UserRecord
	findErr     error
	created     users.CreatedUser
	createErr   error
	findCalls   int
	createCalls int
}

func (s *stubDirectory) FindBySubject(context.Context, string) (*users.UserRecord, error) {
	s.findCalls++
	return s.record, s.findErr
}

func (s *stubDirectory) Create(context.Context, auth.GoogleClaims) (users.CreatedUser, error) {
	s.createCalls++
	return s.created, s.createErr
}

func newTestRouter(t *testing.T, verifier *stubVerifier, directory *stubDirectory) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	handler, err := NewHTTPHandler(Dependencies{
		GoogleVerifier: verifier,
		Directory:      directory,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func postRegister(t *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/register/google", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestRegisterRejectsMissingToken(t *testing.T) {
	cases := map[string]string{
		"empty body":   "",
		"empty object": `{}`,
		"empty token":  `{"idToken": ""}`,
		"blank token":  `{"idToken": "   "}`,
		"null token":   `{"idToken": null}`,
		"malformed":    `{"idToken": `,
		"wrong type":   `{"idToken": 42}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			verifier := &stubVerifier{}
			directory := &stubDirectory{}
			router := newTestRouter(t, verifier, directory)

			recorder := postRegister(t, router, body)

			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d body=%s", recorder.Code, recorder.Body.String())
			}
			var response map[string]string
			if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if response["error"] != "Missing idToken in request body" {
				t.Fatalf("unexpected error message %q", response["error"])
			}
			if verifier.calls != 0 {
				t.Fatalf("verifier must not be invoked for missing token")
			}
			if directory.findCalls != 0 || directory.createCalls != 0 {
				t.Fatalf("directory must not be invoked for missing token")
			}
		})
	}
}

func TestRegisterReturnsCreatedUser(t *testing.T) {
	createdAt := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	verifier := &stubVerifier{claims: auth.GoogleClaims{Subject: "g-1", Email: "a@x.com"}}
	directory := &stubDirectory{
		created: users.CreatedUser{UserID: "user-123", CreatedAt: createdAt},
	}
	router := newTestRouter(t, verifier, directory)

	recorder := postRegister(t, router, `{"idToken": "valid-google-id-token"}`)

	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", recorder.Code, recorder.Body.String())
	}
	if contentType := recorder.Header().Get("Content-Type"); !strings.Contains(contentType, "application/json") {
		t.Fatalf("expected JSON content type, got %q", contentType)
	}

	var response struct {
		Message string `json:"message"`
		User    struct {
			UserID    string    `json:"userId"`
			Email     string    `json:"email"`
			CreatedAt time.Time `json:"createdAt"`
		} `json:"user"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Message != "User registered successfully" {
		t.Fatalf("unexpected message %q", response.Message)
	}
	if response.User.UserID != "user-123" {
		t.Fatalf("unexpected user id %q", response.User.UserID)
	}
	if response.User.Email != "a@x.com" {
		t.Fatalf("unexpected email %q", response.User.Email)
	}
	if !response.User.CreatedAt.Equal(createdAt) {
		t.Fatalf("unexpected createdAt %v", response.User.CreatedAt)
	}

	// The external subject is internal and never echoed back.
	if strings.Contains(recorder.Body.String(), "g-1") {
		t.Fatalf("response leaked the external subject: %s", recorder.Body.String())
	}
	if directory.createCalls != 1 {
		t.Fatalf("expected exactly one create call, got %d", directory.createCalls)
	}
}

func TestRegisterConflictWhenUserExists(t *testing.T) {
	verifier := &stubVerifier{claims: auth.GoogleClaims{Subject: "g-1", Email: "a@x.com"}}
	directory := &stubDirectory{
		record: &users.UserRecord{UserID: "existing-user-123", GoogleSub: "g-1", Email: "a@x.com"},
	}
	router := newTestRouter(t, verifier, directory)

	recorder := postRegister(t, router, `{"idToken": "valid-google-id-token"}`)

	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", recorder.Code, recorder.Body.String())
	}
	var response map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["error"] != "User already exists" {
		t.Fatalf("unexpected error message %q", response["error"])
	}
	if directory.createCalls != 0 {
		t.Fatalf("create must be skipped for an existing user")
	}
}

func TestRegisterVerifierFailureIsGenericError(t *testing.T) {
	verifier := &stubVerifier{err: errors.New("token issuer not allowed")}
	directory := &stubDirectory{}
	router := newTestRouter(t, verifier, directory)

	recorder := postRegister(t, router, `{"idToken": "token-from-https://malicious-site.com"}`)

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d body=%s", recorder.Code, recorder.Body.String())
	}
	var response map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["error"] != "Internal server error" {
		t.Fatalf("verifier detail must not leak, got %q", response["error"])
	}
	if strings.Contains(recorder.Body.String(), "issuer") {
		t.Fatalf("response leaked verifier detail: %s", recorder.Body.String())
	}
	if directory.findCalls != 0 || directory.createCalls != 0 {
		t.Fatalf("directory must not be invoked when verification fails")
	}
}

func TestRegisterLookupFailureSkipsCreate(t *testing.T) {
	verifier := &stubVerifier{claims: auth.GoogleClaims{Subject: "g-1", Email: "a@x.com"}}
	directory := &stubDirectory{findErr: errors.New("connection refused")}
	router := newTestRouter(t, verifier, directory)

	recorder := postRegister(t, router, `{"idToken": "valid-google-id-token"}`)

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d body=%s", recorder.Code, recorder.Body.String())
	}
	if strings.Contains(recorder.Body.String(), "connection refused") {
		t.Fatalf("response leaked storage detail: %s", recorder.Body.String())
	}
	if directory.createCalls != 0 {
		t.Fatalf("create must not be attempted when the lookup fails")
	}
}

func TestRegisterCreateFailureIsGenericError(t *testing.T) {
	verifier := &stubVerifier{claims: auth.GoogleClaims{Subject: "g-1", Email: "a@x.com"}}
	directory := &stubDirectory{createErr: errors.New("write throttled")}
	router := newTestRouter(t, verifier, directory)

	recorder := postRegister(t, router, `{"idToken": "valid-google-id-token"}`)

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d body=%s", recorder.Code, recorder.Body.String())
	}
	var response map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["error"] != "Internal server error" {
		t.Fatalf("storage detail must not leak, got %q", response["error"])
	}
}

func TestRegisterConcurrentDuplicateReportsConflict(t *testing.T) {
	verifier := &stubVerifier{claims: auth.GoogleClaims{Subject: "g-1", Email: "a@x.com"}}
	directory := &stubDirectory{createErr: users.ErrSubjectTaken}
	router := newTestRouter(t, verifier, directory)

	recorder := postRegister(t, router, `{"idToken": "valid-google-id-token"}`)

	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a lost create race, got %d body=%s", recorder.Code, recorder.Body.String())
	}
	var response map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["error"] != "User already exists" {
		t.Fatalf("unexpected error message %q", response["error"])
	}
}

func TestHealthzReportsOK(t *testing.T) {
	router := newTestRouter(t, &stubVerifier{}, &stubDirectory{})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	gin.SetMode(gin.TestMode)

	if _, err := NewHTTPHandler(Dependencies{Directory: &stubDirectory{}}); err == nil {
		t.Fatalf("expected error when verifier is missing")
	}
	if _, err := NewHTTPHandler(Dependencies{GoogleVerifier: &stubVerifier{}}); err == nil {
		t.Fatalf("expected error when directory is missing")
	}
}
