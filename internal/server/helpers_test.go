package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/auth"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/contacts"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/database"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/geocoding"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/jobs"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "test-signing-secret"
	testCookieName    = "prospectflow_session"
	ownerUserID       = "user-ada"
	strangerUserID    = "user-grace"
)

const leadsCSV = "Nome,E-mail,Via,Città\n" +
	"Ada,ada@example.com,Via Roma 10,Torino\n" +
	"Bea,bea@example.com,Corso Francia 5,Torino\n" +
	"Carla,carla@example.com,,Atlantis\n"

type testServerOptions struct {
	maxUploadBytes   int64
	geocodingEnabled bool
}

type testServer struct {
	handler  http.Handler
	db       *gorm.DB
	contacts *contacts.Service
	runner   *jobs.Runner
	issuer   *auth.TokenIssuer
}

func newTestServer(t *testing.T, options testServerOptions) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	contactService, err := contacts.NewService(contacts.ServiceConfig{
		Database:       db,
		IDProvider:     contacts.NewUUIDProvider(),
		MaxUploadBytes: options.maxUploadBytes,
	})
	if err != nil {
		t.Fatalf("failed to construct contacts service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct user service: %v", err)
	}

	runner := jobs.NewRunner(jobs.RunnerConfig{})
	t.Cleanup(func() {
		_ = runner.Shutdown(context.Background())
	})
	geocoder := geocoding.GeocoderFunc(func(_ context.Context, address string) (*geocoding.Match, error) {
		if strings.Contains(address, "Torino") {
			return &geocoding.Match{Latitude: 45.07, Longitude: 7.68, DisplayName: address}, nil
		}
		return nil, nil
	})
	orchestrator, err := geocoding.NewOrchestrator(geocoding.OrchestratorConfig{
		Store:    contactService,
		Jobs:     runner,
		Geocoder: geocoder,
		Enabled:  options.geocodingEnabled,
	})
	if err != nil {
		t.Fatalf("failed to construct orchestrator: %v", err)
	}
	if err := runner.Register(geocoding.JobName, orchestrator.JobHandler()); err != nil {
		t.Fatalf("failed to register job: %v", err)
	}

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:       validator,
		Users:          userService,
		Contacts:       contactService,
		Geocoding:      orchestrator,
		Logger:         zap.NewNop(),
		MaxUploadBytes: options.maxUploadBytes,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return &testServer{handler: handler, db: db, contacts: contactService, runner: runner, issuer: issuer}
}

func (s *testServer) token(t *testing.T, userID, displayName string) string {
	t.Helper()
	token, _, err := s.issuer.IssueSessionToken(auth.SessionSubject{UserID: userID, DisplayName: displayName})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = http.NoBody
	}
	request := httptest.NewRequest(method, path, body)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s *testServer) doJSON(t *testing.T, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to encode payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}
	return s.do(t, method, path, token, body, "application/json")
}

func (s *testServer) upload(t *testing.T, path, token, fileName string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("failed to write field %s: %v", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return s.do(t, http.MethodPost, path, token, &body, writer.FormDataContentType())
}

// seedLeads creates a list owned by ownerUserID and imports leadsCSV into it.
func (s *testServer) seedLeads(t *testing.T, token string) string {
	t.Helper()
	created := s.doJSON(t, http.MethodPost, "/lists", token, map[string]any{"name": "Leads"})
	requireStatus(t, created, http.StatusCreated)
	var list listPayload
	decodeBody(t, created, &list)

	mappings := `[{"original_column":"Nome","type":"name"},{"original_column":"E-mail","type":"email"},` +
		`{"original_column":"Via","type":"custom","customName":"street"},{"original_column":"Città","type":"custom","customName":"city"}]`
	processed := s.upload(t, "/lists/"+list.ID+"/process", token, "leads.csv", []byte(leadsCSV), map[string]string{"mappings": mappings})
	requireStatus(t, processed, http.StatusOK)
	var result importPayload
	decodeBody(t, processed, &result)
	if result.ContactsCreated != 3 {
		t.Fatalf("expected 3 seeded contacts, got %d", result.ContactsCreated)
	}
	return list.ID
}

func (s *testServer) contactsByName(t *testing.T, listID, token string) map[string]contactPayload {
	t.Helper()
	response := s.do(t, http.MethodGet, "/lists/"+listID+"/contacts", token, nil, "")
	requireStatus(t, response, http.StatusOK)
	var page pagePayload
	decodeBody(t, response, &page)
	byName := make(map[string]contactPayload, len(page.Results))
	for _, contact := range page.Results {
		var fields map[string]any
		if err := json.Unmarshal(contact.Data, &fields); err != nil {
			t.Fatalf("failed to decode contact data: %v", err)
		}
		name, _ := fields["name"].(string)
		byName[name] = contact
	}
	return byName
}

func requireStatus(t *testing.T, recorder *httptest.ResponseRecorder, want int) {
	t.Helper()
	if recorder.Code != want {
		t.Fatalf("unexpected status: got %d, want %d (body %s)", recorder.Code, want, recorder.Body.String())
	}
}

func requireError(t *testing.T, recorder *httptest.ResponseRecorder, status int, kind, code string) {
	t.Helper()
	requireStatus(t, recorder, status)
	var body map[string]string
	decodeBody(t, recorder, &body)
	if body["error"] != kind {
		t.Fatalf("unexpected error kind: got %q, want %q", body["error"], kind)
	}
	if code != "" && body["code"] != code {
		t.Fatalf("unexpected error code: got %q, want %q", body["code"], code)
	}
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func decodeRaw(t *testing.T, raw json.RawMessage, target *map[string]any) {
	t.Helper()
	*target = nil
	if err := json.Unmarshal(raw, target); err != nil {
		t.Fatalf("failed to decode %q: %v", string(raw), err)
	}
}
