package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/psds-microservice/helpy/paths"
	"github.com/richoz-sanitaire/intervention-service/internal/handler"
	"github.com/richoz-sanitaire/intervention-service/internal/kafka"
	"github.com/richoz-sanitaire/intervention-service/internal/model"
	"github.com/richoz-sanitaire/intervention-service/internal/notify"
	"github.com/richoz-sanitaire/intervention-service/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	webhookSecret = "hook-secret"
	jwtSecret     = "jwt-secret"
)

type testServer struct {
	t   *testing.T
	db  *gorm.DB
	srv http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(model.All()...))

	log := zap.NewNop()
	events := kafka.NewProducer(nil, "", log)
	opts := service.Options{VATRate: 7.7, OverdueDays: 30, StaffDomains: []string{"richoz-sanitaire.ch"}}
	inbox := service.NewInboxService(db, events, notify.Nop{}, log)
	interventions := service.NewInterventionService(db, events, log, opts)
	invoices := service.NewInvoiceService(db, events, log, opts)
	reports := service.NewReportService(db, events, log, service.ReportDeps{Invoices: invoices})

	srv := New(Deps{
		DB:            db,
		Log:           log,
		WebhookSecret: webhookSecret,
		JWTSecret:     jwtSecret,
		Webhooks:      handler.NewWebhookHandler(inbox, interventions, reports, log),
		Inbox:         handler.NewInboxHandler(inbox, log),
		Interventions: handler.NewInterventionHandler(interventions, reports, log),
		Reports:       handler.NewReportHandler(reports, log),
		Invoices:      handler.NewInvoiceHandler(invoices, log),
	})
	return &testServer{t: t, db: db, srv: srv}
}

func (s *testServer) do(method, path, token string, body interface{}) (int, map[string]interface{}) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.srv.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (s *testServer) user(role model.Role, email string) *model.User {
	s.t.Helper()
	u := &model.User{Email: email, Role: role, FirstName: "Test", IsActive: true}
	require.NoError(s.t, s.db.Create(u).Error)
	return u
}

func (s *testServer) token(u *model.User) string {
	s.t.Helper()
	tok, err := handler.IssueToken(jwtSecret, u.ID, u.Role, time.Hour)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) intervention(status model.InterventionStatus, technician *uuid.UUID) *model.Intervention {
	s.t.Helper()
	planned := time.Now().Add(24 * time.Hour)
	it := &model.Intervention{
		Status:                   status,
		Title:                    "Fuite sous évier",
		Address:                  "Rue du Lac 12, 1800 Vevey",
		DatePlanned:              &planned,
		EstimatedDurationMinutes: 60,
		TechnicianID:             technician,
		ClientInfo:               datatypes.NewJSONType(model.ClientInfo{Name: "Mme Dupont"}),
		SourceType:               model.SourceManual,
	}
	require.NoError(s.t, s.db.Create(it).Error)
	return it
}

func detailFields(t *testing.T, body map[string]interface{}) map[string]string {
	t.Helper()
	raw, ok := body["details"].([]interface{})
	require.True(t, ok, "details: %v", body["details"])
	out := make(map[string]string, len(raw))
	for _, d := range raw {
		fe := d.(map[string]interface{})
		out[fe["field"].(string)] = fe["rule"].(string)
	}
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(http.MethodGet, paths.PathHealth, "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "intervention-service", body["service"])

	code, body = s.do(http.MethodGet, paths.PathReady, "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])
}

func TestWebhooks_RequireSecret(t *testing.T) {
	s := newTestServer(t)

	for _, token := range []string{"", "wrong"} {
		code, body := s.do(http.MethodPost, "/webhooks/calendar-sync", token, map[string]string{"event_id": "e1"})
		assert.Equal(t, http.StatusUnauthorized, code)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "Non autorisé", body["error"])
	}
}

func TestWebhooks_ValidationDetails(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(http.MethodPost, "/webhooks/invoice-validate", webhookSecret, map[string]string{
		"report_id": "not-a-uuid",
		"action":    "validate",
	})
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Données invalides", body["error"])
	fields := detailFields(t, body)
	assert.Equal(t, "uuid", fields["report_id"])
	assert.Equal(t, "required_if", fields["validated_by"])

	code, body = s.do(http.MethodPost, "/webhooks/calendar-sync", webhookSecret, map[string]interface{}{
		"event_id":  "evt-1",
		"action":    "created",
		"attendees": []map[string]string{{"email": "marc@richoz-sanitaire.ch"}, {"name": "Sans adresse"}, {"email": "pas-un-email"}},
	})
	require.Equal(t, http.StatusBadRequest, code)
	fields = detailFields(t, body)
	assert.Equal(t, "required", fields["title"])
	assert.Equal(t, "required_unless", fields["start_datetime"])
	assert.Equal(t, "required_unless", fields["end_datetime"])
	assert.Equal(t, "required", fields["attendees[1].email"])
	assert.Equal(t, "email", fields["attendees[2].email"])

	code, body = s.do(http.MethodPost, "/webhooks/email-ingestion", webhookSecret, map[string]string{
		"gmail_message_id": "msg-bad",
		"received_at":      "2026-03-02T08:00:00Z",
		"from_email":       "gerance-at-acme.ch",
	})
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "email", detailFields(t, body)["from_email"])
}

func TestWebhooks_EmailIngestionIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	regie := &model.Regie{
		Name:         "Acme Gérance",
		Keyword:      "ACME",
		EmailDomains: datatypes.JSONSlice[string]{"acme.ch"},
		IsActive:     true,
	}
	require.NoError(t, s.db.Create(regie).Error)

	payload := map[string]interface{}{
		"gmail_message_id": "msg-1",
		"received_at":      "2026-03-02T08:00:00Z",
		"from_email":       "gerance@acme.ch",
		"subject":          "Fuite appartement 3B",
		"body_text":        "Merci d'intervenir rapidement.",
	}
	code, first := s.do(http.MethodPost, "/webhooks/email-ingestion", webhookSecret, payload)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, first["regie_matched"])
	assert.Equal(t, regie.ID.String(), first["regie_id"])

	code, second := s.do(http.MethodPost, "/api/webhooks/email-ingestion", webhookSecret, payload)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, second["duplicate"])
	assert.Equal(t, first["email_id"], second["email_id"])
}

func TestWebhooks_CalendarCreateThenDelete(t *testing.T) {
	s := newTestServer(t)
	tech := s.user(model.RoleTechnician, "marc@richoz-sanitaire.ch")

	code, body := s.do(http.MethodPost, "/webhooks/calendar-sync", webhookSecret, map[string]interface{}{
		"event_id":       "evt-42",
		"action":         "created",
		"title":          "Détartrage boiler",
		"start_datetime": "2026-03-03T09:00:00Z",
		"end_datetime":   "2026-03-03T10:30:00Z",
		"attendees": []map[string]string{
			{"email": "client@gmail.com", "name": "Mme Dupont"},
			{"email": "Marc@Richoz-Sanitaire.ch", "name": "Marc"},
		},
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "created", body["action"])
	assert.Equal(t, true, body["technician_assigned"])
	id := body["intervention_id"].(string)

	var it model.Intervention
	require.NoError(t, s.db.First(&it, "id = ?", id).Error)
	assert.Equal(t, tech.ID, *it.TechnicianID)
	assert.Equal(t, 90, it.EstimatedDurationMinutes)

	code, body = s.do(http.MethodPost, "/webhooks/calendar-sync", webhookSecret, map[string]string{
		"event_id": "evt-42",
		"action":   "deleted",
		"title":    "Détartrage boiler",
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "cancelled", body["action"])
	assert.Equal(t, id, body["intervention_id"])
}

func TestWebhooks_ReportToInvoice(t *testing.T) {
	s := newTestServer(t)
	tech := s.user(model.RoleTechnician, "marc@richoz-sanitaire.ch")
	secretary := s.user(model.RoleSecretary, "secretariat@richoz-sanitaire.ch")
	it := s.intervention(model.InterventionEnCours, &tech.ID)

	code, body := s.do(http.MethodPost, "/api/webhooks/report-submit", webhookSecret, map[string]interface{}{
		"intervention_id": it.ID.String(),
		"technician_id":   tech.ID.String(),
		"text_content":    "Remplacement du siphon.",
		"is_billable":     true,
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "termine", body["intervention_status"])
	assert.EqualValues(t, 1, body["revision"])
	reportID := body["report_id"].(string)

	code, body = s.do(http.MethodPost, "/webhooks/invoice-validate", webhookSecret, map[string]interface{}{
		"report_id":    reportID,
		"action":       "validate",
		"validated_by": secretary.ID.String(),
		"line_items": []map[string]interface{}{
			{"description": "Main d'oeuvre", "quantity": 1, "unit_price": 100},
			{"description": "Matériel", "quantity": 1, "unit_price": 50},
		},
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "validated", body["action"])
	assert.Equal(t, true, body["invoice_created"])
	assert.Equal(t, "billed", body["intervention_status"])
	assert.True(t, strings.HasPrefix(body["invoice_number"].(string), "FAC-"))
	total, err := decimal.NewFromString(body["total"].(string))
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("161.55")), "total %s", total)

	code, body = s.do(http.MethodPost, "/webhooks/invoice-validate", webhookSecret, map[string]interface{}{
		"report_id":    reportID,
		"action":       "validate",
		"validated_by": secretary.ID.String(),
		"line_items":   []map[string]interface{}{{"description": "Main d'oeuvre", "quantity": 1, "unit_price": 100}},
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["already_validated"])
	assert.Equal(t, false, body["invoice_created"])
	assert.Equal(t, "already_billed", body["reason"])
}

func TestWebhooks_TranscriptionNotConfigured(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(http.MethodPost, "/webhooks/transcribe-audio", webhookSecret, map[string]string{
		"audio_url": "https://cdn.test/voice.webm",
	})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, false, body["success"])
}

func TestAPI_RequiresToken(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(http.MethodGet, "/api/v1/interventions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Non autorisé", body["error"])

	forged, err := handler.IssueToken("other-secret", uuid.New(), model.RoleAdmin, time.Hour)
	require.NoError(t, err)
	code, _ = s.do(http.MethodGet, "/api/v1/interventions", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAPI_RoleChecks(t *testing.T) {
	s := newTestServer(t)
	tech := s.user(model.RoleTechnician, "marc@richoz-sanitaire.ch")
	secretary := s.user(model.RoleSecretary, "secretariat@richoz-sanitaire.ch")

	code, body := s.do(http.MethodGet, "/api/v1/invoices", s.token(tech), nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Accès refusé", body["error"])

	code, _ = s.do(http.MethodGet, "/api/v1/invoices", s.token(secretary), nil)
	assert.Equal(t, http.StatusOK, code)

	it := s.intervention(model.InterventionPlanifie, &tech.ID)
	code, body = s.do(http.MethodPost, "/api/v1/interventions/"+it.ID.String()+"/report", s.token(secretary), map[string]interface{}{
		"text_content": "x",
		"is_billable":  true,
	})
	assert.Equal(t, http.StatusForbidden, code, body)
}

func TestAPI_CreateAndStartIntervention(t *testing.T) {
	s := newTestServer(t)
	tech := s.user(model.RoleTechnician, "marc@richoz-sanitaire.ch")
	secretary := s.user(model.RoleSecretary, "secretariat@richoz-sanitaire.ch")

	code, body := s.do(http.MethodPost, "/api/v1/interventions", s.token(secretary), map[string]interface{}{
		"title":         "Remplacement WC",
		"technician_id": tech.ID.String(),
		"client_name":   "M. Favre",
	})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "planifie", body["status"])
	id := body["id"].(string)

	code, body = s.do(http.MethodPost, "/api/v1/interventions/"+id+"/start", s.token(tech), nil)
	require.Equal(t, http.StatusOK, code, body)

	code, body = s.do(http.MethodGet, "/api/v1/interventions/"+id, s.token(tech), nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "en_cours", body["status"])

	code, body = s.do(http.MethodGet, "/api/v1/interventions/not-a-uuid", s.token(tech), nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "uuid", detailFields(t, body)["id"])
}
