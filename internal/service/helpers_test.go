package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/richoz-sanitaire/intervention-service/internal/model"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
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
	return db
}

type recordedEvent struct {
	Name    string
	Key     string
	Payload map[string]interface{}
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) Publish(_ context.Context, event, key string, payload map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Name: event, Key: key, Payload: payload})
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Name)
	}
	return out
}

func createUser(t *testing.T, db *gorm.DB, role model.Role, email string) *model.User {
	t.Helper()
	u := &model.User{Email: email, Role: role, FirstName: "Test", IsActive: true}
	require.NoError(t, db.Create(u).Error)
	return u
}

func createRegie(t *testing.T, db *gorm.DB, name, keyword, contact string, domains ...string) *model.Regie {
	t.Helper()
	r := &model.Regie{
		Name:         name,
		Keyword:      keyword,
		EmailContact: contact,
		EmailDomains: datatypes.JSONSlice[string](append([]string{}, domains...)),
		IsActive:     true,
	}
	require.NoError(t, db.Create(r).Error)
	return r
}

func createIntervention(t *testing.T, db *gorm.DB, status model.InterventionStatus, technician *uuid.UUID) *model.Intervention {
	t.Helper()
	planned := testNow.Add(24 * time.Hour)
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
	require.NoError(t, db.Create(it).Error)
	return it
}

func reloadIntervention(t *testing.T, db *gorm.DB, id uuid.UUID) model.Intervention {
	t.Helper()
	var it model.Intervention
	require.NoError(t, db.First(&it, "id = ?", id).Error)
	return it
}

func boolPtr(b bool) *bool { return &b }

func intPtr(n int) *int { return &n }
