package service

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/richoz-sanitaire/intervention-service/internal/automation"
	"github.com/richoz-sanitaire/intervention-service/internal/errs"
	"github.com/richoz-sanitaire/intervention-service/internal/media"
	"github.com/richoz-sanitaire/intervention-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fakePDF struct {
	url   string
	err   error
	calls int
}

func (f *fakePDF) GenerateReportPDF(_ context.Context, _ automation.ReportPDFRequest) (string, error) {
	f.calls++
	return f.url, f.err
}

type reportFixture struct {
	db         *gorm.DB
	reports    *ReportService
	invoices   *InvoiceService
	events     *recorder
	pdf        *fakePDF
	store      *media.MemoryStore
	technician *model.User
	secretary  *model.User
}

func newReportFixture(t *testing.T) *reportFixture {
	t.Helper()
	db := newTestDB(t)
	log := zaptest.NewLogger(t)
	f := &reportFixture{
		db:         db,
		events:     &recorder{},
		pdf:        &fakePDF{url: "https://files.test/report.pdf"},
		store:      media.NewMemoryStore(),
		technician: createUser(t, db, model.RoleTechnician, "marc@richoz-sanitaire.ch"),
		secretary:  createUser(t, db, model.RoleSecretary, "secretariat@richoz-sanitaire.ch"),
	}
	clock := func() time.Time { return testNow }
	f.invoices = NewInvoiceService(db, f.events, log, Options{VATRate: 7.7, OverdueDays: 30})
	f.invoices.now = clock
	f.reports = NewReportService(db, f.events, log, ReportDeps{
		Invoices: f.invoices,
		Media:    media.NewPromoter(f.store),
		PDF:      f.pdf,
	})
	f.reports.now = clock
	return f
}

func (f *reportFixture) submit(t *testing.T, it *model.Intervention, billable bool, reason string) *SubmitReportResult {
	t.Helper()
	res, err := f.reports.Submit(context.Background(), SubmitReportInput{
		InterventionID:    it.ID,
		TechnicianID:      f.technician.ID,
		TextContent:       "Remplacement du siphon, plus de fuite.",
		Photos:            []model.Photo{{URL: "https://cdn.test/before.jpg", Type: model.PhotoBefore}},
		Checklist:         []model.ChecklistItem{{Item: "Eau coupée", Done: true}},
		IsBillable:        boolPtr(billable),
		NonBillableReason: reason,
	})
	require.NoError(t, err)
	return res
}

func TestSubmit_MovesInterventionToTermine(t *testing.T) {
	f := newReportFixture(t)
	it := createIntervention(t, f.db, model.InterventionEnCours, &f.technician.ID)

	res := f.submit(t, it, true, "")

	assert.True(t, res.Created)
	assert.Equal(t, model.ReportSubmitted, res.Report.Status)
	assert.Equal(t, 1, res.Report.Revision)
	assert.Equal(t, model.InterventionTermine, res.InterventionStatus)

	stored := reloadIntervention(t, f.db, it.ID)
	assert.Equal(t, model.InterventionTermine, stored.Status)
	require.NotNil(t, stored.DateCompleted)

	assert.Eventually(t, func() bool { return len(f.events.names()) >= 2 }, time.Second, 10*time.Millisecond)
}

func TestSubmit_DraftLeavesInterventionUntouched(t *testing.T) {
	f := newReportFixture(t)
	it := createIntervention(t, f.db, model.InterventionPlanifie, &f.technician.ID)

	res, err := f.reports.Submit(context.Background(), SubmitReportInput{
		InterventionID: it.ID,
		TechnicianID:   f.technician.ID,
		Status:         "draft",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ReportDraft, res.Report.Status)
	assert.Equal(t, model.InterventionPlanifie, reloadIntervention(t, f.db, it.ID).Status)
}

func TestSubmit_UpdatesExistingReport(t *testing.T) {
	f := newReportFixture(t)
	it := createIntervention(t, f.db, model.InterventionEnCours, &f.technician.ID)

	first := f.submit(t, it, true, "")
	second, err := f.reports.Submit(context.Background(), SubmitReportInput{
		InterventionID: it.ID,
		TechnicianID:   f.technician.ID,
		TextContent:    "Siphon remplacé, joint refait.",
		IsBillable:     boolPtr(true),
		Revision:       intPtr(first.Report.Revision),
	})
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.Report.ID, second.Report.ID)
	assert.Equal(t, 2, second.Report.Revision)
	assert.Equal(t, "Siphon remplacé, joint refait.", second.Report.TextContent)

	var n int64
	require.NoError(t, f.db.Model(&model.Report{}).Where("intervention_id = ?", it.ID).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestSubmit_StaleRevisionConflicts(t *testing.T) {
	f := newReportFixture(t)
	it := createIntervention(t, f.db, model.InterventionEnCours, &f.technician.ID)
	f.submit(t, it, true, "")
	f.submit(t, it, true, "")

	_, err := f.reports.Submit(context.Background(), SubmitReportInput{
		InterventionID: it.ID,
		TechnicianID:   f.technician.ID,
		TextContent:    "Version obsolète",
		Revision:       intPtr(1),
	})
	assert.ErrorIs(t, err, errs.ErrRevisionConflict)
}

func TestSubmit_Validation(t *testing.T) {
	f := newReportFixture(t)
	it := createIntervention(t, f.db, model.InterventionEnCours, &f.technician.ID)

	tests := []struct {
		name string
		in   SubmitReportInput
	}{
		{name: "non billable without reason", in: SubmitReportInput{TextContent: "ok", IsBillable: boolPtr(false)}},
		{name: "submitted without narrative", in: SubmitReportInput{IsBillable: boolPtr(true)}},
		{name: "unknown status", in: SubmitReportInput{TextContent: "ok", Status: "validated"}},
		{name: "negative duration", in: SubmitReportInput{TextContent: "ok", WorkDurationMinutes: intPtr(-5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.InterventionID = it.ID
			tt.in.TechnicianID = f.technician.ID
			_, err := f.reports.Submit(context.Background(), tt.in)
			assert.ErrorIs(t, err, errs.ErrValidation)
		})
	}
	var n int64
	require.NoError(t, f.db.Model(&model.Report{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestSubmit_RejectsClosedIntervention(t *testing.T) {
	f := newReportFixture(t)
	it := createIntervention(t, f.db, model.InterventionNouveau, nil)

	_, err := f.reports.Submit(context.Background(), SubmitReportInput{
		InterventionID: it.ID,
		TechnicianID:   f.technician.ID,
		TextContent:    "ok",
	})
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
}

func TestSubmit_UnknownIntervention(t *testing.T) {
	f := newReportFixture(t)
	_, err := f.reports.Submit(context.Background(), SubmitReportInput{
		InterventionID: f.technician.ID,
		TechnicianID:   f.technician.ID,
		TextContent:    "ok",
	})
	assert.ErrorIs(t, err, errs.ErrInterventionNotFound)
}

func TestSubmit_PromotesInlineMedia(t *testing.T) {
	f := newReportFixture(t)
	it := createIntervention(t, f.db, model.InterventionEnCours, &f.technician.ID)
	png := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("fake-png"))

	res, err := f.reports.Submit(context.Background(), SubmitReportInput{
		InterventionID:  it.ID,
		TechnicianID:    f.technician.ID,
		TextContent:     "ok",
		Photos:          []model.Photo{{URL: png, Type: model.PhotoAfter}},
		ClientSignature: png,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.Len())
	require.Len(t, res.Report.Photos, 1)
	assert.Contains(t, res.Report.Photos[0].URL, "https://media.test/reports/"+it.ID.String()+"/")
	assert.Contains(t, res.Report.ClientSignatureURL, "https://media.test/reports/")
}

func TestSubmit_FailedUploadWritesNothing(t *testing.T) {
	f := newReportFixture(t)
	f.store.FailOn = "reports/"
	it := createIntervention(t, f.db, model.InterventionEnCours, &f.technician.ID)

	_, err := f.reports.Submit(context.Background(), SubmitReportInput{
		InterventionID: it.ID,
		TechnicianID:   f.technician.ID,
		TextContent:    "ok",
		Photos:         []model.Photo{{URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("x"))}},
	})
	require.Error(t, err)

	var n int64
	require.NoError(t, f.db.Model(&model.Report{}).Count(&n).Error)
	assert.Zero(t, n)
	assert.Equal(t, model.InterventionEnCours, reloadIntervention(t, f.db, it.ID).Status)
}

func TestValidate_BillableGoesReadyToBill(t *testing.T) {
	f := newReportFixture(t)
	it := createIntervention(t, f.db, model.InterventionEnCours, &f.technician.ID)
	sub := f.submit(t, it, true, "")

	res, err := f.reports.Validate(context.Background(), sub.Report.ID, f.secretary.ID)
	require.NoError(t, err)

	assert.False(t, res.AlreadyValidated)
	assert.Equal(t, ReasonNoLineItems, res.Reason)
	assert.Equal(t, model.InterventionReadyToBill, res.InterventionStatus)
	assert.Equal(t, model.ReportValidated, res.Report.Status)
	require.NotNil(t, res.Report.ValidatedBy)
	assert.Equal(t, f.secretary.ID, *res.Report.ValidatedBy)
	assert.Equal(t, "https://files.test/report.pdf", res.Report.PDFURL)
	assert.Equal(t, model.InterventionReadyToBill, reloadIntervention(t, f.db, it.ID).Status)
}

func TestValidate_NonBillableGoesArchived(t *testing.T) {
	f := newReportFixture(t)
	it := createIntervention(t, f.db, model.InterventionEnCours, &f.technician.ID)
	sub := f.submit(t, it, false, "Garantie fabricant")

	res, err := f.reports.ValidateAndBill(context.Background(), ValidateReportInput{
		ReportID:    sub.Report.ID,
		ValidatedBy: f.secretary.ID,
		LineItems:   []model.LineItem{line("Main d'oeuvre", "1", "100", "")},
	})
	require.NoError(t, err)
	assert.Equal(t, ReasonNonBillable, res.Reason)
	assert.Nil(t, res.Invoice)
	assert.Equal(t, model.InterventionArchived, reloadIntervention(t, f.db, it.ID).Status)
}

func TestValidate_TwiceIsNoop(t *testing.T) {
	f := newReportFixture(t)
	it := createIntervention(t, f.db, model.InterventionEnCours, &f.technician.ID)
	sub := f.submit(t, it, true, "")

	_, err := f.reports.Validate(context.Background(), sub.Report.ID, f.secretary.ID)
	require.NoError(t, err)
	again, err := f.reports.Validate(context.Background(), sub.Report.ID, f.secretary.ID)
	require.NoError(t, err)

	assert.True(t, again.AlreadyValidated)
	assert.Equal(t, model.InterventionReadyToBill, again.InterventionStatus)
	assert.Equal(t, 1, f.pdf.calls)

	var audits int64
	require.NoError(t, f.db.Model(&model.AuditLog{}).
		Where("entity_id = ? AND new_value = ?", it.ID, string(model.InterventionReadyToBill)).
		Count(&audits).Error)
	assert.EqualValues(t, 1, audits)
}

func TestValidate_PlannedInterventionPassesThroughTermine(t *testing.T) {
	f := newReportFixture(t)
	it := createIntervention(t, f.db, model.InterventionPlanifie, &f.technician.ID)
	draft, err := f.reports.Submit(context.Background(), SubmitReportInput{
		InterventionID:    it.ID,
		TechnicianID:      f.technician.ID,
		Status:            "draft",
		IsBillable:        boolPtr(false),
		NonBillableReason: "Déplacement sans intervention",
	})
	require.NoError(t, err)

	res, err := f.reports.Validate(context.Background(), draft.Report.ID, f.secretary.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InterventionArchived, res.InterventionStatus)
	assert.NotNil(t, reloadIntervention(t, f.db, it.ID).DateCompleted)
}

func TestValidate_PDFFailureDoesNotFail(t *testing.T) {
	f := newReportFixture(t)
	f.pdf.err = errors.New("platform down")
	it := createIntervention(t, f.db, model.InterventionEnCours, &f.technician.ID)
	sub := f.submit(t, it, true, "")

	res, err := f.reports.Validate(context.Background(), sub.Report.ID, f.secretary.ID)
	require.NoError(t, err)
	assert.Empty(t, res.Report.PDFURL)
	assert.Equal(t, model.ReportValidated, res.Report.Status)
}

func TestValidateAndBill_CreatesInvoice(t *testing.T) {
	f := newReportFixture(t)
	it := createIntervention(t, f.db, model.InterventionEnCours, &f.technician.ID)
	sub := f.submit(t, it, true, "")

	res, err := f.reports.ValidateAndBill(context.Background(), ValidateReportInput{
		ReportID:    sub.Report.ID,
		ValidatedBy: f.secretary.ID,
		LineItems: []model.LineItem{
			line("Main d'oeuvre", "1", "100", ""),
			line("Matériel", "1", "50", ""),
		},
		DiscountAmount: d("0"),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Invoice)
	assert.Empty(t, res.Reason)
	assert.Equal(t, "FAC-2026-0001", res.Invoice.InvoiceNumber)
	assert.Equal(t, model.InvoiceGenerated, res.Invoice.Status)
	assert.Equal(t, "Mme Dupont", res.Invoice.ClientName)
	assert.Equal(t, model.InterventionBilled, res.InterventionStatus)

	stored, err := f.invoices.GetByID(context.Background(), res.Invoice.ID)
	require.NoError(t, err)
	assert.True(t, stored.Subtotal.Equal(d("150")), "subtotal %s", stored.Subtotal)
	assert.True(t, stored.VATAmount.Equal(d("11.55")), "vat %s", stored.VATAmount)
	assert.True(t, stored.Total.Equal(d("161.55")), "total %s", stored.Total)
	assert.Equal(t, model.InterventionBilled, reloadIntervention(t, f.db, it.ID).Status)

	again, err := f.reports.ValidateAndBill(context.Background(), ValidateReportInput{
		ReportID:    sub.Report.ID,
		ValidatedBy: f.secretary.ID,
		LineItems:   []model.LineItem{line("Main d'oeuvre", "1", "100", "")},
	})
	require.NoError(t, err)
	assert.True(t, again.AlreadyValidated)
	assert.Equal(t, ReasonAlreadyBilled, again.Reason)
	assert.Nil(t, again.Invoice)
}

func TestValidateAndBill_InvalidLinesRollBack(t *testing.T) {
	f := newReportFixture(t)
	it := createIntervention(t, f.db, model.InterventionEnCours, &f.technician.ID)
	sub := f.submit(t, it, true, "")

	_, err := f.reports.ValidateAndBill(context.Background(), ValidateReportInput{
		ReportID:       sub.Report.ID,
		ValidatedBy:    f.secretary.ID,
		LineItems:      []model.LineItem{line("Main d'oeuvre", "1", "100", "")},
		DiscountAmount: d("500"),
	})
	assert.ErrorIs(t, err, errs.ErrValidation)

	report, err := f.reports.GetByID(context.Background(), sub.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReportSubmitted, report.Status)
	assert.Equal(t, model.InterventionTermine, reloadIntervention(t, f.db, it.ID).Status)
}

func TestReject_KeepsReasonsSeparate(t *testing.T) {
	f := newReportFixture(t)
	it := createIntervention(t, f.db, model.InterventionEnCours, &f.technician.ID)
	sub := f.submit(t, it, false, "Sous garantie")

	rejected, err := f.reports.Reject(context.Background(), sub.Report.ID, "Photos manquantes", &f.secretary.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReportRejected, rejected.Status)
	assert.Equal(t, "Photos manquantes", rejected.RejectionReason)
	assert.Equal(t, "Sous garantie", rejected.NonBillableReason)
	assert.Equal(t, 1, rejected.RejectionCount)
	assert.Equal(t, model.InterventionTermine, reloadIntervention(t, f.db, it.ID).Status)

	resubmitted, err := f.reports.Submit(context.Background(), SubmitReportInput{
		InterventionID:    it.ID,
		TechnicianID:      f.technician.ID,
		TextContent:       "Photos ajoutées",
		IsBillable:        boolPtr(false),
		NonBillableReason: "Sous garantie",
		Revision:          intPtr(rejected.Revision),
	})
	require.NoError(t, err)
	assert.Equal(t, model.ReportSubmitted, resubmitted.Report.Status)
	assert.Equal(t, sub.Report.ID, resubmitted.Report.ID)
	assert.Equal(t, 1, resubmitted.Report.RejectionCount)
}

func TestReject_RequiresReason(t *testing.T) {
	f := newReportFixture(t)
	it := createIntervention(t, f.db, model.InterventionEnCours, &f.technician.ID)
	sub := f.submit(t, it, true, "")

	_, err := f.reports.Reject(context.Background(), sub.Report.ID, "   ", nil)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestValidatedReportIsLocked(t *testing.T) {
	f := newReportFixture(t)
	it := createIntervention(t, f.db, model.InterventionEnCours, &f.technician.ID)
	sub := f.submit(t, it, true, "")
	_, err := f.reports.Validate(context.Background(), sub.Report.ID, f.secretary.ID)
	require.NoError(t, err)

	_, err = f.reports.Reject(context.Background(), sub.Report.ID, "trop tard", nil)
	assert.ErrorIs(t, err, errs.ErrReportLocked)

	_, err = f.reports.Submit(context.Background(), SubmitReportInput{
		InterventionID: it.ID,
		TechnicianID:   f.technician.ID,
		TextContent:    "modification",
	})
	assert.ErrorIs(t, err, errs.ErrReportLocked)

	_, err = f.reports.SaveTranscription(context.Background(), sub.Report.ID, "texte")
	assert.ErrorIs(t, err, errs.ErrReportLocked)
}

func TestSaveTranscription(t *testing.T) {
	f := newReportFixture(t)
	it := createIntervention(t, f.db, model.InterventionEnCours, &f.technician.ID)
	sub := f.submit(t, it, true, "")

	report, err := f.reports.SaveTranscription(context.Background(), sub.Report.ID, " Fuite réparée au sous-sol. ")
	require.NoError(t, err)
	assert.Equal(t, "Fuite réparée au sous-sol.", report.VocalTranscription)
	assert.Equal(t, sub.Report.Revision+1, report.Revision)

	_, err = f.reports.SaveTranscription(context.Background(), it.ID, "x")
	assert.ErrorIs(t, err, errs.ErrReportNotFound)
}

type fakeTranscriber struct {
	enabled bool
	got     []automation.TranscriptionRequest
}

func (f *fakeTranscriber) TranscriptionEnabled() bool { return f.enabled }

func (f *fakeTranscriber) RequestTranscription(_ context.Context, req automation.TranscriptionRequest) error {
	f.got = append(f.got, req)
	return nil
}

func TestRequestTranscription(t *testing.T) {
	f := newReportFixture(t)
	tr := &fakeTranscriber{enabled: true}
	f.reports.deps.Transcriber = tr
	f.reports.deps.CallbackURL = "https://svc.test/webhooks/transcribe-audio"
	it := createIntervention(t, f.db, model.InterventionEnCours, &f.technician.ID)

	err := f.reports.RequestTranscription(context.Background(), TranscriptionTrigger{
		AudioURL:       "https://media.test/a.webm",
		InterventionID: &it.ID,
	})
	require.NoError(t, err)
	require.Len(t, tr.got, 1)
	assert.Equal(t, it.ID.String(), tr.got[0].InterventionID)
	assert.Equal(t, "https://svc.test/webhooks/transcribe-audio", tr.got[0].CallbackURL)

	tr.enabled = false
	err = f.reports.RequestTranscription(context.Background(), TranscriptionTrigger{AudioURL: "https://media.test/a.webm"})
	assert.ErrorIs(t, err, errs.ErrNotConfigured)
}
