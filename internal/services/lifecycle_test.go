package services_test

import (
	"context"
	"math/rand"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/saferoam/incident-server/internal/chain"
	"github.com/saferoam/incident-server/internal/models"
	"github.com/saferoam/incident-server/internal/services"
	"github.com/saferoam/incident-server/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var txPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

func newTestLifecycle(t *testing.T, opts services.Options) (*services.Lifecycle, store.Store) {
	t.Helper()
	st, err := store.NewLocal(filepath.Join(t.TempDir(), "incidents.json"), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(1))
	}
	return services.NewLifecycle(st, zaptest.NewLogger(t).Sugar(), opts), st
}

func medicalDraft() *models.IncidentDraft {
	return &models.IncidentDraft{
		Type:     models.TypeMedical,
		Severity: 9,
		Location: models.IncidentLocation{Lat: 40.7128, Lng: -74.0060},
		Notes:    "Tourist collapsed near fountain",
	}
}

func TestCreateInitialState(t *testing.T) {
	lc, _ := newTestLifecycle(t, services.Options{})

	inc, err := lc.Create(context.Background(), medicalDraft(), nil)
	require.NoError(t, err)

	assert.NotEmpty(t, inc.ID)
	assert.Equal(t, models.StatusPending, inc.Status)
	assert.Equal(t, models.AnchorNone, inc.AnchorStatus)
	assert.Equal(t, models.VerifyPending, inc.VerificationStatus)
	assert.False(t, inc.ReportedAt.IsZero())
	require.Len(t, inc.AuditLog, 1)
	assert.Equal(t, "Incident Reported", inc.AuditLog[0].Action)
}

func TestCreateValidation(t *testing.T) {
	lc, st := newTestLifecycle(t, services.Options{})
	ctx := context.Background()

	before, err := st.List(ctx)
	require.NoError(t, err)

	cases := []struct {
		name  string
		draft *models.IncidentDraft
	}{
		{"unknown type", &models.IncidentDraft{Type: "earthquake", Severity: 5, Location: models.IncidentLocation{Lat: 1, Lng: 1}}},
		{"severity too low", &models.IncidentDraft{Type: models.TypeTheft, Severity: 0, Location: models.IncidentLocation{Lat: 1, Lng: 1}}},
		{"severity too high", &models.IncidentDraft{Type: models.TypeTheft, Severity: 11, Location: models.IncidentLocation{Lat: 1, Lng: 1}}},
		{"missing location", &models.IncidentDraft{Type: models.TypeTheft, Severity: 5}},
		{"latitude out of range", &models.IncidentDraft{Type: models.TypeTheft, Severity: 5, Location: models.IncidentLocation{Lat: 91, Lng: 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := lc.Create(ctx, tc.draft, nil)
			var vErr *services.ValidationError
			require.ErrorAs(t, err, &vErr)
		})
	}

	after, err := st.List(ctx)
	require.NoError(t, err)
	assert.Len(t, after, len(before), "rejected creates persist nothing")
}

func TestAcknowledge(t *testing.T) {
	lc, _ := newTestLifecycle(t, services.Options{})
	ctx := context.Background()

	inc, err := lc.Create(ctx, medicalDraft(), nil)
	require.NoError(t, err)

	acked, err := lc.Acknowledge(ctx, inc.ID, "Operations Team")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAcknowledged, acked.Status)
	require.NotNil(t, acked.AcknowledgedAt)
	require.Len(t, acked.AuditLog, 2)
	assert.Equal(t, "Incident Acknowledged", acked.AuditLog[1].Action)

	// Acknowledging again is rejected and leaves state untouched.
	_, err = lc.Acknowledge(ctx, inc.ID, "Operations Team")
	var vErr *services.ValidationError
	require.ErrorAs(t, err, &vErr)

	got, err := lc.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAcknowledged, got.Status)
	assert.Len(t, got.AuditLog, 2, "failed call appends zero audit entries")
}

func TestStatusMachineIsForwardOnly(t *testing.T) {
	lc, _ := newTestLifecycle(t, services.Options{})
	ctx := context.Background()

	// Resolve straight from pending is allowed.
	inc, err := lc.Create(ctx, medicalDraft(), nil)
	require.NoError(t, err)
	resolved, err := lc.Resolve(ctx, inc.ID, "op")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	var vErr *services.ValidationError
	_, err = lc.Resolve(ctx, inc.ID, "op")
	require.ErrorAs(t, err, &vErr)
	_, err = lc.Acknowledge(ctx, inc.ID, "op")
	require.ErrorAs(t, err, &vErr)

	// And the full path pending -> acknowledged -> resolved.
	inc2, err := lc.Create(ctx, medicalDraft(), nil)
	require.NoError(t, err)
	_, err = lc.Acknowledge(ctx, inc2.ID, "op")
	require.NoError(t, err)
	final, err := lc.Resolve(ctx, inc2.ID, "op")
	require.NoError(t, err)
	assert.Len(t, final.AuditLog, 3)
}

func TestBeginAnchor(t *testing.T) {
	lc, _ := newTestLifecycle(t, services.Options{})
	ctx := context.Background()

	files, hashErrs := services.BuildEvidenceFiles([]services.Upload{
		{Name: "photo.jpg", Type: "image/jpeg", Data: []byte("jpeg bytes")},
	})
	require.Empty(t, hashErrs)
	require.Equal(t, chain.HashFile([]byte("jpeg bytes")), files[0].Hash)

	inc, err := lc.Create(ctx, medicalDraft(), files)
	require.NoError(t, err)

	anchored, explorer, err := lc.BeginAnchor(ctx, inc.ID, "op")
	require.NoError(t, err)
	assert.Equal(t, models.AnchorDone, anchored.AnchorStatus)
	assert.Regexp(t, txPattern, anchored.ChainTxID)
	assert.Equal(t, chain.HashEvidenceBundle(anchored), anchored.ChainHash)
	assert.Contains(t, explorer, anchored.ChainTxID)

	require.Len(t, anchored.AuditLog, 2)
	assert.Equal(t, "Evidence Anchored", anchored.AuditLog[1].Action)
	assert.Contains(t, anchored.AuditLog[1].Details, anchored.ChainTxID)

	// Anchored is terminal.
	_, _, err = lc.BeginAnchor(ctx, inc.ID, "op")
	var vErr *services.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestBeginAnchorConcurrentIncidents(t *testing.T) {
	lc, _ := newTestLifecycle(t, services.Options{AnchorDelay: 50 * time.Millisecond})
	ctx := context.Background()

	// Two operators anchoring different incidents at the same time draw
	// transaction ids from the same service; run under -race.
	const n = 4
	ids := make([]string, n)
	for i := range ids {
		inc, err := lc.Create(ctx, medicalDraft(), nil)
		require.NoError(t, err)
		ids[i] = inc.ID
	}

	var wg sync.WaitGroup
	results := make([]*models.Incident, n)
	errs := make([]error, n)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i], _, errs[i] = lc.BeginAnchor(ctx, id, "op")
		}(i, id)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, models.AnchorDone, results[i].AnchorStatus)
		assert.Regexp(t, txPattern, results[i].ChainTxID)
	}
}

func TestBeginAnchorPersistsIntermediateState(t *testing.T) {
	lc, st := newTestLifecycle(t, services.Options{AnchorDelay: 300 * time.Millisecond})
	ctx := context.Background()

	inc, err := lc.Create(ctx, medicalDraft(), nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, err := lc.BeginAnchor(ctx, inc.ID, "op")
		assert.NoError(t, err)
	}()

	// During the simulated latency a concurrent reader must see "anchoring".
	require.Eventually(t, func() bool {
		got, err := st.Get(ctx, inc.ID)
		return err == nil && got.AnchorStatus == models.AnchorInProgress
	}, 250*time.Millisecond, 10*time.Millisecond)

	<-done
	got, err := st.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AnchorDone, got.AnchorStatus)
}

func TestVerifyIntegrityUnchanged(t *testing.T) {
	lc, _ := newTestLifecycle(t, services.Options{VerifyFailRate: 0})
	ctx := context.Background()

	inc, err := lc.Create(ctx, medicalDraft(), nil)
	require.NoError(t, err)
	_, _, err = lc.BeginAnchor(ctx, inc.ID, "op")
	require.NoError(t, err)

	verified, err := lc.VerifyIntegrity(ctx, inc.ID, "op")
	require.NoError(t, err)
	assert.Equal(t, models.VerifyVerified, verified.VerificationStatus)
	require.NotNil(t, verified.VerificationAt)

	last := verified.AuditLog[len(verified.AuditLog)-1]
	assert.Equal(t, "Integrity Verified", last.Action)
	assert.Contains(t, last.Details, "No tampering detected")
}

func TestVerifyIntegrityDetectsTamper(t *testing.T) {
	lc, st := newTestLifecycle(t, services.Options{VerifyFailRate: 0})
	ctx := context.Background()

	inc, err := lc.Create(ctx, medicalDraft(), nil)
	require.NoError(t, err)
	_, _, err = lc.BeginAnchor(ctx, inc.ID, "op")
	require.NoError(t, err)

	// Tamper with the notes after anchoring.
	tampered, err := st.Get(ctx, inc.ID)
	require.NoError(t, err)
	tampered.Notes = "rewritten history"
	require.NoError(t, st.Save(ctx, tampered))

	checked, err := lc.VerifyIntegrity(ctx, inc.ID, "op")
	require.NoError(t, err)
	assert.Equal(t, models.VerifyCompromised, checked.VerificationStatus)

	last := checked.AuditLog[len(checked.AuditLog)-1]
	assert.Equal(t, "Integrity Check Failed", last.Action)
	assert.Contains(t, last.Details, "Hash mismatch")
}

func TestVerifyIntegrityInjectedFailure(t *testing.T) {
	lc, _ := newTestLifecycle(t, services.Options{VerifyFailRate: 1})
	ctx := context.Background()

	inc, err := lc.Create(ctx, medicalDraft(), nil)
	require.NoError(t, err)
	_, _, err = lc.BeginAnchor(ctx, inc.ID, "op")
	require.NoError(t, err)

	checked, err := lc.VerifyIntegrity(ctx, inc.ID, "op")
	require.NoError(t, err)
	assert.Equal(t, models.VerifyCompromised, checked.VerificationStatus, "failure injection reports a mismatch even on matching hashes")
}

func TestVerifyIntegrityPreconditions(t *testing.T) {
	lc, _ := newTestLifecycle(t, services.Options{VerifyFailRate: 0})
	ctx := context.Background()

	inc, err := lc.Create(ctx, medicalDraft(), nil)
	require.NoError(t, err)

	var vErr *services.ValidationError
	_, err = lc.VerifyIntegrity(ctx, inc.ID, "op")
	require.ErrorAs(t, err, &vErr, "verification requires an anchored hash")

	_, _, err = lc.BeginAnchor(ctx, inc.ID, "op")
	require.NoError(t, err)
	_, err = lc.VerifyIntegrity(ctx, inc.ID, "op")
	require.NoError(t, err)

	// Both outcomes are terminal.
	_, err = lc.VerifyIntegrity(ctx, inc.ID, "op")
	require.ErrorAs(t, err, &vErr)
}

func TestAppendAuditNotFound(t *testing.T) {
	lc, _ := newTestLifecycle(t, services.Options{})

	_, err := lc.AppendAudit(context.Background(), "missing", "Note Added", "op", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEmergencyCall(t *testing.T) {
	lc, _ := newTestLifecycle(t, services.Options{})
	ctx := context.Background()

	inc, err := lc.Create(ctx, medicalDraft(), nil)
	require.NoError(t, err)

	updated, contact, err := lc.EmergencyCall(ctx, inc.ID, "police", "op")
	require.NoError(t, err)
	assert.Equal(t, "NYPD Emergency", contact.Name)

	last := updated.AuditLog[len(updated.AuditLog)-1]
	assert.Equal(t, "Emergency Call - POLICE", last.Action)
	assert.True(t, strings.Contains(last.Details, "MOCK"))

	_, _, err = lc.EmergencyCall(ctx, inc.ID, "coastguard", "op")
	var vErr *services.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestStats(t *testing.T) {
	lc, _ := newTestLifecycle(t, services.Options{})
	ctx := context.Background()

	inc, err := lc.Create(ctx, medicalDraft(), nil)
	require.NoError(t, err)
	_, err = lc.Acknowledge(ctx, inc.ID, "op")
	require.NoError(t, err)

	stats, err := lc.Stats(ctx)
	require.NoError(t, err)

	// The seeded demo pair plus the one created here.
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByStatus["acknowledged"])
	assert.Equal(t, 1, stats.ByStatus["pending"])
	assert.Equal(t, 1, stats.Anchored)
	assert.Equal(t, 3, stats.ByBucket["critical"]+stats.ByBucket["high"])
	require.NotNil(t, stats.LastReport)
}
