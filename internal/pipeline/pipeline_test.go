package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/sqlsentry/internal/drift"
	"github.com/ashita-ai/sqlsentry/internal/model"
)

func TestBuildErrorRecord_ClassifiesKnownPattern(t *testing.T) {
	rec := buildErrorRecord("q-1", `relation "widgets" does not exist`)
	assert.Equal(t, model.ErrorContextRetrieval, rec.ErrorCategory)
	assert.Equal(t, "undefined_table", rec.Subcategory)
	assert.Equal(t, "q-1", rec.QueryID)
}

func TestBuildErrorRecord_UnknownFallsThroughToUnknownCategory(t *testing.T) {
	rec := buildErrorRecord("q-2", "the agent fell over for no documented reason")
	assert.Equal(t, model.ErrorUnknown, rec.ErrorCategory)
	assert.Equal(t, "unclassified", rec.Subcategory)
}

func TestDriftQualityFrom_NoBaselineIsNil(t *testing.T) {
	q := driftQualityFrom(drift.Result{Classification: model.DriftNoBaseline})
	assert.Nil(t, q)
}

func TestDriftQualityFrom_DimensionMismatchIsNil(t *testing.T) {
	q := driftQualityFrom(drift.Result{Classification: model.DriftDimensionMismatch})
	assert.Nil(t, q)
}

func TestDriftQualityFrom_NormalComputesOneMinusScore(t *testing.T) {
	q := driftQualityFrom(drift.Result{Classification: model.DriftNormal, DriftScore: 0.2})
	if assert.NotNil(t, q) {
		assert.InDelta(t, 0.8, *q, 1e-9)
	}
}

// fakeAlerter records HighDrift invocations.
type fakeAlerter struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeAlerter) HighDrift(context.Context, string, string, float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

// TestRunErrorClassification_SkipsWhenNoErrorText confirms stage 3 is a
// no-op (no DB call attempted, so p.db may be nil) when there's nothing to
// classify.
func TestRunErrorClassification_SkipsWhenNoErrorText(t *testing.T) {
	p := &Pipeline{logger: slog.Default()}
	query := model.Query{QueryID: "q-3", Status: model.QueryStatusSuccess}
	assert.NotPanics(t, func() {
		p.runErrorClassification(context.Background(), query, "")
	})
}

func TestNew_DefaultsNilAlerterToNoop(t *testing.T) {
	p := New(nil, nil, nil, nil, slog.Default())
	assert.NotNil(t, p.alerter)
	assert.NoError(t, p.alerter.HighDrift(context.Background(), "a", "q", 1))
}

// TestDispatch_RunsDetached verifies the dispatched goroutine actually
// executes and a panic inside Run is recovered rather than crashing the
// process: p.db is nil, so persisting the error record panics.
func TestDispatch_RunsDetached(t *testing.T) {
	recovered := make(chan struct{}, 1)
	logger := slog.New(slog.NewTextHandler(writerFunc(func(b []byte) (int, error) {
		if strings.Contains(string(b), "recovered from panic") {
			select {
			case recovered <- struct{}{}:
			default:
			}
		}
		return len(b), nil
	}), nil))
	p := &Pipeline{logger: logger, alerter: noopAlerter{}}
	msg := "boom"
	Dispatch(context.Background(), p, model.Query{QueryID: "q-4", Status: model.QueryStatusError, ErrorMessage: &msg})

	select {
	case <-recovered:
	case <-time.After(time.Second):
		t.Fatal("dispatched goroutine never completed")
	}
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) { return f(b) }
