package alert

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/sqlsentry/internal/model"
)

func TestHighDrift_NoSinkConfiguredIsNoop(t *testing.T) {
	d := New("", "", 0, "", "", "", nil, slog.Default())
	err := d.HighDrift(context.Background(), "demand_agent", "INGEST-DEMAND-aaaaaaaa", 0.62)
	assert.NoError(t, err)
}

func TestHealthTransition_NoSinkConfiguredIsNoop(t *testing.T) {
	d := New("", "", 0, "", "", "", nil, slog.Default())
	err := d.HealthTransition(context.Background(), "demand_agent", model.HealthHealthy, model.HealthUnhealthy, "connection refused")
	assert.NoError(t, err)
}

func TestFanOut_SkipsEmailWhenRecipientsMissing(t *testing.T) {
	d := New("", "smtp.example.com", 587, "", "", "alerts@example.com", nil, slog.Default())
	err := d.fanOut(context.Background(), "title", "text", "log line")
	assert.NoError(t, err)
}
