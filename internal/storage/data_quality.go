package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/sqlsentry/internal/model"
)

// InsertDataQualityIssue records a non-authoritative validator finding.
func (db *DB) InsertDataQualityIssue(ctx context.Context, issue model.DataQualityIssue) error {
	if issue.ID == uuid.Nil {
		issue.ID = uuid.New()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO platform.data_quality_issues (id, agent_id, issue_type, detail) VALUES ($1,$2,$3,$4)`,
		issue.ID, issue.AgentID, issue.IssueType, issue.Detail)
	if err != nil {
		return fmt.Errorf("storage: insert data quality issue: %w", err)
	}
	return nil
}

// ListDataQualityIssues returns findings for one agent, most recent first.
func (db *DB) ListDataQualityIssues(ctx context.Context, agentID uuid.UUID) ([]model.DataQualityIssue, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, agent_id, issue_type, detail, created_at FROM platform.data_quality_issues
		 WHERE agent_id = $1 ORDER BY created_at DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("storage: list data quality issues: %w", err)
	}
	defer rows.Close()

	var out []model.DataQualityIssue
	for rows.Next() {
		var d model.DataQualityIssue
		if err := rows.Scan(&d.ID, &d.AgentID, &d.IssueType, &d.Detail, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan data quality issue: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
