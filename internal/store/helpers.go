package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/MeditationVisual/internal/models"
)

const receiptColumns = `session_id, emotion, theme, status, error_kind, error, image_url, duration_ms, time`

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func receiptArgs(r models.Receipt) []interface{} {
	return []interface{}{
		r.SessionID, r.Emotion, r.Theme, string(r.Status),
		nilIfEmpty(r.ErrorKind), nilIfEmpty(r.Error), nilIfEmpty(r.ImageURL),
		r.DurationMS, r.Time,
	}
}

// scanReceipts reads every row of a receipts query.
func scanReceipts(rows *sql.Rows) ([]models.Receipt, error) {
	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		var status string
		var errorKind, errMsg, imageURL sql.NullString
		if err := rows.Scan(&r.SessionID, &r.Emotion, &r.Theme, &status, &errorKind, &errMsg, &imageURL, &r.DurationMS, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		r.Status = models.ReceiptStatus(status)
		r.ErrorKind = errorKind.String
		r.Error = errMsg.String
		r.ImageURL = imageURL.String
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}
