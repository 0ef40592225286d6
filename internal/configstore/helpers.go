package configstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// scanDocumentRow scans a Document from a single sql.Row.
func scanDocumentRow(row *sql.Row) (*Document, error) {
	var d Document
	var data string
	if err := row.Scan(&d.Collection, &d.Key, &data, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Data = json.RawMessage(data)
	return &d, nil
}

// collectDocuments drains rows into a Document slice, closing rows.
func collectDocuments(rows *sql.Rows) ([]Document, error) {
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var d Document
		var data string
		if err := rows.Scan(&d.Collection, &d.Key, &data, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document failed: %w", err)
		}
		d.Data = json.RawMessage(data)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate document rows: %w", err)
	}
	return out, nil
}
