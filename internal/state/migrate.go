package state

// MigrationResult summarizes a JSON-to-SQLite migration.
type MigrationResult struct {
	TotalRecords    int
	InsertedRecords int
	SentRecords     int
}

// MigrateJSONToSQLite copies every record from the file backend into
// the relational backend, preserving first_seen_at, updated_at,
// last_sent_at, and the sent flag exactly. Records already present in
// the target are overwritten with the source row.
func MigrateJSONToSQLite(source *JSONStore, target *SQLiteStore) (MigrationResult, error) {
	records, err := source.ListAll()
	if err != nil {
		return MigrationResult{}, err
	}

	result := MigrationResult{TotalRecords: len(records)}
	for _, record := range records {
		existed, err := target.exists(record.EventID)
		if err != nil {
			return result, err
		}
		if err := target.restore(record); err != nil {
			return result, err
		}
		if !existed {
			result.InsertedRecords++
		}
		if record.Sent {
			result.SentRecords++
		}
	}
	return result, nil
}
