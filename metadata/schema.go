package metadata

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mwantia/vstore/data"
)

// TableName is the relational table holding metadata records.
const TableName = "file_metadata"

// Dialect selects the SQL flavour of the relational stores.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// Placeholder returns the bind parameter for the 1-based position i.
func (d Dialect) Placeholder(i int) string {
	if d == DialectPostgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// Column describes one column of the metadata table.
type Column struct {
	Name     string
	SQLite   string
	Postgres string
	// Default is the SQL literal used for new columns and backfills, "" keeps NULL.
	Default string
}

func (c Column) Type(d Dialect) string {
	if d == DialectPostgres {
		return c.Postgres
	}
	return c.SQLite
}

func (c Column) selectExpr(d Dialect) string {
	if d == DialectPostgres && strings.HasPrefix(c.Postgres, "JSONB") {
		return c.Name + "::text"
	}
	return c.Name
}

var Generation1Columns = []Column{
	{Name: "id", SQLite: "TEXT PRIMARY KEY", Postgres: "TEXT PRIMARY KEY"},
	{Name: "filename", SQLite: "TEXT NOT NULL", Postgres: "TEXT NOT NULL"},
	{Name: "file_type", SQLite: "TEXT NOT NULL", Postgres: "TEXT NOT NULL"},
	{Name: "file_data", SQLite: "TEXT", Postgres: "JSONB"},
	{Name: "created_at", SQLite: "INTEGER NOT NULL", Postgres: "BIGINT NOT NULL"},
	{Name: "changed_at", SQLite: "INTEGER NOT NULL", Postgres: "BIGINT NOT NULL"},
	{Name: "file_path", SQLite: "TEXT NOT NULL", Postgres: "TEXT NOT NULL"},
	{Name: "storage_type", SQLite: "TEXT NOT NULL", Postgres: "TEXT NOT NULL"},
}

var Generation2Columns = []Column{
	{Name: "file_hash", SQLite: "TEXT", Postgres: "TEXT"},
	{Name: "file_size", SQLite: "INTEGER", Postgres: "BIGINT", Default: "0"},
	{Name: "file_changed_at", SQLite: "INTEGER", Postgres: "BIGINT"},
	{Name: "file_refs", SQLite: "TEXT", Postgres: "JSONB", Default: "'[]'"},
	{Name: "ref_count", SQLite: "INTEGER", Postgres: "INTEGER", Default: "0"},
	{Name: "status", SQLite: "TEXT", Postgres: "TEXT", Default: "'active'"},
	{Name: "scope_id", SQLite: "TEXT", Postgres: "TEXT"},
	{Name: "uploaded_by", SQLite: "TEXT", Postgres: "TEXT"},
	{Name: "storage_verified_at", SQLite: "INTEGER", Postgres: "BIGINT"},
	{Name: "deleted_at", SQLite: "INTEGER", Postgres: "BIGINT"},
	{Name: "original_filename", SQLite: "TEXT", Postgres: "TEXT"},
}

// Columns returns the columns available in gen.
func Columns(gen Generation) []Column {
	if gen >= Generation2 {
		return append(append([]Column{}, Generation1Columns...), Generation2Columns...)
	}
	return Generation1Columns
}

// DetectGeneration derives the generation from the existing column names.
func DetectGeneration(existing []string) Generation {
	present := make(map[string]bool, len(existing))
	for _, name := range existing {
		present[strings.ToLower(name)] = true
	}

	for _, col := range Generation2Columns {
		if !present[col.Name] {
			return Generation1
		}
	}
	return Generation2
}

// CreateTableStatements creates the table with the columns of gen if it does not exist.
// Stores open new tables at Generation2, existing generation 1 tables stay untouched.
func CreateTableStatements(d Dialect, gen Generation) []string {
	cols := Columns(gen)
	defs := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		def := col.Name + " " + col.Type(d)
		if col.Default != "" {
			def += " DEFAULT " + col.Default
		}
		defs = append(defs, def)
	}
	defs = append(defs, "UNIQUE (file_path, storage_type)")

	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", TableName, strings.Join(defs, ",\n\t")),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_storage_type ON %s(storage_type)", TableName, TableName),
	}
}

// IndexStatements returns the indexes over generation 2 columns.
func IndexStatements(gen Generation) []string {
	if gen < Generation2 {
		return nil
	}
	return []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_status ON %s(status)", TableName, TableName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_scope_id ON %s(scope_id)", TableName, TableName),
	}
}

// MigrationStatements returns the statements upgrading a table that has the existing columns.
// Only absent columns are added; backfills only touch NULL values.
func MigrationStatements(d Dialect, existing []string) []string {
	present := make(map[string]bool, len(existing))
	for _, name := range existing {
		present[strings.ToLower(name)] = true
	}

	statements := make([]string, 0)
	for _, col := range Generation2Columns {
		if present[col.Name] {
			continue
		}

		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", TableName, col.Name, col.Type(d))
		if col.Default != "" {
			stmt += " DEFAULT " + col.Default
		}
		statements = append(statements, stmt)
	}

	for _, col := range Generation2Columns {
		if col.Default == "" {
			continue
		}
		statements = append(statements, fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL",
			TableName, col.Name, col.Default, col.Name))
	}

	return append(statements, IndexStatements(Generation2)...)
}

// SelectSQL returns a SELECT over all columns of gen, followed by the optional clause.
func SelectSQL(d Dialect, gen Generation, clause string) string {
	cols := Columns(gen)
	exprs := make([]string, len(cols))
	for i, col := range cols {
		exprs[i] = col.selectExpr(d)
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), TableName)
	if clause != "" {
		query += " " + clause
	}
	return query
}

// InsertSQL returns an INSERT binding all columns of gen in order.
func InsertSQL(d Dialect, gen Generation) string {
	cols := Columns(gen)
	names := make([]string, len(cols))
	binds := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
		binds[i] = d.Placeholder(i + 1)
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", TableName, strings.Join(names, ", "), strings.Join(binds, ", "))
}

// UpdateSQL returns an UPDATE binding all columns except id in order, id is bound last.
func UpdateSQL(d Dialect, gen Generation) string {
	cols := Columns(gen)[1:]
	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = %s", col.Name, d.Placeholder(i+1))
	}

	return fmt.Sprintf("UPDATE %s SET %s WHERE id = %s", TableName, strings.Join(sets, ", "), d.Placeholder(len(cols)+1))
}

// EncodeRecord returns the bind values of r for all columns of gen in order.
func EncodeRecord(r *Record, gen Generation) ([]any, error) {
	values := []any{
		r.ID,
		r.Filename,
		r.FileType,
		nullString(r.FileData),
		r.CreatedAt.UnixMilli(),
		r.ChangedAt.UnixMilli(),
		r.FilePath,
		r.StorageType,
	}
	if gen < Generation2 {
		return values, nil
	}

	refs, err := EncodeRefs(r.FileRefs)
	if err != nil {
		return nil, err
	}

	return append(values,
		nullString(r.FileHash),
		r.FileSize,
		nullTime(r.FileChangedAt),
		refs,
		r.RefCount,
		string(r.Status),
		nullString(r.ScopeID),
		nullString(r.UploadedBy),
		nullTime(r.StorageVerifiedAt),
		nullTime(r.DeletedAt),
		nullString(r.OriginalFilename),
	), nil
}

// Scanner is implemented by *sql.Row, *sql.Rows and pgx rows.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanRecord reads one row selected by SelectSQL for gen.
func ScanRecord(s Scanner, gen Generation) (*Record, error) {
	var r Record
	var fileData sql.NullString
	var createdAt, changedAt int64

	dest := []any{&r.ID, &r.Filename, &r.FileType, &fileData, &createdAt, &changedAt, &r.FilePath, &r.StorageType}

	var fileHash, refs, status, scopeID, uploadedBy, originalFilename sql.NullString
	var fileSize, refCount, fileChangedAt, verifiedAt, deletedAt sql.NullInt64
	if gen >= Generation2 {
		dest = append(dest, &fileHash, &fileSize, &fileChangedAt, &refs, &refCount, &status,
			&scopeID, &uploadedBy, &verifiedAt, &deletedAt, &originalFilename)
	}

	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	r.FileData = fileData.String
	r.CreatedAt = time.UnixMilli(createdAt).UTC()
	r.ChangedAt = time.UnixMilli(changedAt).UTC()

	if gen >= Generation2 {
		parsed, err := DecodeRefs(refs.String)
		if err != nil {
			return nil, err
		}

		r.FileHash = fileHash.String
		r.FileSize = fileSize.Int64
		r.FileChangedAt = timeOf(fileChangedAt)
		r.FileRefs = parsed
		r.Status = Status(status.String)
		r.ScopeID = scopeID.String
		r.UploadedBy = uploadedBy.String
		r.StorageVerifiedAt = timeOf(verifiedAt)
		r.DeletedAt = timeOf(deletedAt)
		r.OriginalFilename = originalFilename.String
	}

	r.Normalize()
	return &r, nil
}

func nullString(val string) sql.NullString {
	if val == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: val, Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timeOf(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

// WhereSQL pushes the column filters of q down into a WHERE clause. Ref-level filters,
// custom predicates and pagination are left to ApplyQuery.
func WhereSQL(d Dialect, gen Generation, q *RecordQuery) (string, []any) {
	if q == nil {
		return "", nil
	}

	conditions := make([]string, 0)
	args := make([]any, 0)
	bind := func(v any) string {
		args = append(args, v)
		return d.Placeholder(len(args))
	}

	if q.StorageType != "" {
		conditions = append(conditions, "storage_type = "+bind(q.StorageType))
	}
	if q.FileType != "" {
		conditions = append(conditions, "file_type = "+bind(q.FileType))
	}
	if q.PathPrefix != "" {
		prefix := data.Normalize(q.PathPrefix)
		if prefix != data.Separator {
			conditions = append(conditions, fmt.Sprintf("(file_path = %s OR file_path LIKE %s ESCAPE '\\')",
				bind(prefix), bind(escapeLike(prefix)+"/%")))
		}
	}

	// Generation 1 tables lack these columns, ApplyQuery filters the zero values instead
	if gen >= Generation2 {
		if q.ScopeID != "" {
			conditions = append(conditions, "scope_id = "+bind(q.ScopeID))
		}
		if len(q.Statuses) > 0 {
			binds := make([]string, len(q.Statuses))
			for i, status := range q.Statuses {
				binds[i] = bind(string(status))
			}
			conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(binds, ", ")))
		}
		if q.MaxRefCount != nil {
			conditions = append(conditions, "ref_count <= "+bind(*q.MaxRefCount))
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
