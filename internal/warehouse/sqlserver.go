package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/BartekS5/optistock/pkg/logger"
	"github.com/BartekS5/optistock/pkg/utils"
)

// SQL Server caps a statement at 2100 parameters and a VALUES list at 1000 rows.
const (
	maxParams       = 2000
	maxRowsPerValue = 1000
)

// SQLServer implements Warehouse on SQL Server. The table id maps to
// database.schema.table, so "dataset" is a schema here.
type SQLServer struct {
	DB *sql.DB
}

func NewSQLServer(db *sql.DB) *SQLServer {
	return &SQLServer{DB: db}
}

func quoteIdent(s string) string {
	return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
}

func qualified(id TableID) string {
	return quoteIdent(id.Project) + "." + quoteIdent(id.Dataset) + "." + quoteIdent(id.Table)
}

func (s *SQLServer) Table(ctx context.Context, id TableID) (*TableInfo, error) {
	query := fmt.Sprintf(`SELECT COLUMN_NAME, DATA_TYPE FROM %s.INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2 ORDER BY ORDINAL_POSITION`, quoteIdent(id.Project))
	rows, err := s.DB.QueryContext(ctx, query, id.Dataset, id.Table)
	if err != nil {
		return nil, fmt.Errorf("get table %s: %w", id, err)
	}
	defer rows.Close()

	info := &TableInfo{ID: id}
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, fmt.Errorf("scan columns of %s: %w", id, err)
		}
		info.Schema = append(info.Schema, Field{Name: name, Type: fromSQLServerType(dataType)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", id, err)
	}
	if len(info.Schema) == 0 {
		return nil, ErrNotFound
	}

	countQuery := fmt.Sprintf("SELECT COUNT_BIG(*) FROM %s", qualified(id))
	var count int64
	if err := s.DB.QueryRowContext(ctx, countQuery).Scan(&count); err != nil {
		return nil, fmt.Errorf("count rows of %s: %w", id, err)
	}
	info.NumRows = uint64(count)

	metaQuery := fmt.Sprintf(`SELECT t.create_date, t.modify_date,
			COALESCE((SELECT SUM(ps.used_page_count) * 8192 FROM %[1]s.sys.dm_db_partition_stats ps WHERE ps.object_id = t.object_id), 0)
		FROM %[1]s.sys.tables t JOIN %[1]s.sys.schemas sc ON t.schema_id = sc.schema_id
		WHERE sc.name = @p1 AND t.name = @p2`, quoteIdent(id.Project))
	var created, modified time.Time
	var size int64
	err = s.DB.QueryRowContext(ctx, metaQuery, id.Dataset, id.Table).Scan(&created, &modified, &size)
	if err != nil && err != sql.ErrNoRows {
		logger.Warnf("Could not read metadata of %s: %v", id, err)
	}
	info.Created, info.Modified, info.NumBytes = created, modified, size
	return info, nil
}

func (s *SQLServer) EnsureDataset(ctx context.Context, project, dataset string) error {
	query := fmt.Sprintf(`IF NOT EXISTS (SELECT 1 FROM %[1]s.sys.schemas WHERE name = @p1)
BEGIN
	DECLARE @stmt nvarchar(400) = N'CREATE SCHEMA ' + QUOTENAME(@p1);
	EXEC %[1]s.sys.sp_executesql @stmt;
END`, quoteIdent(project))
	if _, err := s.DB.ExecContext(ctx, query, dataset); err != nil {
		return fmt.Errorf("create schema %s.%s: %w", project, dataset, err)
	}
	return nil
}

func (s *SQLServer) CreateTable(ctx context.Context, id TableID, schema Schema) error {
	cols := make([]string, len(schema))
	for i, f := range schema {
		cols[i] = quoteIdent(f.Name) + " " + toSQLServerType(f.Type) + " NULL"
	}
	query := fmt.Sprintf("CREATE TABLE %s (%s)", qualified(id), strings.Join(cols, ", "))
	if _, err := s.DB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", id, err)
	}
	logger.Infof("Created table %s", id)
	return nil
}

// Load runs in one transaction, so TruncateAndReplace is an atomic swap for readers
// using the default READ COMMITTED isolation.
func (s *SQLServer) Load(ctx context.Context, id TableID, schema Schema, rows [][]string, mode WriteMode) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin load of %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	switch mode {
	case TruncateAndReplace:
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+qualified(id)); err != nil {
			return 0, fmt.Errorf("clear %s: %w", id, err)
		}
	case OnlyIfEmpty:
		var count int64
		q := fmt.Sprintf("SELECT COUNT_BIG(*) FROM %s WITH (TABLOCKX, HOLDLOCK)", qualified(id))
		if err := tx.QueryRowContext(ctx, q).Scan(&count); err != nil {
			return 0, fmt.Errorf("count rows of %s: %w", id, err)
		}
		if count > 0 {
			return 0, ErrTableNotEmpty
		}
	}

	perStmt := maxParams / len(schema)
	if perStmt > maxRowsPerValue {
		perStmt = maxRowsPerValue
	}
	if perStmt < 1 {
		return 0, fmt.Errorf("table %s has too many columns (%d) for a parameterized insert", id, len(schema))
	}

	var loaded int64
	for start := 0; start < len(rows); start += perStmt {
		end := start + perStmt
		if end > len(rows) {
			end = len(rows)
		}
		query, args, err := insertStatement(id, schema, rows[start:end])
		if err != nil {
			return 0, err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		loaded += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit load of %s: %w", id, err)
	}
	return loaded, nil
}

func insertStatement(id TableID, schema Schema, rows [][]string) (string, []interface{}, error) {
	cols := make([]string, len(schema))
	for i, f := range schema {
		cols[i] = quoteIdent(f.Name)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", qualified(id), strings.Join(cols, ", "))

	args := make([]interface{}, 0, len(rows)*len(schema))
	for r, row := range rows {
		if len(row) != len(schema) {
			return "", nil, fmt.Errorf("row %d has %d values, table %s has %d columns", r+1, len(row), id, len(schema))
		}
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for c, cell := range row {
			val, err := utils.ConvertCell(cell, schema[c].Type.ValueKind())
			if err != nil {
				return "", nil, fmt.Errorf("row %d column %s: %w", r+1, schema[c].Name, err)
			}
			args = append(args, val)
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "@p%d", len(args))
		}
		sb.WriteString(")")
	}
	return sb.String(), args, nil
}

func (s *SQLServer) ListTables(ctx context.Context, dataset string) ([]string, error) {
	db := ""
	if i := strings.LastIndex(dataset, "."); i >= 0 {
		db, dataset = dataset[:i], dataset[i+1:]
	}
	prefix := ""
	if db != "" {
		prefix = quoteIdent(db) + "."
	}
	query := fmt.Sprintf(`SELECT TABLE_NAME FROM %sINFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = @p1 AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME`, prefix)
	rows, err := s.DB.QueryContext(ctx, query, dataset)
	if err != nil {
		return nil, fmt.Errorf("list tables in %s: %w", dataset, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLServer) Close() error {
	return s.DB.Close()
}

func toSQLServerType(t FieldType) string {
	switch t {
	case Integer:
		return "BIGINT"
	case Float:
		return "FLOAT"
	case Boolean:
		return "BIT"
	case Date:
		return "DATE"
	case Timestamp:
		return "DATETIME2"
	default:
		return "NVARCHAR(MAX)"
	}
}

func fromSQLServerType(dataType string) FieldType {
	switch strings.ToLower(dataType) {
	case "bigint", "int", "smallint", "tinyint":
		return Integer
	case "float", "real", "decimal", "numeric", "money", "smallmoney":
		return Float
	case "bit":
		return Boolean
	case "date":
		return Date
	case "datetime", "datetime2", "smalldatetime", "datetimeoffset":
		return Timestamp
	case "nvarchar", "varchar", "nchar", "char", "text", "ntext":
		return String
	}
	return FieldType(strings.ToUpper(dataType))
}
