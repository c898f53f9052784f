package aggregate

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/eunmann/tabx/pkg/logging"
	"github.com/eunmann/tabx/pkg/table"
	_ "github.com/mattn/go-sqlite3"
)

// maxBatchRows caps rows per multi-row INSERT.
const maxBatchRows = 256

// sqliteMaxVariables is SQLite's historic default limit on bound parameters.
const sqliteMaxVariables = 999

// SQLiteEngine aggregates by loading the key and target columns into SQLite
// and running one GROUP BY query.
type SQLiteEngine struct {
	// DBPath is the database file. Empty uses a private in-memory database.
	DBPath string
}

func (SQLiteEngine) Name() string { return "sqlite" }

func (e SQLiteEngine) Aggregate(ctx context.Context, p *Plan) ([]Group, error) {
	log := logging.WithPhase("sqlite_aggregate")
	start := time.Now()

	dsn := e.DBPath
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	defer db.Close()
	// Each connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	layout := newCellLayout(p)
	if _, err := db.ExecContext(ctx, layout.createSQL()); err != nil {
		return nil, fmt.Errorf("create cells table: %w", err)
	}

	ids, keys := groupIndex(p.Key)
	inserted, err := layout.insert(ctx, db, ids)
	if err != nil {
		return nil, err
	}

	groups, err := layout.query(ctx, db, keys)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Int("rows_inserted", inserted).
		Int("groups", len(groups)).
		Dur("elapsed", time.Since(start)).
		Msg("sqlite aggregation complete")
	return groups, nil
}

// cellLayout maps plan targets onto columns c0..cN of the cells table. A
// column requested by several statistics is stored once.
type cellLayout struct {
	plan    *Plan
	slots   []int // per request: column slot, -1 for plain row counts
	columns []int // per slot: index into plan.Targets of its first use
}

func newCellLayout(p *Plan) *cellLayout {
	l := &cellLayout{plan: p, slots: make([]int, len(p.Requests))}
	byName := make(map[string]int)
	for i, col := range p.Targets {
		if col == nil {
			l.slots[i] = -1
			continue
		}
		slot, ok := byName[col.Name()]
		if !ok {
			slot = len(l.columns)
			byName[col.Name()] = slot
			l.columns = append(l.columns, i)
		}
		l.slots[i] = slot
	}
	return l
}

func (l *cellLayout) colsPerRow() int { return 1 + len(l.columns) }

func (l *cellLayout) createSQL() string {
	var cols strings.Builder
	for i := range l.columns {
		fmt.Fprintf(&cols, ",\n    c%d REAL", i)
	}
	return fmt.Sprintf(`
		CREATE TABLE cells (
			g INTEGER NOT NULL%s
		)
	`, cols.String())
}

// insertSQL builds a multi-row INSERT for n rows.
func (l *cellLayout) insertSQL(n int) string {
	names := []string{"g"}
	for i := range l.columns {
		names = append(names, fmt.Sprintf("c%d", i))
	}
	oneRow := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ") + ")"
	rows := make([]string, n)
	for i := range rows {
		rows[i] = oneRow
	}
	return fmt.Sprintf("INSERT INTO cells (%s) VALUES %s", strings.Join(names, ", "), strings.Join(rows, ", "))
}

// batchRows returns how many rows fit in one INSERT.
func (l *cellLayout) batchRows() int {
	n := sqliteMaxVariables / l.colsPerRow()
	return max(1, min(n, maxBatchRows))
}

// fill writes the arguments for table row `row` with group id into args.
// Numeric cells are stored as their value; other kinds store 1 so that
// COUNT sees exactly the present cells. NaN and ±Inf are stored as NULL.
func (l *cellLayout) fill(args []any, row, id int) {
	args[0] = id
	for slot, ti := range l.columns {
		col := l.plan.Targets[ti]
		switch {
		case col.IsMissing(row):
			args[1+slot] = nil
		case col.Kind().IsNumeric():
			f, _ := col.Finite(row)
			args[1+slot] = f
		default:
			args[1+slot] = 1.0
		}
	}
}

func (l *cellLayout) insert(ctx context.Context, db *sql.DB, ids []int) (int, error) {
	rows := make([]int, 0, len(ids))
	for row, id := range ids {
		if id >= 0 {
			rows = append(rows, row)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	batch := l.batchRows()
	width := l.colsPerRow()

	if full := len(rows) / batch; full > 0 {
		stmt, err := tx.PrepareContext(ctx, l.insertSQL(batch))
		if err != nil {
			return 0, fmt.Errorf("prepare multi-row insert: %w", err)
		}
		defer stmt.Close()

		args := make([]any, batch*width)
		for b := 0; b < full; b++ {
			for j := 0; j < batch; j++ {
				row := rows[b*batch+j]
				l.fill(args[j*width:(j+1)*width], row, ids[row])
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return 0, fmt.Errorf("multi-row insert batch %d: %w", b, err)
			}
		}
	}

	if rest := rows[len(rows)-len(rows)%batch:]; len(rest) > 0 {
		stmt, err := tx.PrepareContext(ctx, l.insertSQL(1))
		if err != nil {
			return 0, fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		args := make([]any, width)
		for _, row := range rest {
			l.fill(args, row, ids[row])
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return 0, fmt.Errorf("insert row %d: %w", row, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(rows), nil
}

func (l *cellLayout) selectSQL() string {
	exprs := []string{"g"}
	for i, r := range l.plan.Requests {
		slot := l.slots[i]
		switch {
		case slot < 0:
			exprs = append(exprs, "COUNT(*)")
		case r.Stat == StatCount:
			exprs = append(exprs, fmt.Sprintf("COUNT(c%d)", slot))
		default:
			exprs = append(exprs, fmt.Sprintf("AVG(c%d)", slot))
		}
	}
	return fmt.Sprintf("SELECT %s FROM cells GROUP BY g", strings.Join(exprs, ", "))
}

func (l *cellLayout) query(ctx context.Context, db *sql.DB, keys []table.Value) ([]Group, error) {
	rows, err := db.QueryContext(ctx, l.selectSQL())
	if err != nil {
		return nil, fmt.Errorf("group query: %w", err)
	}
	defer rows.Close()

	values := make([]sql.NullFloat64, len(l.plan.Requests))
	dest := make([]any, 1+len(values))
	var id int
	dest[0] = &id
	for i := range values {
		dest[1+i] = &values[i]
	}

	groups := make([]Group, 0, len(keys))
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		if id < 0 || id >= len(keys) {
			return nil, fmt.Errorf("group id %d out of range", id)
		}
		stats := make(map[string]float64, len(values))
		for i, r := range l.plan.Requests {
			// AVG over no non-null cells is NULL: leave the mean out.
			if values[i].Valid {
				stats[r.Name()] = values[i].Float64
			}
		}
		groups = append(groups, Group{Key: keys[id], Stats: stats})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return groups, nil
}
