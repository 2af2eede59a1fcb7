package format

import (
	"strconv"
	"strings"

	"hostmon/collector"
)

// Dialect selects the placeholder style of a rendered statement.
type Dialect int

const (
	// QuestionMark uses "?" placeholders (sqlite, mysql).
	QuestionMark Dialect = iota
	// Dollar uses "$1, $2, ..." placeholders (postgres).
	Dollar
)

// Statement is an insert of one row into a fixed table. Args are bound by
// the driver, never spliced into the SQL text.
type Statement struct {
	Table   string
	Columns []string
	Args    []any
}

// InsertStatement maps s to its table with columns in schema order.
func InsertStatement(s collector.Sample) Statement {
	st := Statement{Table: s.Category().Table()}
	switch v := s.(type) {
	case collector.CPUSample:
		st.Columns = []string{"percent"}
		st.Args = []any{v.Percent}
	case collector.MemorySample:
		st.Columns = []string{"total", "available", "percent", "used", "free"}
		st.Args = []any{v.Total, v.Available, v.Percent, v.Used, v.Free}
	case collector.DiskSample:
		st.Columns = []string{"total", "used", "free", "percent"}
		st.Args = []any{v.Total, v.Used, v.Free, v.Percent}
	case collector.NetSample:
		st.Columns = []string{"bytes_sent", "bytes_recv", "packets_sent", "packets_recv"}
		st.Args = []any{v.BytesSent, v.BytesRecv, v.PacketsSent, v.PacketsRecv}
	}
	return st
}

// SQL renders the statement text for the given dialect.
func (s Statement) SQL(d Dialect) string {
	marks := make([]string, len(s.Columns))
	for i := range marks {
		if d == Dollar {
			marks[i] = "$" + strconv.Itoa(i+1)
		} else {
			marks[i] = "?"
		}
	}
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(s.Table)
	b.WriteString(" (")
	b.WriteString(strings.Join(s.Columns, ", "))
	b.WriteString(") VALUES (")
	b.WriteString(strings.Join(marks, ", "))
	b.WriteString(")")
	return b.String()
}
