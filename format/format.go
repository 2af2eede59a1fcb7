// Package format renders samples as daily log lines and as parameterized
// insert statements.
package format

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"hostmon/collector"
)

// TimeLayout is the timestamp prefix of every log line (local time).
const TimeLayout = "2006-01-02T15:04:05"

// percentDigits is the fixed-point precision of percentages.
const percentDigits = 2

// LogLine renders s as "<timestamp> <field> <field> ..." with fields in the
// variant's declared order. Byte counts and counters are written as exact
// integers, percentages rounded to two decimals with trailing zeros dropped.
func LogLine(s collector.Sample, ts time.Time) string {
	fields := []string{ts.Format(TimeLayout)}
	switch v := s.(type) {
	case collector.CPUSample:
		fields = append(fields, percent(v.Percent))
	case collector.MemorySample:
		fields = append(fields, integer(v.Total), integer(v.Available), integer(v.Used), integer(v.Free), percent(v.Percent))
	case collector.DiskSample:
		fields = append(fields, integer(v.Total), integer(v.Used), integer(v.Free), percent(v.Percent))
	case collector.NetSample:
		fields = append(fields, integer(v.BytesSent), integer(v.BytesRecv), integer(v.PacketsSent), integer(v.PacketsRecv))
	}
	return strings.Join(fields, " ")
}

// ParseLogLine is the inverse of LogLine for the given category.
func ParseLogLine(c collector.Category, line string) (time.Time, collector.Sample, error) {
	parts := strings.Split(strings.TrimRight(line, "\r\n"), " ")
	ts, err := time.ParseInLocation(TimeLayout, parts[0], time.Local)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("parse timestamp: %w", err)
	}
	p := &fieldParser{fields: parts[1:]}

	var s collector.Sample
	switch c {
	case collector.CPU:
		s = collector.CPUSample{Percent: p.float()}
	case collector.Memory:
		s = collector.MemorySample{Total: p.unsigned(), Available: p.unsigned(), Used: p.unsigned(), Free: p.unsigned(), Percent: p.float()}
	case collector.Disk:
		s = collector.DiskSample{Total: p.unsigned(), Used: p.unsigned(), Free: p.unsigned(), Percent: p.float()}
	case collector.Network:
		s = collector.NetSample{BytesSent: p.unsigned(), BytesRecv: p.unsigned(), PacketsSent: p.unsigned(), PacketsRecv: p.unsigned()}
	default:
		return time.Time{}, nil, fmt.Errorf("unknown category %d", int(c))
	}
	if p.err != nil {
		return time.Time{}, nil, fmt.Errorf("parse %s line: %w", c, p.err)
	}
	if p.pos != len(p.fields) {
		return time.Time{}, nil, fmt.Errorf("parse %s line: %d fields, want %d", c, len(p.fields), p.pos)
	}
	return ts, s, nil
}

func integer(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func percent(v float64) string {
	scale := math.Pow10(percentDigits)
	r := math.Round(v*scale) / scale
	if r == 0 {
		r = 0 // drop the sign of negative zero
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// fieldParser consumes fields in order and keeps the first error.
type fieldParser struct {
	fields []string
	pos    int
	err    error
}

func (p *fieldParser) next() (string, bool) {
	if p.err != nil {
		return "", false
	}
	if p.pos >= len(p.fields) {
		p.err = fmt.Errorf("missing field %d", p.pos+1)
		return "", false
	}
	f := p.fields[p.pos]
	p.pos++
	return f, true
}

func (p *fieldParser) unsigned() uint64 {
	f, ok := p.next()
	if !ok {
		return 0
	}
	v, err := strconv.ParseUint(f, 10, 64)
	if err != nil {
		p.err = err
	}
	return v
}

func (p *fieldParser) float() float64 {
	f, ok := p.next()
	if !ok {
		return 0
	}
	v, err := strconv.ParseFloat(f, 64)
	if err != nil {
		p.err = err
	}
	return v
}
