// Package normalize converts pgx row values into JSON-friendly values and
// serializes result sets.
package normalize

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Row maps column name to value in result column order.
type Row = *orderedmap.OrderedMap[string, any]

const (
	isoDate         = "2006-01-02"
	isoDateTime     = "2006-01-02T15:04:05"
	isoMicros       = ".000000"
	isoOffset       = "-07:00"
	microsPerSecond = 1_000_000
	microsPerMinute = 60 * microsPerSecond
	microsPerHour   = 60 * microsPerMinute
	nanosPerMicro   = 1000
)

// typeMap resolves array and range OIDs to their element OIDs. It is only
// read after construction.
var typeMap = pgtype.NewMap()

// NewRow builds a Row from field descriptions and the matching values.
// A repeated column name keeps its first position and takes the last value.
// Each value is converted on its own; values that are not recognized pass through.
func NewRow(fields []pgconn.FieldDescription, values []any) Row {
	row := orderedmap.New[string, any](len(fields))
	for i, fd := range fields {
		var v any
		if i < len(values) {
			v = values[i]
		}
		row.Set(fd.Name, Value(fd.DataTypeOID, v))
	}
	return row
}

// Value converts a single pgx value. oid is the column type and selects the
// ISO-8601 shape for time.Time values (date, timestamp, or timestamptz).
// Array and range elements are converted with the element type's OID.
func Value(oid uint32, v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return isoTime(oid, val)
	case []byte:
		return hex.EncodeToString(val)
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", val[0:4], val[4:6], val[6:8], val[8:10], val[10:16])
	case float32:
		return nonFinite(float64(val), val)
	case float64:
		return nonFinite(val, val)
	case netip.Prefix:
		return val.String()
	case netip.Addr:
		return val.String()
	case net.HardwareAddr:
		return val.String()
	case pgtype.InfinityModifier:
		return val.String()
	case pgtype.Time:
		if !val.Valid {
			return nil
		}
		return isoTimeOfDay(val.Microseconds)
	case pgtype.Interval:
		if !val.Valid {
			return nil
		}
		return isoDuration(val)
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		if val.NaN {
			return "NaN"
		}
		if val.InfinityModifier == pgtype.Infinity {
			return "Infinity"
		}
		if val.InfinityModifier == pgtype.NegativeInfinity {
			return "-Infinity"
		}
		b, err := val.MarshalJSON()
		if err != nil {
			return val
		}
		return json.Number(b)
	case pgtype.Range[any]:
		if !val.Valid {
			return nil
		}
		return rangeText(elementOID(oid), val)
	case pgtype.Point:
		if !val.Valid {
			return nil
		}
		return fmt.Sprintf("(%g,%g)", val.P.X, val.P.Y)
	case pgtype.Box:
		if !val.Valid {
			return nil
		}
		return fmt.Sprintf("(%g,%g),(%g,%g)", val.P[0].X, val.P[0].Y, val.P[1].X, val.P[1].Y)
	case pgtype.Circle:
		if !val.Valid {
			return nil
		}
		return fmt.Sprintf("<(%g,%g),%g>", val.P.X, val.P.Y, val.R)
	case pgtype.Bits:
		if !val.Valid {
			return nil
		}
		return bitText(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Value(0, item)
		}
		return out
	case []any:
		elem := elementOID(oid)
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Value(elem, item)
		}
		return out
	default:
		return val
	}
}

// elementOID returns the element type of an array or range OID. Any other
// OID is returned unchanged, so nested arrays keep the innermost type.
func elementOID(oid uint32) uint32 {
	t, ok := typeMap.TypeForOID(oid)
	if !ok {
		return oid
	}
	switch codec := t.Codec.(type) {
	case *pgtype.ArrayCodec:
		if codec.ElementType != nil {
			return codec.ElementType.OID
		}
	case *pgtype.RangeCodec:
		if codec.ElementType != nil {
			return codec.ElementType.OID
		}
	}
	return oid
}

// rangeText renders a range in Postgres literal form, e.g. [1,10).
func rangeText(elem uint32, r pgtype.Range[any]) string {
	if r.LowerType == pgtype.Empty {
		return "empty"
	}
	var sb strings.Builder
	if r.LowerType == pgtype.Inclusive {
		sb.WriteByte('[')
	} else {
		sb.WriteByte('(')
	}
	if r.LowerType != pgtype.Unbounded {
		fmt.Fprintf(&sb, "%v", Value(elem, r.Lower))
	}
	sb.WriteByte(',')
	if r.UpperType != pgtype.Unbounded {
		fmt.Fprintf(&sb, "%v", Value(elem, r.Upper))
	}
	if r.UpperType == pgtype.Inclusive {
		sb.WriteByte(']')
	} else {
		sb.WriteByte(')')
	}
	return sb.String()
}

func bitText(b pgtype.Bits) string {
	out := make([]byte, b.Len)
	for i := int32(0); i < b.Len; i++ {
		if b.Bytes[i/8]&(1<<uint(7-i%8)) != 0 {
			out[i] = '1'
		} else {
			out[i] = '0'
		}
	}
	return string(out)
}

func nonFinite(f float64, orig any) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return orig
}

// isoTime renders t the way the server type implies: dates without a time
// part, timestamps without an offset, and timestamptz (or unknown) with one.
// Fractional seconds are six digits and omitted when zero.
func isoTime(oid uint32, t time.Time) string {
	switch oid {
	case pgtype.DateOID:
		return t.Format(isoDate)
	case pgtype.TimestampOID:
		return t.Format(isoDateTime) + fraction(t)
	default:
		return t.Format(isoDateTime) + fraction(t) + t.Format(isoOffset)
	}
}

func fraction(t time.Time) string {
	if t.Nanosecond()/nanosPerMicro == 0 {
		return ""
	}
	return t.Format(isoMicros)
}

func isoTimeOfDay(us int64) string {
	hours := us / microsPerHour
	us -= hours * microsPerHour
	minutes := us / microsPerMinute
	us -= minutes * microsPerMinute
	seconds := us / microsPerSecond
	us -= seconds * microsPerSecond
	if us > 0 {
		return fmt.Sprintf("%02d:%02d:%02d.%06d", hours, minutes, seconds, us)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// isoDuration renders an interval as an ISO-8601 duration, e.g. P1Y2M3DT4H5M6.5S.
func isoDuration(iv pgtype.Interval) string {
	var sb strings.Builder
	sb.WriteByte('P')
	if years := iv.Months / 12; years != 0 {
		fmt.Fprintf(&sb, "%dY", years)
	}
	if months := iv.Months % 12; months != 0 {
		fmt.Fprintf(&sb, "%dM", months)
	}
	if iv.Days != 0 {
		fmt.Fprintf(&sb, "%dD", iv.Days)
	}
	if iv.Microseconds != 0 {
		sb.WriteByte('T')
		us := iv.Microseconds
		hours := us / microsPerHour
		us -= hours * microsPerHour
		minutes := us / microsPerMinute
		us -= minutes * microsPerMinute
		if hours != 0 {
			fmt.Fprintf(&sb, "%dH", hours)
		}
		if minutes != 0 {
			fmt.Fprintf(&sb, "%dM", minutes)
		}
		if us != 0 {
			secs := fmt.Sprintf("%.6f", float64(us)/microsPerSecond)
			secs = strings.TrimRight(strings.TrimRight(secs, "0"), ".")
			sb.WriteString(secs)
			sb.WriteByte('S')
		}
	}
	if sb.Len() == 1 {
		return "PT0S"
	}
	return sb.String()
}

// Marshal serializes v as indented JSON without escaping non-ASCII text or
// HTML characters. Rows keep their column order. The trailing newline is
// dropped.
func Marshal(v any) (string, error) {
	var compact bytes.Buffer
	if err := writeJSON(&compact, v); err != nil {
		return "", err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", "  "); err != nil {
		return "", err
	}
	return out.String(), nil
}

func writeJSON(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case []Row:
		if val == nil {
			buf.WriteString("null")
			return nil
		}
		buf.WriteByte('[')
		for i, row := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, row); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case Row:
		if val == nil {
			buf.WriteString("null")
			return nil
		}
		buf.WriteByte('{')
		for pair := val.Oldest(); pair != nil; pair = pair.Next() {
			if pair != val.Oldest() {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, pair.Key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeJSON(buf, pair.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		b, err := encodeValue(val)
		if err != nil {
			// A value encoding/json rejects (a NaN inside a geometric type,
			// say) is written as its text form so the rest of the row survives.
			b, err = encodeValue(fmt.Sprint(val))
			if err != nil {
				return err
			}
		}
		buf.Write(b)
		return nil
	}
}

func encodeValue(v any) ([]byte, error) {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(tmp.Bytes(), []byte("\n")), nil
}
