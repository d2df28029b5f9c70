package table

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/types"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/afroash/egat-monitor/internal/models"
)

// TimestampLayout is how capture times are written to the
// scrape_timestamp_utc column: naive UTC, microsecond precision.
const TimestampLayout = "2006-01-02 15:04:05.999999"

// ErrEmptyTable is returned when decoding zero bytes.
var ErrEmptyTable = errors.New("empty table data")

// record is the on-disk row. Every column is optional so that tables written
// by other tools with nulls still decode.
type record struct {
	ScrapeTimestampUTC *string  `parquet:"name=scrape_timestamp_utc, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	DisplayDateID      *string  `parquet:"name=display_date_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	DisplayTime        *string  `parquet:"name=display_time, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	CurrentValueMW     *float64 `parquet:"name=current_value_MW, type=DOUBLE, repetitiontype=OPTIONAL"`
	TemperatureC       *float64 `parquet:"name=temperature_C, type=DOUBLE, repetitiontype=OPTIONAL"`
}

// Encode writes rows as a snappy-compressed parquet file.
func Encode(rows []models.Reading) ([]byte, error) {
	fw := buffer.NewBufferFile()

	pw, err := writer.NewParquetWriter(fw, new(record), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range rows {
		if err := pw.Write(toRecord(&rows[i])); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finish parquet file: %w", err)
	}

	return fw.Bytes(), nil
}

// int64Record reads tables whose capture time is an INT64 timestamp.
type int64Record struct {
	ScrapeTimestampUTC *int64   `parquet:"name=scrape_timestamp_utc, type=INT64, repetitiontype=OPTIONAL"`
	DisplayDateID      *string  `parquet:"name=display_date_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	DisplayTime        *string  `parquet:"name=display_time, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	CurrentValueMW     *float64 `parquet:"name=current_value_MW, type=DOUBLE, repetitiontype=OPTIONAL"`
	TemperatureC       *float64 `parquet:"name=temperature_C, type=DOUBLE, repetitiontype=OPTIONAL"`
}

// int96Record reads tables whose capture time is a legacy INT96 timestamp.
type int96Record struct {
	ScrapeTimestampUTC *string  `parquet:"name=scrape_timestamp_utc, type=INT96, repetitiontype=OPTIONAL"`
	DisplayDateID      *string  `parquet:"name=display_date_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	DisplayTime        *string  `parquet:"name=display_time, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	CurrentValueMW     *float64 `parquet:"name=current_value_MW, type=DOUBLE, repetitiontype=OPTIONAL"`
	TemperatureC       *float64 `parquet:"name=temperature_C, type=DOUBLE, repetitiontype=OPTIONAL"`
}

// timestampKind is the physical encoding of the capture time column.
type timestampKind int

const (
	timestampString timestampKind = iota
	timestampMillis
	timestampMicros
	timestampNanos
	timestampInt96
)

const timestampColumn = "scrape_timestamp_utc"

// Decode reads a parquet file produced by Encode or by any writer using the
// same column names. The capture time may be a string, an INT64 timestamp in
// any unit, or INT96.
func Decode(data []byte) ([]models.Reading, error) {
	if len(data) == 0 {
		return nil, ErrEmptyTable
	}

	footer := &reader.ParquetReader{PFile: buffer.NewBufferFileFromBytes(data)}
	if err := footer.ReadFooter(); err != nil {
		return nil, fmt.Errorf("failed to open parquet data: %w", err)
	}
	kind, err := captureTimeKind(footer.Footer.GetSchema())
	if err != nil {
		return nil, err
	}

	switch kind {
	case timestampString:
		return readRows(data, fromRecord)
	case timestampInt96:
		return readRows(data, func(rec *int96Record) models.Reading {
			r := fromRecord(&record{
				DisplayDateID:  rec.DisplayDateID,
				DisplayTime:    rec.DisplayTime,
				CurrentValueMW: rec.CurrentValueMW,
				TemperatureC:   rec.TemperatureC,
			})
			if rec.ScrapeTimestampUTC != nil && len(*rec.ScrapeTimestampUTC) == 12 {
				r.ScrapedAt = types.INT96ToTime(*rec.ScrapeTimestampUTC)
			}
			return r
		})
	default:
		return readRows(data, func(rec *int64Record) models.Reading {
			r := fromRecord(&record{
				DisplayDateID:  rec.DisplayDateID,
				DisplayTime:    rec.DisplayTime,
				CurrentValueMW: rec.CurrentValueMW,
				TemperatureC:   rec.TemperatureC,
			})
			if rec.ScrapeTimestampUTC != nil {
				r.ScrapedAt = epochTime(*rec.ScrapeTimestampUTC, kind)
			}
			return r
		})
	}
}

// readRows decodes every row into T and converts it.
func readRows[T any](data []byte, convert func(*T) models.Reading) ([]models.Reading, error) {
	fr := buffer.NewBufferFileFromBytes(data)
	pr, err := reader.NewParquetReader(fr, new(T), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet data: %w", err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	records := make([]T, n)
	if n > 0 {
		if err := pr.Read(&records); err != nil {
			return nil, fmt.Errorf("failed to read %d rows: %w", n, err)
		}
	}

	rows := make([]models.Reading, len(records))
	for i := range records {
		rows[i] = convert(&records[i])
	}
	return rows, nil
}

// columns is the stored column order. The reader maps file columns to
// record fields by position, so a file must lead with exactly these.
var columns = []string{
	timestampColumn,
	"display_date_id",
	"display_time",
	"current_value_MW",
	"temperature_C",
}

// captureTimeKind checks the column layout and returns how the capture time
// column is encoded.
func captureTimeKind(elems []*parquet.SchemaElement) (timestampKind, error) {
	// elems[0] is the schema root
	if len(elems) < len(columns)+1 {
		return 0, fmt.Errorf("table has %d columns, want %d", len(elems)-1, len(columns))
	}
	for i, name := range columns {
		if got := elems[i+1].GetName(); got != name {
			return 0, fmt.Errorf("column %d is %q, want %q", i, got, name)
		}
	}

	el := elems[1]
	switch el.GetType() {
	case parquet.Type_BYTE_ARRAY:
		return timestampString, nil
	case parquet.Type_INT96:
		return timestampInt96, nil
	case parquet.Type_INT64:
		return int64Unit(el), nil
	default:
		return 0, fmt.Errorf("unsupported %s column type %s", timestampColumn, el.GetType())
	}
}

// int64Unit prefers the logical type, then the converted type.
// Unannotated integers are taken as microseconds.
func int64Unit(el *parquet.SchemaElement) timestampKind {
	if lt := el.GetLogicalType(); lt != nil && lt.IsSetTIMESTAMP() {
		if unit := lt.GetTIMESTAMP().GetUnit(); unit != nil {
			switch {
			case unit.IsSetMILLIS():
				return timestampMillis
			case unit.IsSetNANOS():
				return timestampNanos
			}
		}
		return timestampMicros
	}
	if el.IsSetConvertedType() && el.GetConvertedType() == parquet.ConvertedType_TIMESTAMP_MILLIS {
		return timestampMillis
	}
	return timestampMicros
}

func epochTime(v int64, kind timestampKind) time.Time {
	switch kind {
	case timestampMillis:
		return time.UnixMilli(v).UTC()
	case timestampNanos:
		return time.Unix(0, v).UTC()
	default:
		return time.UnixMicro(v).UTC()
	}
}

func toRecord(r *models.Reading) record {
	var rec record
	if !r.ScrapedAt.IsZero() {
		ts := FormatTimestamp(r.ScrapedAt)
		rec.ScrapeTimestampUTC = &ts
	}
	if r.DateID != "" {
		s := r.DateID
		rec.DisplayDateID = &s
	}
	if r.DisplayTime != "" {
		s := r.DisplayTime
		rec.DisplayTime = &s
	}
	if !math.IsNaN(r.PowerMW) {
		v := r.PowerMW
		rec.CurrentValueMW = &v
	}
	if !math.IsNaN(r.TemperatureC) {
		v := r.TemperatureC
		rec.TemperatureC = &v
	}
	return rec
}

func fromRecord(rec *record) models.Reading {
	r := models.Reading{
		PowerMW:      math.NaN(),
		TemperatureC: math.NaN(),
	}
	if rec.ScrapeTimestampUTC != nil {
		// unparseable timestamps become missing
		r.ScrapedAt, _ = ParseTimestamp(*rec.ScrapeTimestampUTC)
	}
	if rec.DisplayDateID != nil {
		r.DateID = *rec.DisplayDateID
	}
	if rec.DisplayTime != nil {
		r.DisplayTime = *rec.DisplayTime
	}
	if rec.CurrentValueMW != nil {
		r.PowerMW = *rec.CurrentValueMW
	}
	if rec.TemperatureC != nil {
		r.TemperatureC = *rec.TemperatureC
	}
	return r
}

// FormatTimestamp renders t in TimestampLayout after converting to UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts the layouts different writers have used for the
// capture time column. Naive values are taken as UTC.
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)
	formats := []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		time.RFC3339Nano,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05-07:00",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}
