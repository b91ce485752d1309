package store

import (
	"strings"
	"testing"
	"time"
)

// fakeRow implements pgxRow with preset column values.
type fakeRow struct {
	values []interface{}
}

func (r *fakeRow) Scan(dest ...interface{}) error {
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *uint64:
			*p = r.values[i].(uint64)
		case *int64:
			*p = r.values[i].(int64)
		case *int:
			*p = r.values[i].(int)
		case *time.Time:
			*p = r.values[i].(time.Time)
		case **time.Time:
			if v, ok := r.values[i].(*time.Time); ok {
				*p = v
			}
		case *[]string:
			if v, ok := r.values[i].([]string); ok {
				*p = v
			}
		default:
			panic("unsupported scan destination")
		}
	}
	return nil
}

func settlementRow(total string) *fakeRow {
	return &fakeRow{values: []interface{}{
		"rec-1", uint64(1), total, "8500", "1000", "300", "200",
		time.Now().UTC(), []string(nil),
	}}
}

func TestScanSettlement_Valid(t *testing.T) {
	rec, err := scanSettlement(settlementRow("10000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID != "rec-1" || rec.TotalProceeds.String() != "10000" || rec.GasShare.String() != "200" {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestScanSettlement_MalformedNumeric(t *testing.T) {
	// A corrupt NUMERIC must surface as an error, never as zero money.
	_, err := scanSettlement(settlementRow("not-a-number"))
	if err == nil {
		t.Fatal("expected error for malformed total_proceeds")
	}
	if !strings.Contains(err.Error(), "total_proceeds") {
		t.Errorf("error should name the column: %v", err)
	}
}

func TestScanTask_NullSettledAt(t *testing.T) {
	now := time.Now().UTC()
	row := &fakeRow{values: []interface{}{
		uint64(3), "0xpool", "collecting", int64(6700), uint64(100),
		now, now.Add(time.Minute), (*time.Time)(nil),
	}}

	task, err := scanTask(row)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.TaskID != 3 || !task.SettledAt.IsZero() {
		t.Errorf("unexpected task: %+v", task)
	}
}
