package sqlite

import (
	"database/sql"
	"testing"
	"time"
)

func TestDecodeTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{"rfc3339nano", "2024-01-15T10:30:00.123456789Z", time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC), false},
		{"rfc3339 offset", "2024-01-15T12:30:00+02:00", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), false},
		{"space with zone", "2024-01-15 10:30:00+00:00", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), false},
		{"space no zone is utc", "2024-01-15 10:30:00", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), false},
		{"blank", "  ", time.Time{}, true},
		{"garbage", "yesterday", time.Time{}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := decodeTime(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeTime(%q) err=%v wantErr=%v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Fatalf("got=%s want=%s", got, tt.want)
			}
		})
	}
}

func TestEncodeTime_RoundTrip(t *testing.T) {
	t.Parallel()

	in := time.Date(2024, 1, 15, 10, 30, 0, 123, time.FixedZone("X", 3600))
	got, err := decodeTime(encodeTime(in))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if !got.Equal(in) || got.Location() != time.UTC {
		t.Fatalf("got=%s want=%s in UTC", got, in.UTC())
	}
}

func TestParseTime_NullAndInvalid(t *testing.T) {
	t.Parallel()

	if _, ok := ParseTime(sql.NullString{}); ok {
		t.Fatalf("NULL must not parse")
	}
	if _, ok := ParseTime(sql.NullString{String: "nope", Valid: true}); ok {
		t.Fatalf("invalid text must not parse")
	}
	ts, ok := ParseTime(sql.NullString{String: "2024-01-15T10:30:00Z", Valid: true})
	if !ok || ts.Hour() != 10 {
		t.Fatalf("ts=%v ok=%v", ts, ok)
	}
}

func TestEncodeTime_SortsChronologically(t *testing.T) {
	t.Parallel()

	a := encodeTime(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
	b := encodeTime(time.Date(2024, 1, 15, 10, 30, 0, 500_000_000, time.UTC))
	if len(a) != len(b) || a >= b {
		t.Fatalf("encoded times must be fixed-width and ordered: %q %q", a, b)
	}
}
