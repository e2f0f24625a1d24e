package entities

import (
	"testing"
	"time"
)

func TestEncodeDate_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{name: "first storable day", in: time.Date(1, 1, 2, 0, 0, 0, 0, time.UTC), want: "0000002"},
		{name: "unix epoch", in: time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC), want: "0719163"},
		{name: "time of day is dropped", in: time.Date(2024, 2, 29, 13, 45, 0, 0, time.UTC), want: "0738945"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeDate(tt.in)
			if got != tt.want {
				t.Fatalf("EncodeDate() = %q, want %q", got, tt.want)
			}
			back, err := DecodeDate(got)
			if err != nil {
				t.Fatalf("DecodeDate() error = %v", err)
			}
			if !back.Equal(TruncateToDate(tt.in)) {
				t.Errorf("DecodeDate() = %v, want %v", back, TruncateToDate(tt.in))
			}
		})
	}
}

func TestEncodeDate_UnsetSentinel(t *testing.T) {
	raw := EncodeDate(time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC))
	if raw != "0000000" {
		t.Fatalf("EncodeDate() = %q, want the unset day 0000000", raw)
	}
	got, err := DecodeDate(raw)
	if err != nil {
		t.Fatalf("DecodeDate() error = %v", err)
	}
	if !IsDefaultDateTime(got) {
		t.Errorf("DecodeDate() = %v, want the unset sentinel", got)
	}
}

func TestDecodeDate_Sentinels(t *testing.T) {
	for _, in := range []time.Time{DefaultDateTime, MaxDateTime} {
		raw := EncodeDateTime(in)
		got, err := DecodeDateTime(raw)
		if err != nil {
			t.Fatalf("DecodeDateTime(%q) error = %v", raw, err)
		}
		if !got.IsZero() {
			t.Errorf("DecodeDateTime(%q) = %v, want zero time", raw, got)
		}
	}
}

func TestEncodeDateTime_OrderPreserving(t *testing.T) {
	times := []time.Time{
		time.Date(1899, 12, 31, 23, 59, 59, 999000000, time.UTC),
		time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 1, 8, 0, 0, 1000000, time.UTC),
		time.Date(2024, 5, 1, 8, 0, 0, 2000000, time.UTC),
		time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
	}
	for i := 1; i < len(times); i++ {
		a, b := EncodeDateTime(times[i-1]), EncodeDateTime(times[i])
		if !(a < b) {
			t.Errorf("EncodeDateTime order broken: %q >= %q", a, b)
		}
	}
	for _, in := range times {
		got, err := DecodeDateTime(EncodeDateTime(in))
		if err != nil {
			t.Fatalf("DecodeDateTime() error = %v", err)
		}
		if !got.Equal(in) {
			t.Errorf("DecodeDateTime() = %v, want %v", got, in)
		}
	}
}

func TestDecodeDateTime_Invalid(t *testing.T) {
	for _, raw := range []string{"", "0000001", "abc,0", "0000001,99999999"} {
		if _, err := DecodeDateTime(raw); err == nil {
			t.Errorf("DecodeDateTime(%q) expected error", raw)
		}
	}
}

func TestDecodeDate_MaxSentinel(t *testing.T) {
	got, err := DecodeDate(EncodeDate(MaxDateTime))
	if err != nil {
		t.Fatalf("DecodeDate() error = %v", err)
	}
	if !got.IsZero() {
		t.Errorf("DecodeDate(max) = %v, want zero time", got)
	}
}
