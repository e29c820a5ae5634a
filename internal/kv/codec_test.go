package kv

import (
	"errors"
	"testing"
	"time"
)

func TestEncodeDecode_PreservesTypes(t *testing.T) {
	stamp := time.Date(2024, 3, 9, 10, 11, 12, 123456789, time.UTC)

	tests := []struct {
		name  string
		value Value
	}{
		{"bool", true},
		{"int", int64(-42)},
		{"large int", int64(1<<62 + 7)},
		{"float", 3.25},
		{"string", "hello"},
		{"empty string", ""},
		{"bytes", []byte{0x00, 0xff, 0x10}},
		{"empty bytes", []byte{}},
		{"time", stamp},
		{"list", []any{int64(1), "two", []byte("3"), stamp}},
		{"map", map[string]any{
			"name":  "alice",
			"tags":  []any{"a", "b"},
			"blob":  []byte("xyz"),
			"when":  stamp,
			"inner": map[string]any{"n": int64(1), "none": nil},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.value)
			if err != nil {
				t.Fatalf("Encode() failed: %v", err)
			}

			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode() failed: %v", err)
			}

			if !Equal(got, tt.value) {
				t.Errorf("round trip = %s, want %s", Format(got), Format(tt.value))
			}
		})
	}
}

func TestEncode_NormalizesGoTypes(t *testing.T) {
	data, err := Encode(map[string][]int{"xs": {1, 2}})
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}

	want := map[string]any{"xs": []any{int64(1), int64(2)}}
	if !Equal(got, want) {
		t.Errorf("Decode() = %s, want %s", Format(got), Format(want))
	}
}

func TestEncode_Unsupported(t *testing.T) {
	_, err := Encode(make(chan int))
	if !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("Encode(chan) error = %v, want ErrUnsupportedValue", err)
	}

	_, err = Encode(map[int]string{1: "x"})
	if !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("Encode(map[int]string) error = %v, want ErrUnsupportedValue", err)
	}
}

func TestDecode_Invalid(t *testing.T) {
	inputs := []string{
		`not json`,
		`{"t":"mystery","v":1}`,
		`{"t":"int","v":"abc"}`,
		`{"t":"time","v":"yesterday"}`,
	}

	for _, in := range inputs {
		if _, err := Decode([]byte(in)); err == nil {
			t.Errorf("Decode(%s) should fail", in)
		}
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		value Value
		want  Kind
	}{
		{nil, KindNull},
		{false, KindBool},
		{int64(1), KindInt},
		{1.5, KindFloat},
		{"s", KindString},
		{[]byte("b"), KindBytes},
		{time.Now(), KindTime},
		{[]any{}, KindList},
		{map[string]any{}, KindMap},
	}

	for _, tt := range tests {
		got, err := KindOf(tt.value)
		if err != nil {
			t.Fatalf("KindOf(%T) failed: %v", tt.value, err)
		}
		if got != tt.want {
			t.Errorf("KindOf(%T) = %s, want %s", tt.value, got, tt.want)
		}
	}
}

func TestFormat(t *testing.T) {
	got := Format(map[string]any{"b": []any{int64(1), nil}, "a": []byte("xy")})
	want := "{a: <2 bytes>, b: [1, nil]}"
	if got != want {
		t.Errorf("Format() = %q, want %q", got, want)
	}
}
