package types

import (
	"math"
	"testing"
)

func TestMemoryRecordValidate(t *testing.T) {
	valid := MemoryRecord{UserID: "u1", Content: "我喜欢打篮球", Category: CategoryInterests, Importance: 7}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid record rejected: %v", err)
	}

	cases := []struct {
		name   string
		record MemoryRecord
	}{
		{"no user", MemoryRecord{Content: "x"}},
		{"no content", MemoryRecord{UserID: "u1"}},
		{"whitespace content", MemoryRecord{UserID: "u1", Content: "   "}},
		{"bad category", MemoryRecord{UserID: "u1", Content: "x", Category: "nonsense"}},
		{"importance too low", MemoryRecord{UserID: "u1", Content: "x", Importance: -1}},
		{"importance too high", MemoryRecord{UserID: "u1", Content: "x", Importance: 11}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.record.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMemoryRecordNormalize(t *testing.T) {
	record := MemoryRecord{
		UserID:  "u1",
		Content: "x",
		Tags:    []string{"a", " a ", "", "b", "a"},
	}
	record.Normalize()

	if record.Importance != DefaultImportance {
		t.Errorf("Importance: got %d, want %d", record.Importance, DefaultImportance)
	}
	if record.Category != CategoryOther {
		t.Errorf("Category: got %q, want other", record.Category)
	}
	if len(record.Tags) != 2 || record.Tags[0] != "a" || record.Tags[1] != "b" {
		t.Errorf("Tags: got %v, want [a b]", record.Tags)
	}
}

// TestNaturalKeyTrimsContent pins the cross-store identity rule: the same
// logical fact stored with different surrounding whitespace is one record.
func TestNaturalKeyTrimsContent(t *testing.T) {
	a := MemoryRecord{UserID: "u1", Content: "我喜欢打篮球"}
	b := MemoryRecord{UserID: "u1", Content: "  我喜欢打篮球  "}
	c := MemoryRecord{UserID: "u2", Content: "我喜欢打篮球"}

	if a.NaturalKey() != b.NaturalKey() {
		t.Error("whitespace variants should share a natural key")
	}
	if a.NaturalKey() == c.NaturalKey() {
		t.Error("different users must never share a natural key")
	}
}

func TestSearchModeValid(t *testing.T) {
	for _, mode := range []SearchMode{SearchModeKeyword, SearchModeVector, SearchModeHybrid} {
		if !mode.Valid() {
			t.Errorf("%q should be valid", mode)
		}
	}
	for _, mode := range []SearchMode{"", "fuzzy", "Hybrid"} {
		if mode.Valid() {
			t.Errorf("%q should be invalid", mode)
		}
	}
}

func TestVectorRecordComputeNorm(t *testing.T) {
	record := VectorRecord{Embedding: []float32{3, 4}}
	if got := record.ComputeNorm(); math.Abs(got-5) > 1e-9 {
		t.Errorf("ComputeNorm: got %v, want 5", got)
	}
	if record.Norm != record.ComputeNorm() {
		t.Error("Norm should cache the computed value")
	}

	zero := VectorRecord{Embedding: []float32{0, 0, 0}}
	if got := zero.ComputeNorm(); got != 0 {
		t.Errorf("zero vector norm: got %v, want 0", got)
	}
	if zero.Dimension() != 3 {
		t.Errorf("Dimension: got %d, want 3", zero.Dimension())
	}
}
