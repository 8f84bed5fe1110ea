package consolidate

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/optiflow-ai/consolidation/pkg/common"
)

func rawRecord(entityType common.EntityType, sourceID, name string, attrs ...common.Attribute) common.RawEntity {
	all := append([]common.Attribute{
		{Name: "name", Value: common.TextValue(name)},
	}, attrs...)
	return common.RawEntity{
		Type:       entityType,
		SourceID:   sourceID,
		Attributes: all,
		OrgContext: common.OrgContext{Department: "finance"},
	}
}

func TestMergeCreatesNewEntity(t *testing.T) {
	merger := NewMerger(DefaultConfig(), nil)

	raw := rawRecord(common.TypePainPoint, "interview-01", "Monthly reconciliation delays",
		common.Attribute{Name: "severity", Value: common.CategoricalValue("high")},
		common.Attribute{Name: "hours_lost", Value: common.NumberValue(12)},
	)

	entity, contradictions, err := merger.Merge(context.Background(), raw, nil)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if len(contradictions) != 0 {
		t.Errorf("new entity produced %d contradictions", len(contradictions))
	}
	if entity.ID == "" {
		t.Error("new entity has no id")
	}
	if entity.CanonicalName != "Monthly reconciliation delays" {
		t.Errorf("canonical name = %q", entity.CanonicalName)
	}
	if entity.SourceCount() != 1 {
		t.Errorf("source count = %d, want 1", entity.SourceCount())
	}
	if v, ok := common.FindAttribute(entity.Attributes, "hours_lost"); !ok || v.Number != 12 {
		t.Errorf("hours_lost = %+v", v)
	}
}

func TestMergeNumericMean(t *testing.T) {
	merger := NewMerger(DefaultConfig(), nil)
	ctx := context.Background()

	entity, _, err := merger.Merge(ctx, rawRecord(common.TypePainPoint, "src-a", "Reconciliation delays",
		common.Attribute{Name: "hours_lost", Value: common.NumberValue(10)}), nil)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	for _, step := range []struct {
		source string
		hours  float64
		want   float64
	}{
		{"src-b", 20, 15},
		{"src-c", 30, 20},
	} {
		entity, _, err = merger.Merge(ctx, rawRecord(common.TypePainPoint, step.source, "Reconciliation delays",
			common.Attribute{Name: "hours_lost", Value: common.NumberValue(step.hours)}), entity)
		if err != nil {
			t.Fatalf("Merge(%s) error = %v", step.source, err)
		}
		got, _ := common.FindAttribute(entity.Attributes, "hours_lost")
		if got.Number != step.want {
			t.Errorf("after %s: hours_lost = %f, want %f", step.source, got.Number, step.want)
		}
	}
}

func TestMergeNumericMeanIsOrderIndependent(t *testing.T) {
	ctx := context.Background()

	run := func(values map[string]float64, order []string) float64 {
		merger := NewMerger(DefaultConfig(), nil)
		var entity *common.ConsolidatedEntity
		var err error
		for _, src := range order {
			entity, _, err = merger.Merge(ctx, rawRecord(common.TypeCostDriver, src, "License spend",
				common.Attribute{Name: "annual_cost", Value: common.NumberValue(values[src])}), entity)
			if err != nil {
				t.Fatalf("Merge(%s) error = %v", src, err)
			}
		}
		v, _ := common.FindAttribute(entity.Attributes, "annual_cost")
		return v.Number
	}

	values := map[string]float64{"a": 100, "b": 250, "c": 400}
	forward := run(values, []string{"a", "b", "c"})
	backward := run(values, []string{"c", "b", "a"})
	if forward != backward {
		t.Errorf("mean depends on merge order: %f vs %f", forward, backward)
	}
}

func TestMergeListUnion(t *testing.T) {
	merger := NewMerger(DefaultConfig(), nil)
	ctx := context.Background()

	entity, _, err := merger.Merge(ctx, rawRecord(common.TypeSystem, "src-a", "SAP ERP",
		common.Attribute{Name: "modules", Value: common.ListValue("FI", "CO")}), nil)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	entity, _, err = merger.Merge(ctx, rawRecord(common.TypeSystem, "src-b", "SAP ERP",
		common.Attribute{Name: "modules", Value: common.ListValue("CO", "MM")}), entity)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	got, _ := common.FindAttribute(entity.Attributes, "modules")
	want := []string{"FI", "CO", "MM"}
	if !reflect.DeepEqual(got.List, want) {
		t.Errorf("modules = %v, want %v", got.List, want)
	}
}

func TestMergeTextConcatenatesWithAttribution(t *testing.T) {
	merger := NewMerger(DefaultConfig(), nil)
	ctx := context.Background()

	entity, _, err := merger.Merge(ctx, rawRecord(common.TypePainPoint, "interview-01", "Reconciliation delays",
		common.Attribute{Name: "description", Value: common.TextValue("Takes three days every month.")}), nil)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	entity, _, err = merger.Merge(ctx, rawRecord(common.TypePainPoint, "survey-07", "Reconciliation delays",
		common.Attribute{Name: "description", Value: common.TextValue("Finance team works weekends.")}), entity)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	got, _ := common.FindAttribute(entity.Attributes, "description")
	if !strings.Contains(got.Text, "[interview-01] Takes three days every month.") {
		t.Errorf("missing first source attribution: %q", got.Text)
	}
	if !strings.Contains(got.Text, "[survey-07] Finance team works weekends.") {
		t.Errorf("missing second source attribution: %q", got.Text)
	}
}

func TestMergeCategoricalMajority(t *testing.T) {
	merger := NewMerger(DefaultConfig(), nil)
	ctx := context.Background()

	var entity *common.ConsolidatedEntity
	var err error
	for _, step := range []struct {
		source   string
		severity string
	}{
		{"src-a", "high"},
		{"src-b", "medium"},
		{"src-c", "high"},
	} {
		entity, _, err = merger.Merge(ctx, rawRecord(common.TypePainPoint, step.source, "Reconciliation delays",
			common.Attribute{Name: "severity", Value: common.CategoricalValue(step.severity)}), entity)
		if err != nil {
			t.Fatalf("Merge(%s) error = %v", step.source, err)
		}
	}

	got, _ := common.FindAttribute(entity.Attributes, "severity")
	if got.Text != "high" {
		t.Errorf("severity = %q, want majority %q", got.Text, "high")
	}
}

func TestMergeSameSourceDoesNotInflateSourceCount(t *testing.T) {
	merger := NewMerger(DefaultConfig(), nil)
	ctx := context.Background()

	entity, _, err := merger.Merge(ctx, rawRecord(common.TypeProcess, "src-a", "Invoice approval"), nil)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	entity, _, err = merger.Merge(ctx, rawRecord(common.TypeProcess, "src-a", "Invoice approval",
		common.Attribute{Name: "frequency", Value: common.CategoricalValue("daily")}), entity)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	if entity.SourceCount() != 1 {
		t.Errorf("source count = %d, want 1", entity.SourceCount())
	}
}

func TestMergeRecordsAlias(t *testing.T) {
	merger := NewMerger(DefaultConfig(), nil)
	ctx := context.Background()

	entity, _, err := merger.Merge(ctx, rawRecord(common.TypeSystem, "src-a", "SAP ERP"), nil)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	entity, _, err = merger.Merge(ctx, rawRecord(common.TypeSystem, "src-b", "SAP ERP Finance"), entity)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	if entity.CanonicalName != "SAP ERP" {
		t.Errorf("canonical name changed to %q", entity.CanonicalName)
	}
	aliases, _ := common.FindAttribute(entity.Attributes, "aliases")
	if !reflect.DeepEqual(aliases.List, []string{"SAP ERP Finance"}) {
		t.Errorf("aliases = %v", aliases.List)
	}
}

func TestMergeRejectsTypeMismatch(t *testing.T) {
	merger := NewMerger(DefaultConfig(), nil)
	ctx := context.Background()

	entity, _, err := merger.Merge(ctx, rawRecord(common.TypeSystem, "src-a", "SAP ERP"), nil)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	_, _, err = merger.Merge(ctx, rawRecord(common.TypeProcess, "src-b", "SAP ERP"), entity)
	if err == nil {
		t.Error("expected error merging mismatched types")
	}
}
