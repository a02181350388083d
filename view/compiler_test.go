package view

import (
	"strings"
	"testing"

	"github.com/nlpnorth/decaf/constraint"
)

func TestCompileUnscopedTerminalView(t *testing.T) {
	f := constraint.NewFilter(constraint.NewCondition("upos", "NOUN"))
	plan, err := Compile(f, OutputNone, "")
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if plan.TerminalView != "filtered_substructures" {
		t.Errorf("TerminalView = %q, want filtered_substructures", plan.TerminalView)
	}
	if !strings.Contains(plan.SQL, "relevant_structures AS") {
		t.Errorf("SQL missing relevant_structures view: %s", plan.SQL)
	}
}

func TestCompileLiteralFilterUsesFilteredLiterals(t *testing.T) {
	f := constraint.NewFilter(constraint.NewCondition("token").WithLiteral("dog"))
	plan, err := Compile(f, OutputNone, "")
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if plan.TerminalView != "filtered_literals" {
		t.Errorf("TerminalView = %q, want filtered_literals", plan.TerminalView)
	}
	if !strings.Contains(plan.SQL, "GROUP_CONCAT") {
		t.Errorf("SQL missing literal aggregation: %s", plan.SQL)
	}
}

func TestCompileSequentialUsesFilteredSequences(t *testing.T) {
	f := constraint.NewFilter(constraint.NewAll(
		constraint.NewCondition("upos", "ADJ"),
		constraint.NewCondition("upos", "NOUN"),
	)).WithSequential()
	plan, err := Compile(f, OutputNone, "")
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if plan.TerminalView != "filtered_sequences" {
		t.Errorf("TerminalView = %q, want filtered_sequences", plan.TerminalView)
	}
	if !strings.Contains(plan.SQL, "seq0.start < seq1.start") {
		t.Errorf("SQL missing offset-ordering join: %s", plan.SQL)
	}
}

func TestCompileHierarchySubstructures(t *testing.T) {
	f := constraint.NewFilter(constraint.NewAll(
		constraint.NewCondition("upos", "ADJ").WithMinCount(1),
		constraint.NewCondition("upos", "NOUN").WithMinCount(1),
	)).WithHierarchy("sentence", "token")
	plan, err := Compile(f, OutputSubstructures, "")
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if plan.TerminalView != "filtered_constrained_substructures" {
		t.Errorf("TerminalView = %q, want filtered_constrained_substructures", plan.TerminalView)
	}
	if !strings.Contains(plan.SQL, "filtered_structures AS") {
		t.Errorf("SQL missing grouped view: %s", plan.SQL)
	}
	if !strings.Contains(plan.SQL, `par.type = 'sentence'`) {
		t.Errorf("SQL missing parent scoping: %s", plan.SQL)
	}
}

func TestCompileHierarchyStructures(t *testing.T) {
	f := constraint.NewFilter(constraint.NewCondition("upos", "NOUN").WithMinCount(1)).
		WithHierarchy("sentence", "token")
	plan, err := Compile(f, OutputStructures, "")
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if plan.TerminalView != "filtered_structures" {
		t.Errorf("TerminalView = %q, want filtered_structures", plan.TerminalView)
	}
	if !strings.Contains(plan.OutputColumns, "DISTINCT structure_id") {
		t.Errorf("OutputColumns = %q, want DISTINCT structure_id", plan.OutputColumns)
	}
}

func TestCompileHierarchyWithoutOutputLevelIsConfigurationError(t *testing.T) {
	f := constraint.NewFilter(constraint.NewCondition("upos", "NOUN")).
		WithHierarchy("sentence", "token")
	_, err := Compile(f, OutputNone, "")
	if err == nil {
		t.Fatal("Compile() error = nil, want Configuration error")
	}
}

func TestCompileOutputStructuresWithoutHierarchyIsConfigurationError(t *testing.T) {
	f := constraint.NewFilter(constraint.NewCondition("upos", "NOUN"))
	_, err := Compile(f, OutputStructures, "")
	if err == nil {
		t.Fatal("Compile() error = nil, want Configuration error")
	}
}

func TestCompileViewPrefixNamesEveryView(t *testing.T) {
	f := constraint.NewFilter(constraint.NewCondition("upos", "NOUN"))
	plan, err := Compile(f, OutputNone, "source_")
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if plan.TerminalView != "source_filtered_substructures" {
		t.Errorf("TerminalView = %q, want source_filtered_substructures", plan.TerminalView)
	}
	if !strings.Contains(plan.SQL, "source_relevant_structures AS") {
		t.Errorf("SQL missing prefixed relevant_structures view: %s", plan.SQL)
	}
}
