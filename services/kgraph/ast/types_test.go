package ast

import (
	"encoding/json"
	"testing"
)

func TestSymbolKind_String(t *testing.T) {
	tests := []struct {
		kind SymbolKind
		want string
	}{
		{SymbolKindFunction, "function"},
		{SymbolKindMethod, "method"},
		{SymbolKindClass, "class"},
		{SymbolKindInterface, "interface"},
		{SymbolKindTypeAlias, "type_alias"},
		{SymbolKindVariable, "variable"},
		{SymbolKindConstant, "constant"},
		{SymbolKindProperty, "property"},
		{SymbolKindEnum, "enum"},
		{SymbolKindUnknown, "unknown"},
		{SymbolKind(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSymbolKind_JSONRoundTrip(t *testing.T) {
	for kind, name := range symbolKindNames {
		data, err := json.Marshal(kind)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", kind, err)
		}
		if string(data) != `"`+name+`"` {
			t.Errorf("Marshal(%v) = %s, want %q", kind, data, name)
		}

		var back SymbolKind
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("Unmarshal(%s): %v", data, err)
		}
		if back != kind {
			t.Errorf("round trip: got %v, want %v", back, kind)
		}
	}
}

func TestSymbolKind_UnmarshalNumeric(t *testing.T) {
	var kind SymbolKind
	if err := json.Unmarshal([]byte("3"), &kind); err != nil {
		t.Fatalf("Unmarshal numeric: %v", err)
	}
	if kind != SymbolKindClass {
		t.Errorf("got %v, want %v", kind, SymbolKindClass)
	}

	if err := json.Unmarshal([]byte("true"), &kind); err == nil {
		t.Error("expected error for non-string non-int input")
	}
}

func TestGenerateID(t *testing.T) {
	got := GenerateID("src/resolver.ts", 42, "resolveAlias")
	want := "src/resolver.ts:42:resolveAlias"
	if got != want {
		t.Errorf("GenerateID() = %q, want %q", got, want)
	}
}

func TestLocation_String(t *testing.T) {
	loc := Location{FilePath: "src/a.ts", StartLine: 7, StartCol: 4}
	if got := loc.String(); got != "src/a.ts:7:4" {
		t.Errorf("String() = %q", got)
	}
}

func validSymbol() *Symbol {
	return &Symbol{
		ID:        GenerateID("src/a.ts", 10, "foo"),
		Name:      "foo",
		Kind:      SymbolKindFunction,
		FilePath:  "src/a.ts",
		StartLine: 10,
		EndLine:   20,
		StartCol:  0,
		EndCol:    1,
		Exported:  true,
		Language:  "typescript",
	}
}

func TestSymbol_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		if err := validSymbol().Validate(); err != nil {
			t.Errorf("Validate() = %v, want nil", err)
		}
	})

	tests := []struct {
		name   string
		mutate func(*Symbol)
		field  string
	}{
		{"empty name", func(s *Symbol) { s.Name = "" }, "Name"},
		{"empty file path", func(s *Symbol) { s.FilePath = "" }, "FilePath"},
		{"path traversal", func(s *Symbol) { s.FilePath = "../etc/passwd" }, "FilePath"},
		{"zero start line", func(s *Symbol) { s.StartLine = 0 }, "StartLine"},
		{"end before start", func(s *Symbol) { s.EndLine = 5 }, "EndLine"},
		{"negative start col", func(s *Symbol) { s.StartCol = -1 }, "StartCol"},
		{"negative end col", func(s *Symbol) { s.EndCol = -1 }, "EndCol"},
		{"empty language", func(s *Symbol) { s.Language = "" }, "Language"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSymbol()
			tt.mutate(s)
			err := s.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			var verr ValidationError
			if !asValidationError(err, &verr) {
				t.Fatalf("error type = %T, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %q, want %q", verr.Field, tt.field)
			}
		})
	}

	t.Run("invalid child", func(t *testing.T) {
		s := validSymbol()
		child := validSymbol()
		child.Name = ""
		s.Children = []*Symbol{child}
		if err := s.Validate(); err == nil {
			t.Error("Validate() = nil, want child error")
		}
	})
}

// asValidationError unwraps err into a ValidationError, directly or not.
func asValidationError(err error, target *ValidationError) bool {
	ve, ok := err.(ValidationError)
	if ok {
		*target = ve
	}
	return ok
}
