package ast

import (
	"strings"
	"testing"
)

func TestBuildImportMaps(t *testing.T) {
	result := &ParseResult{
		FilePath: "src/b.ts",
		Language: "typescript",
		Imports: []Import{
			{
				Path:  "./a",
				Names: []string{"foo", "bar"},
				Renames: map[string]string{
					"bar": "originalBar",
				},
				IsRelative: true,
			},
			{
				Path:      "./widget",
				Alias:     "Widget",
				IsDefault: true,
			},
			{
				Path:        "./helpers",
				Alias:       "NS",
				IsNamespace: true,
			},
		},
	}

	importMap, symbolMap := result.BuildImportMaps()

	wantPaths := map[string]string{
		"foo":    "./a",
		"bar":    "./a",
		"Widget": "./widget",
		"NS":     "./helpers",
	}
	for alias, path := range wantPaths {
		if importMap[alias] != path {
			t.Errorf("importMap[%q] = %q, want %q", alias, importMap[alias], path)
		}
	}
	if len(importMap) != len(wantPaths) {
		t.Errorf("importMap has %d entries, want %d", len(importMap), len(wantPaths))
	}

	// Only renamed and default bindings appear in the symbol map.
	if symbolMap["bar"] != "originalBar" {
		t.Errorf("symbolMap[bar] = %q, want %q", symbolMap["bar"], "originalBar")
	}
	if symbolMap["Widget"] != "default" {
		t.Errorf("symbolMap[Widget] = %q, want %q", symbolMap["Widget"], "default")
	}
	if _, ok := symbolMap["foo"]; ok {
		t.Error("symbolMap should not contain un-renamed selective imports")
	}
}

func TestParseResult_SymbolCount(t *testing.T) {
	leaf := func(name string, line int) *Symbol {
		s := validSymbol()
		s.Name = name
		s.StartLine = line
		s.EndLine = line
		return s
	}

	class := leaf("Widget", 1)
	class.EndLine = 50
	class.Children = []*Symbol{leaf("render", 5), leaf("update", 20)}

	result := &ParseResult{
		FilePath: "src/a.ts",
		Language: "typescript",
		Symbols:  []*Symbol{class, leaf("helper", 60)},
	}

	if got := result.SymbolCount(); got != 4 {
		t.Errorf("SymbolCount() = %d, want 4", got)
	}

	empty := &ParseResult{FilePath: "src/a.ts", Language: "typescript"}
	if got := empty.SymbolCount(); got != 0 {
		t.Errorf("SymbolCount() on empty = %d, want 0", got)
	}
}

func TestParseResult_Validate(t *testing.T) {
	tests := []struct {
		name    string
		result  ParseResult
		wantErr bool
	}{
		{
			name:    "valid minimal",
			result:  ParseResult{FilePath: "src/a.ts", Language: "typescript"},
			wantErr: false,
		},
		{
			name:    "missing file path",
			result:  ParseResult{Language: "typescript"},
			wantErr: true,
		},
		{
			name:    "path traversal",
			result:  ParseResult{FilePath: "../../secrets", Language: "typescript"},
			wantErr: true,
		},
		{
			name:    "missing language",
			result:  ParseResult{FilePath: "src/a.ts"},
			wantErr: true,
		},
		{
			name: "assignment without operator",
			result: ParseResult{
				FilePath: "src/a.ts",
				Language: "typescript",
				Assignments: []Assignment{
					{Targets: []AssignTarget{{Name: "x"}}},
				},
			},
			wantErr: true,
		},
		{
			name: "assignment without targets",
			result: ParseResult{
				FilePath: "src/a.ts",
				Language: "typescript",
				Assignments: []Assignment{
					{Operator: "="},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.result.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeParseResult(t *testing.T) {
	t.Run("valid document", func(t *testing.T) {
		doc := `{
			"file_path": "src/b.ts",
			"language": "typescript",
			"symbols": [
				{
					"id": "src/b.ts:3:useWidget",
					"name": "useWidget",
					"kind": "function",
					"file_path": "src/b.ts",
					"start_line": 3,
					"end_line": 9,
					"start_col": 0,
					"end_col": 1,
					"exported": true,
					"language": "typescript"
				}
			],
			"imports": [
				{"path": "./a", "names": ["foo"], "is_relative": true,
				 "location": {"file_path": "src/b.ts", "start_line": 1, "end_line": 1, "start_col": 0, "end_col": 30}}
			],
			"hash": "abc123"
		}`

		result, err := DecodeParseResult([]byte(doc))
		if err != nil {
			t.Fatalf("DecodeParseResult() error = %v", err)
		}
		if result.FilePath != "src/b.ts" {
			t.Errorf("FilePath = %q", result.FilePath)
		}
		if len(result.Symbols) != 1 || result.Symbols[0].Kind != SymbolKindFunction {
			t.Errorf("symbols not decoded: %+v", result.Symbols)
		}
		if len(result.Imports) != 1 || result.Imports[0].Path != "./a" {
			t.Errorf("imports not decoded: %+v", result.Imports)
		}
	})

	t.Run("malformed JSON", func(t *testing.T) {
		_, err := DecodeParseResult([]byte("{not json"))
		if err == nil {
			t.Fatal("expected decode error")
		}
		if !strings.Contains(err.Error(), "decode parse result") {
			t.Errorf("error = %v, want decode wrapping", err)
		}
	})

	t.Run("fails validation", func(t *testing.T) {
		_, err := DecodeParseResult([]byte(`{"file_path": "", "language": "go"}`))
		if err == nil {
			t.Fatal("expected validation error")
		}
		if !strings.Contains(err.Error(), "invalid parse result") {
			t.Errorf("error = %v, want validation wrapping", err)
		}
	})
}

func TestExportDecl_IsReExport(t *testing.T) {
	terminal := ExportDecl{Name: "foo"}
	if terminal.IsReExport() {
		t.Error("terminal export reported as re-export")
	}
	re := ExportDecl{Name: "foo", From: "./a"}
	if !re.IsReExport() {
		t.Error("re-export not detected")
	}
}
