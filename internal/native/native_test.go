package native

import "testing"

func TestSymbolsWithPrefix(t *testing.T) {
	tests := []struct {
		prefix string
		alloc  string
		write  string
	}{
		{"", "LastLayerAlloc", "LastLayerWriteMem"},
		{"LastLayer", "LastLayerAlloc", "LastLayerWriteMem"},
		{"Relu", "ReluAlloc", "ReluWriteMem"},
	}
	for _, tc := range tests {
		s := SymbolsWithPrefix(tc.prefix)
		if s.Alloc != tc.alloc {
			t.Errorf("prefix %q: Alloc = %q, want %q", tc.prefix, s.Alloc, tc.alloc)
		}
		if s.WriteMem != tc.write {
			t.Errorf("prefix %q: WriteMem = %q, want %q", tc.prefix, s.WriteMem, tc.write)
		}
	}
}
