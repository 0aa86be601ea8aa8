package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		for _, name := range []string{"g", "p", "m"} {
			formulaEvalCmd.Flags().Set(name, "0")
		}
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestFormulaEval(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{"plain", []string{"formula", "eval", "G*2+10", "--g", "40"}, "90 (reward 90)", false},
		{"leading minus after dashes", []string{"formula", "eval", "--g", "40", "--", "-G+50"}, "10 (reward 10)", false},
		{"negative clamps reward", []string{"formula", "eval", "--g", "10", "--", "--G"}, "-10 (reward 0)", false},
		{"invalid formula", []string{"formula", "eval", "G^2"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runRoot(t, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !strings.Contains(out, tt.want) {
				t.Errorf("output = %q, want %q", out, tt.want)
			}
		})
	}
}

func TestFormulaEval_LeadingMinusWithoutDashes(t *testing.T) {
	if _, err := runRoot(t, "formula", "eval", "-G+50"); err == nil {
		t.Error("Execute() error = nil, want unknown flag error")
	}
}
