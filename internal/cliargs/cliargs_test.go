package cliargs

import "testing"

func TestResolveEnvPrecedence(t *testing.T) {
	t.Setenv("CONV_TEMP_DIR", "/tmp/from-env")
	t.Setenv("CONV_TMP_DIR", "")
	t.Setenv("CONV_MEM_GB", "8")
	t.Setenv("CONVERT_BIN", "false")

	a := New()
	a.ResolveEnv()

	if a.TempDir != "/tmp/from-env" {
		t.Fatalf("TempDir = %q, want /tmp/from-env", a.TempDir)
	}
	if a.MemoryGB != 8 {
		t.Fatalf("MemoryGB = %v, want 8", a.MemoryGB)
	}
	if a.ConvertText {
		t.Fatal("expected ConvertText to be disabled by CONVERT_BIN=false")
	}
}

func TestResolveEnvDefaultTempDir(t *testing.T) {
	t.Setenv("CONV_TEMP_DIR", "")
	t.Setenv("CONV_TMP_DIR", "")
	t.Setenv("CONV_MEM_GB", "")
	t.Setenv("CONVERT_BIN", "")

	a := New()
	a.ResolveEnv()

	if a.TempDir != "./tmp" {
		t.Fatalf("TempDir = %q, want ./tmp", a.TempDir)
	}
	if a.MemoryGB != DefaultMemoryGB {
		t.Fatalf("MemoryGB = %v, want default %v", a.MemoryGB, DefaultMemoryGB)
	}
	if !a.ConvertText {
		t.Fatal("expected ConvertText to default true")
	}
}

func TestValidateRequiresOutput(t *testing.T) {
	a := New()
	a.H, a.W = 10, 10
	if err := a.Validate(); err == nil {
		t.Fatal("expected error for missing output path")
	}
}

func TestValidateRequiresDimsOrInputFile(t *testing.T) {
	a := New()
	a.OutputFile = "out.bin"
	if err := a.Validate(); err == nil {
		t.Fatal("expected error for missing dims and input file")
	}

	a.InputFile = "in.bin"
	if err := a.Validate(); err != nil {
		t.Fatalf("expected no error once input file is set: %v", err)
	}
}

func TestNeedsIdentityKernel(t *testing.T) {
	a := New()
	if !a.NeedsIdentityKernel() {
		t.Fatal("expected identity kernel fallback when no kernel source given")
	}
	a.KH, a.KW = 3, 3
	if a.NeedsIdentityKernel() {
		t.Fatal("expected no identity fallback once kernel dims are set")
	}
}

func TestHasTextSuffix(t *testing.T) {
	if !HasTextSuffix("input.txt") {
		t.Fatal("expected .txt to be recognized")
	}
	if HasTextSuffix("input.bin") {
		t.Fatal("expected .bin to not be recognized as text")
	}
}
