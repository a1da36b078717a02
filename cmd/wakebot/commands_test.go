package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil || strings.TrimSpace(out) != version {
		t.Fatalf("version = %q, %v", out, err)
	}
}

func TestValidateAndCheck(t *testing.T) {
	dir := t.TempDir()
	sheet := filepath.Join(dir, "sheet.csv")
	if err := os.WriteFile(sheet, []byte("h,h,h,h,h,h,h\nt,KD,06:00,pg,train,KD,5\nt,X,??,a,b,KD,5\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "wakebot.yaml")
	body := "source:\n  path: " + sheet + "\nrecipients:\n  KD: \"log:kd\"\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "validate", "-c", cfgPath)
	if err != nil || !strings.Contains(out, "ok (1 recipients") {
		t.Fatalf("validate = %q, %v", out, err)
	}

	out, err = run(t, "check", "-c", cfgPath)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out, "KD") || !strings.Contains(out, "rejected: invalid time format") {
		t.Fatalf("check output = %q", out)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "wakebot.json")
	if err := os.WriteFile(cfgPath, []byte(`{"recipients": {}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "validate", "-c", cfgPath); err == nil {
		t.Fatal("expected validation error")
	}
}
