package main

import (
	"bytes"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"ballotguard.org/internal/session"
)

func TestRunHashPassword(t *testing.T) {
	var out bytes.Buffer
	if err := runHashPassword(strings.NewReader("correct horse\n"), &out, false); err != nil {
		t.Fatalf("runHashPassword: %v", err)
	}
	hash := strings.TrimSpace(out.String())
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("correct horse")); err != nil {
		t.Fatalf("hash does not verify: %v", err)
	}

	if err := runHashPassword(strings.NewReader("\n"), &out, false); err == nil {
		t.Fatalf("expected error for empty password")
	}
}

func TestRunHashPasswordArgon2(t *testing.T) {
	var out bytes.Buffer
	if err := runHashPassword(strings.NewReader("correct horse"), &out, true); err != nil {
		t.Fatalf("runHashPassword: %v", err)
	}
	hash := strings.TrimSpace(out.String())
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("unexpected hash %q", hash)
	}
	if err := session.VerifyPassword(hash, "correct horse"); err != nil {
		t.Fatalf("hash does not verify: %v", err)
	}
}

func TestRunRolesDefaultTable(t *testing.T) {
	var out bytes.Buffer
	if err := runRoles("", &out); err != nil {
		t.Fatalf("runRoles: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 10 {
		t.Fatalf("expected header plus 9 roles, got %d lines:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[1], "SystemAdministrator") || !strings.Contains(lines[1], "*") {
		t.Fatalf("top rank role should come first with all permissions: %q", lines[1])
	}
	if !strings.HasPrefix(lines[len(lines)-1], "Voter") {
		t.Fatalf("voter should be last: %q", lines[len(lines)-1])
	}
}

func TestRunRolesMissingFile(t *testing.T) {
	if err := runRoles("/nonexistent/roles.yaml", &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error")
	}
}
