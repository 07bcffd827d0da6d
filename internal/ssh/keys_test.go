package ssh

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	xssh "golang.org/x/crypto/ssh"
)

func TestGenerateEd25519Keypair(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "id_ed25519")
	pub, err := GenerateEd25519Keypair(priv)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := os.Stat(priv); err != nil {
		t.Fatalf("private key not written: %v", err)
	}
	if !strings.HasPrefix(pub, "ssh-ed25519 ") {
		t.Fatalf("unexpected public key %q", pub)
	}
	b, err := os.ReadFile(priv + ".pub")
	if err != nil {
		t.Fatalf("public key not written: %v", err)
	}
	if string(b) != pub {
		t.Fatalf("public key file mismatch")
	}
}

func TestLoadPrivateKeySigner(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "id_ed25519")
	pub, err := GenerateEd25519Keypair(priv)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	signer, err := LoadPrivateKeySigner(priv, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if signer.PublicKey().Type() != "ssh-ed25519" {
		t.Fatalf("unexpected key type %s", signer.PublicKey().Type())
	}
	if string(xssh.MarshalAuthorizedKey(signer.PublicKey())) != pub {
		t.Fatalf("public key mismatch")
	}
	if _, err := LoadPrivateKeySigner(filepath.Join(dir, "missing"), ""); err == nil {
		t.Fatalf("expected error for missing key")
	}
}

func TestMakeConfigRequiresAuth(t *testing.T) {
	c := &Client{Addr: "127.0.0.1:22", User: "root"}
	if _, err := c.makeConfig(); err == nil {
		t.Fatalf("expected error without signer or password")
	}
	c.Password = "secret"
	if _, err := c.makeConfig(); err == nil {
		t.Fatalf("expected error without host key callback")
	}
}
