package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	xssh "golang.org/x/crypto/ssh"
)

// GenerateEd25519Keypair creates an ed25519 keypair, writes the private key in
// OpenSSH format and the public key next to it with a .pub suffix.
func GenerateEd25519Keypair(privateKeyPath string) (publicAuthorized string, err error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	signer, err := xssh.NewSignerFromKey(priv)
	if err != nil {
		return "", fmt.Errorf("signer: %w", err)
	}
	block, err := xssh.MarshalPrivateKey(priv, "chaindeploy")
	if err != nil {
		return "", fmt.Errorf("marshal private key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(privateKeyPath), 0700); err != nil {
		return "", fmt.Errorf("mkdir key dir: %w", err)
	}
	if err := os.WriteFile(privateKeyPath, pem.EncodeToMemory(block), 0600); err != nil {
		return "", fmt.Errorf("write private key: %w", err)
	}

	pub := xssh.MarshalAuthorizedKey(signer.PublicKey())
	if err := os.WriteFile(privateKeyPath+".pub", pub, 0644); err != nil {
		return "", fmt.Errorf("write public key: %w", err)
	}
	return string(pub), nil
}

// LoadPrivateKeySigner reads an OpenSSH/PEM private key file and returns an ssh.Signer.
// passphrase is only used when the key is encrypted.
func LoadPrivateKeySigner(privateKeyPath, passphrase string) (xssh.Signer, error) {
	data, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := xssh.ParsePrivateKey(data)
	var missing *xssh.PassphraseMissingError
	if err != nil && passphrase != "" && errors.As(err, &missing) {
		signer, err = xssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}
