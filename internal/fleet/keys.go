package fleet

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/crypto/ssh"
)

// DefaultKeyName is the key name looked up, and registered, when no key is
// configured explicitly.
const DefaultKeyName = "buildkey"

// ErrKeyDeclined is returned when no key exists and the user declined to
// create one.
var ErrKeyDeclined = errors.New("no SSH key available; create one with 'hcloud ssh-key create' or set HETZNER_SSH_KEY")

// SSHKey is the key a server is created with.
type SSHKey struct {
	Name string
	// PrivateKeyFile is set when the key was generated locally and must be
	// used for connecting.
	PrivateKeyFile string
}

// KeyRequest controls EnsureSSHKey.
type KeyRequest struct {
	// Configured is an explicit key name; when set it is used as is.
	Configured string
	// LocalKeyFile is where a generated private key is written.
	LocalKeyFile string
	// Confirm asks the user whether to generate and register a key.
	Confirm func(question string) (bool, error)
}

// EnsureSSHKey resolves the registered key a new server is created with:
// an explicit name wins, then an existing DefaultKeyName, and finally, with
// the user's consent, a freshly generated key registered as DefaultKeyName.
func (c *Client) EnsureSSHKey(ctx context.Context, req KeyRequest) (SSHKey, error) {
	if name := strings.TrimSpace(req.Configured); name != "" {
		c.log().Info("Using configured SSH key: " + name)
		return SSHKey{Name: name}, nil
	}

	names, err := c.SSHKeys(ctx)
	if err != nil {
		// Authentication problems surface again, with detail, at creation.
		c.logger().Debug("ssh-key list failed", "err", err)
	}
	if slices.Contains(names, DefaultKeyName) {
		c.log().Info(fmt.Sprintf("Found existing '%s' on Hetzner.", DefaultKeyName))
		return SSHKey{Name: DefaultKeyName}, nil
	}

	c.log().Warn(fmt.Sprintf("No '%s' found on Hetzner and HETZNER_SSH_KEY not set.", DefaultKeyName))
	if req.Confirm == nil {
		return SSHKey{}, ErrKeyDeclined
	}
	ok, err := req.Confirm(fmt.Sprintf("Would you like to generate and upload a new SSH key named '%s'? (y/N) ", DefaultKeyName))
	if err != nil {
		return SSHKey{}, fmt.Errorf("%w: %v", ErrKeyDeclined, err)
	}
	if !ok {
		return SSHKey{}, ErrKeyDeclined
	}

	if _, err := os.Stat(req.LocalKeyFile); errors.Is(err, os.ErrNotExist) {
		c.log().Info("Generating local key at " + req.LocalKeyFile + "...")
		if err := GenerateKeyPair(req.LocalKeyFile, "htzbuild-auto-generated"); err != nil {
			return SSHKey{}, err
		}
	} else if err != nil {
		return SSHKey{}, err
	}

	c.log().Info(fmt.Sprintf("Uploading '%s' to Hetzner...", DefaultKeyName))
	if err := c.RegisterSSHKey(ctx, DefaultKeyName, req.LocalKeyFile+".pub"); err != nil {
		return SSHKey{}, err
	}
	return SSHKey{Name: DefaultKeyName, PrivateKeyFile: req.LocalKeyFile}, nil
}

// GenerateKeyPair writes an ed25519 private key in OpenSSH format to path
// and its authorized_keys line to path.pub.
func GenerateKeyPair(path, comment string) error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}
	authorized := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub)))
	if comment != "" {
		authorized += " " + comment
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return err
	}
	return os.WriteFile(path+".pub", []byte(authorized+"\n"), 0o644)
}
