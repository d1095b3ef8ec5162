// Package fleet creates and destroys build servers through the hcloud CLI.
package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/antonkrylov/htzbuild/internal/console"
	"github.com/antonkrylov/htzbuild/internal/runner"
)

// ErrCreate marks a failed or unparsable server creation.
var ErrCreate = errors.New("server creation failed")

// Instance describes a provisioned server.
type Instance struct {
	ID         string
	Name       string
	PublicIPv4 string
	ServerType string
	Location   string
	Image      string
}

// CreateSpec is the input to Create.
type CreateSpec struct {
	Name         string
	ServerType   string
	Image        string
	Location     string
	SSHKey       string
	UserDataFile string
	Labels       map[string]string
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Client wraps the hcloud binary.
type Client struct {
	Runner runner.Runner
	Log    console.Logger
	Logger *slog.Logger
	// Binary defaults to "hcloud".
	Binary string
}

func (c *Client) bin() string {
	if c.Binary != "" {
		return c.Binary
	}
	return "hcloud"
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return discardLogger
	}
	return c.Logger
}

func (c *Client) log() console.Logger {
	if c.Log == nil {
		return console.Discard()
	}
	return c.Log
}

func (c *Client) run(ctx context.Context, args ...string) (runner.Result, error) {
	return c.Runner.Run(ctx, runner.Command{Name: c.bin(), Args: args})
}

// ActiveContext reports whether hcloud has an active context configured,
// which stands in for HCLOUD_TOKEN.
func (c *Client) ActiveContext(ctx context.Context) bool {
	res, err := c.run(ctx, "context", "active")
	return err == nil && res.OK() && res.Stdout != ""
}

type createResponse struct {
	Server *struct {
		ID        json.Number `json:"id"`
		Name      string      `json:"name"`
		PublicNet struct {
			IPv4 *struct {
				IP string `json:"ip"`
			} `json:"ipv4"`
		} `json:"public_net"`
		ServerType struct {
			Name string `json:"name"`
		} `json:"server_type"`
		Datacenter struct {
			Location struct {
				Name string `json:"name"`
			} `json:"location"`
		} `json:"datacenter"`
		Image *struct {
			Name string `json:"name"`
		} `json:"image"`
	} `json:"server"`
}

// Create provisions a server and waits for hcloud to report it running.
// When the response names a server but lacks a usable address, the returned
// Instance still carries the ID so the caller can destroy it.
func (c *Client) Create(ctx context.Context, spec CreateSpec) (Instance, error) {
	args := []string{
		"server", "create",
		"--name", spec.Name,
		"--type", spec.ServerType,
		"--image", spec.Image,
		"--location", spec.Location,
		"--ssh-key", spec.SSHKey,
	}
	if spec.UserDataFile != "" {
		args = append(args, "--user-data-from-file", spec.UserDataFile)
	}
	for _, k := range sortedKeys(spec.Labels) {
		args = append(args, "--label", k+"="+spec.Labels[k])
	}
	args = append(args, "--poll-interval", "1s", "--output", "json")

	res, err := c.run(ctx, args...)
	if err != nil {
		return Instance{}, fmt.Errorf("%w: %v", ErrCreate, err)
	}
	if !res.OK() {
		msg := res.Stderr
		if msg == "" {
			msg = "hcloud exited with status " + strconv.Itoa(res.ExitCode)
		}
		return Instance{}, fmt.Errorf("%w: %s", ErrCreate, msg)
	}
	return parseCreate(res.Stdout, spec)
}

func parseCreate(out string, spec CreateSpec) (Instance, error) {
	var resp createResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &resp); err != nil {
		return Instance{}, fmt.Errorf("%w: unable to parse server creation response: %v", ErrCreate, err)
	}
	if resp.Server == nil || resp.Server.ID.String() == "" {
		return Instance{}, fmt.Errorf("%w: unable to parse server creation response", ErrCreate)
	}
	s := resp.Server
	inst := Instance{
		ID:         s.ID.String(),
		Name:       s.Name,
		ServerType: s.ServerType.Name,
		Location:   s.Datacenter.Location.Name,
		Image:      spec.Image,
	}
	if inst.Name == "" {
		inst.Name = spec.Name
	}
	if inst.ServerType == "" {
		inst.ServerType = spec.ServerType
	}
	if inst.Location == "" {
		inst.Location = spec.Location
	}
	if s.Image != nil && s.Image.Name != "" {
		inst.Image = s.Image.Name
	}
	if s.PublicNet.IPv4 == nil || s.PublicNet.IPv4.IP == "" {
		return inst, fmt.Errorf("%w: unable to determine server IP address", ErrCreate)
	}
	inst.PublicIPv4 = s.PublicNet.IPv4.IP
	return inst, nil
}

// Destroy deletes the server. Failures are logged and never returned since
// Destroy runs on cleanup paths that must keep going.
func (c *Client) Destroy(ctx context.Context, id string) {
	if id == "" {
		return
	}
	res, err := c.run(ctx, "server", "delete", id, "--poll-interval", "1s")
	switch {
	case err != nil:
		c.logger().Error("server delete", "id", id, "err", err)
		c.log().Error(fmt.Sprintf("Failed to delete server %s: %v", id, err))
	case !res.OK():
		c.logger().Error("server delete", "id", id, "exit", res.ExitCode, "stderr", res.Stderr)
		c.log().Error(fmt.Sprintf("Failed to delete server %s: %s", id, res.Stderr))
	default:
		c.log().Success("Server deleted")
	}
}

// SSHKeys lists the names of the keys registered with the project.
func (c *Client) SSHKeys(ctx context.Context) ([]string, error) {
	res, err := c.run(ctx, "ssh-key", "list", "-o", "noheader", "-o", "columns=name")
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, fmt.Errorf("hcloud ssh-key list: %s", res.Stderr)
	}
	var names []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// RegisterSSHKey uploads a public key file under name.
func (c *Client) RegisterSSHKey(ctx context.Context, name, publicKeyFile string) error {
	res, err := c.run(ctx, "ssh-key", "create", "--name", name, "--public-key-from-file", publicKeyFile)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("hcloud ssh-key create: %s", res.Stderr)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
