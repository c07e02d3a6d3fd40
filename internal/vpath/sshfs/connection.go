// Package sshfs implements the SSH/SFTP Path backend, URIs of the form
// ssh://host/path. Grounded on rclone's backend/sftp/sftp.go conn/pool
// shape, adapted to a "one reusable client per host" model rather than a
// connection pool, since a single-pane file manager only ever has one
// active session per remote host at a time.
package sshfs

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/shimomut/tfm/internal/vpath"
)

// HostConfig is the per-host connection configuration, normally filled in
// from ~/.ssh/config but overridable for tests.
type HostConfig struct {
	HostName string
	Port     string
	User     string
	KeyFile  string
}

// conn wraps one SSH+SFTP session, mirroring rclone's sftp.conn pairing of
// an ssh.Client with an sftp.Client.
type conn struct {
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

func (c *conn) closed() bool {
	if c.sshClient == nil {
		return true
	}
	_, _, _, err := c.sshClient.Conn.SendRequest("keepalive@tfm", true, nil)
	return err != nil
}

func (c *conn) close() {
	if c.sftpClient != nil {
		c.sftpClient.Close()
	}
	if c.sshClient != nil {
		c.sshClient.Close()
	}
}

// Manager keeps at most one live connection per host, reconnecting lazily
// on first use or after the prior connection drops.
type Manager struct {
	mu    sync.Mutex
	conns map[string]*conn
}

// NewManager returns an empty connection manager. A process normally has
// exactly one Manager, shared by every ssh:// Backend it creates.
func NewManager() *Manager {
	return &Manager{conns: make(map[string]*conn)}
}

// Get returns the live *sftp.Client for host, dialing (or redialing, if the
// cached connection died) as needed.
func (m *Manager) Get(host string, cfg HostConfig) (*sftp.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.conns[host]; ok {
		if !c.closed() {
			return c.sftpClient, nil
		}
		c.close()
		delete(m.conns, host)
	}

	c, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	m.conns[host] = c
	return c.sftpClient, nil
}

// CloseAll tears down every live connection, used on process shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for host, c := range m.conns {
		c.close()
		delete(m.conns, host)
	}
}

func dial(cfg HostConfig) (*conn, error) {
	clientConfig, err := buildClientConfig(cfg)
	if err != nil {
		return nil, vpath.NewErrorf(vpath.KindConfigurationError, err, "building ssh client config for %s", cfg.HostName)
	}
	port := cfg.Port
	if port == "" {
		port = "22"
	}
	addr := net.JoinHostPort(cfg.HostName, port)
	sshClient, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		return nil, vpath.NewErrorf(vpath.KindIoError, err, "dialing ssh %s", addr)
	}
	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, vpath.NewErrorf(vpath.KindIoError, err, "starting sftp subsystem on %s", addr)
	}
	return &conn{sshClient: sshClient, sftpClient: sftpClient}, nil
}

// buildClientConfig assembles an *ssh.ClientConfig from an ssh-agent (if
// SSH_AUTH_SOCK is set), a private key file, and known_hosts host key
// verification, falling back to ssh.InsecureIgnoreHostKey only when
// known_hosts can't be loaded at all.
func buildClientConfig(cfg HostConfig) (*ssh.ClientConfig, error) {
	usr := cfg.User
	if usr == "" {
		if u, err := user.Current(); err == nil {
			usr = u.Username
		}
	}

	var methods []ssh.AuthMethod
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	keyFile := cfg.KeyFile
	if keyFile == "" {
		keyFile = defaultKeyFile()
	}
	if keyFile != "" {
		if signer, err := loadSigner(keyFile); err == nil {
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no ssh authentication method available (no agent, no usable key at %s)", keyFile)
	}

	hostKeyCallback, err := knownHostsCallback()
	if err != nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            usr,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         15 * time.Second,
	}, nil
}

func defaultKeyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		candidate := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func loadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(data)
}

func knownHostsCallback() (ssh.HostKeyCallback, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return knownhosts.New(filepath.Join(home, ".ssh", "known_hosts"))
}
