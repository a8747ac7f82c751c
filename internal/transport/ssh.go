package transport

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/acolita/ashell-monkey/internal/ports"
)

// SSHOptions configures a console-server connection.
type SSHOptions struct {
	KeyPath        string // private key, "~/" is expanded
	KeyPassphrase  string
	UseAgent       bool
	Password       string
	KnownHostsPath string // empty means ~/.ssh/known_hosts
	Insecure       bool   // skip host key verification
	Command        string // remote command; empty requests a shell
	Term           string
}

// sshConn is one session on a console server.
type sshConn struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

func dialSSH(ep Endpoint, cfg Options, deps Deps) (*sshConn, error) {
	opts := cfg.SSH
	fs := deps.FS
	user := ep.User
	if user == "" {
		user = fs.Getenv("USER")
	}
	if user == "" {
		return nil, fmt.Errorf("ssh %s: no user", ep.Address)
	}

	auth, err := buildAuthMethods(opts, fs, deps.Dialer)
	if err != nil {
		return nil, fmt.Errorf("ssh %s: %w", ep.Address, err)
	}

	hostKey, err := buildHostKeyCallback(opts, fs)
	if err != nil {
		return nil, fmt.Errorf("ssh %s: %w", ep.Address, err)
	}

	clientCfg := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         cfg.DialTimeout,
	}

	client, err := deps.SSHDialer.Dial("tcp", ep.Address, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", ep.Address, err)
	}

	conn, err := openConsole(client, opts, cfg.Baud)
	if err != nil {
		client.Close()
		return nil, err
	}
	return conn, nil
}

func openConsole(client *ssh.Client, opts SSHOptions, baud int) (*sshConn, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	term := opts.Term
	if term == "" {
		term = "dumb"
	}
	speed := uint32(baud)
	modes := ssh.TerminalModes{
		ssh.ECHO:          0, // the device echoes on its own
		ssh.TTY_OP_ISPEED: speed,
		ssh.TTY_OP_OSPEED: speed,
	}
	if err := session.RequestPty(term, 40, 120, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if opts.Command != "" {
		err = session.Start(opts.Command)
	} else {
		err = session.Shell()
	}
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("start console: %w", err)
	}

	return &sshConn{client: client, session: session, stdin: stdin, stdout: stdout}, nil
}

func (c *sshConn) Read(b []byte) (int, error) {
	return c.stdout.Read(b)
}

func (c *sshConn) Write(b []byte) (int, error) {
	return c.stdin.Write(b)
}

func (c *sshConn) Close() error {
	err := c.session.Close()
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return errors.Join(err, c.client.Close())
}

// buildAuthMethods orders methods as agent, key file, then password.
func buildAuthMethods(opts SSHOptions, fs ports.FileSystem, netDialer ports.NetworkDialer) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if opts.UseAgent {
		if socket := fs.Getenv("SSH_AUTH_SOCK"); socket != "" {
			if conn, err := netDialer.Dial("unix", socket); err == nil {
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			}
		}
	}

	if opts.KeyPath != "" {
		keyData, err := fs.ReadFile(expandHome(opts.KeyPath, fs))
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		var signer ssh.Signer
		if opts.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(opts.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyData)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if opts.Password != "" {
		password := opts.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		return nil, errors.New("no authentication methods available")
	}
	return methods, nil
}

func buildHostKeyCallback(opts SSHOptions, fs ports.FileSystem) (ssh.HostKeyCallback, error) {
	if opts.Insecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	path := opts.KnownHostsPath
	if path == "" {
		path = "~/.ssh/known_hosts"
	}
	path = expandHome(path, fs)
	if _, err := fs.Stat(path); err != nil {
		return nil, fmt.Errorf("known_hosts %s: %w (set transport.ssh.insecure to skip verification)", path, err)
	}

	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return cb, nil
}

func expandHome(path string, fs ports.FileSystem) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := fs.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}
