package sshtransport

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"golang.org/x/crypto/ssh"
)

// ChannelKind is a closed set of channel types a Transport can open:
// interactive shell with PTY, one-shot command executor, or a named
// subsystem. The unexported marker keeps the set closed; OpenChannel
// dispatches with an exhaustive type switch.
type ChannelKind interface {
	channelKind()
	// Kind returns the wire-facing name ("shell", "exec", "subsystem").
	Kind() string
}

// ShellChannel requests a PTY with the given geometry and starts a shell.
type ShellChannel struct {
	Cols uint16
	Rows uint16
	// Term is the terminal type requested with the PTY; defaults to
	// "xterm-256color".
	Term string
}

func (ShellChannel) channelKind() {}
func (ShellChannel) Kind() string { return "shell" }

// ExecChannel starts one command without a PTY. The command runs to
// completion; its exit status is reported by Channel.Wait.
type ExecChannel struct {
	Command string
}

func (ExecChannel) channelKind() {}
func (ExecChannel) Kind() string { return "exec" }

// SubsystemChannel negotiates a named server-side subsystem (e.g. "sftp")
// and yields a raw byte channel the caller then owns exclusively.
type SubsystemChannel struct {
	Name string
}

func (SubsystemChannel) channelKind() {}
func (SubsystemChannel) Kind() string { return "subsystem" }

// Channel is one bidirectional byte stream bound to a Transport. It lives no
// longer than its owning Transport's connection.
type Channel struct {
	kind string
	sess *ssh.Session

	Stdin  io.WriteCloser
	Stdout io.Reader
	Stderr io.Reader

	closeOnce sync.Once
	closeErr  error
}

// OpenChannel negotiates a channel of the given kind on the live connection.
// Server refusal of the channel, PTY, shell, or subsystem request is reported
// as ErrChannel.
func (t *Transport) OpenChannel(kind ChannelKind) (*Channel, error) {
	client, err := t.clientHandle()
	if err != nil {
		return nil, err
	}

	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s channel: %v", ErrChannel, kind.Kind(), err)
	}

	ch := &Channel{kind: kind.Kind(), sess: sess}
	if ch.Stdin, err = sess.StdinPipe(); err != nil {
		sess.Close()
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrChannel, err)
	}
	if ch.Stdout, err = sess.StdoutPipe(); err != nil {
		sess.Close()
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrChannel, err)
	}
	if ch.Stderr, err = sess.StderrPipe(); err != nil {
		sess.Close()
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrChannel, err)
	}

	switch k := kind.(type) {
	case ShellChannel:
		term := k.Term
		if term == "" {
			term = "xterm-256color"
		}
		modes := ssh.TerminalModes{
			ssh.ECHO:          1,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
		if err := sess.RequestPty(term, int(k.Rows), int(k.Cols), modes); err != nil {
			sess.Close()
			return nil, fmt.Errorf("%w: request pty: %v", ErrChannel, err)
		}
		if err := sess.Shell(); err != nil {
			sess.Close()
			return nil, fmt.Errorf("%w: start shell: %v", ErrChannel, err)
		}

	case ExecChannel:
		if err := sess.Start(k.Command); err != nil {
			sess.Close()
			return nil, fmt.Errorf("%w: start command: %v", ErrChannel, err)
		}

	case SubsystemChannel:
		if err := sess.RequestSubsystem(k.Name); err != nil {
			sess.Close()
			return nil, fmt.Errorf("%w: subsystem %q: %v", ErrChannel, k.Name, err)
		}

	default:
		sess.Close()
		return nil, fmt.Errorf("%w: unsupported channel kind %T", ErrChannel, kind)
	}

	log.Printf("[transport] %s opened %s channel", t.ID, kind.Kind())
	return ch, nil
}

// Kind returns the channel's kind name.
func (c *Channel) Kind() string { return c.kind }

// WindowChange sends a window-change control message with the new geometry.
// Only meaningful on shell channels.
func (c *Channel) WindowChange(cols, rows uint16) error {
	if err := c.sess.WindowChange(int(rows), int(cols)); err != nil {
		return fmt.Errorf("%w: window change: %v", ErrChannel, err)
	}
	return nil
}

// Wait blocks until the remote half of the channel terminates and returns
// the exit status. A channel closed without an explicit exit-status message
// reports 0.
func (c *Channel) Wait() (int, error) {
	err := c.sess.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	var missingErr *ssh.ExitMissingError
	switch {
	case errors.As(err, &exitErr):
		return exitErr.ExitStatus(), nil
	case errors.As(err, &missingErr):
		return 0, nil
	default:
		return 0, fmt.Errorf("channel wait: %w", err)
	}
}

// Close releases the channel. Safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		if err := c.sess.Close(); err != nil && err != io.EOF {
			c.closeErr = err
		}
	})
	return c.closeErr
}
