package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnexpectedReply is returned when a node answers with a line the request does not allow
	ErrUnexpectedReply = errors.New("unexpected reply")

	// ErrInvalidArgument is returned for keys that are empty or contain whitespace
	// and for values that contain a line break
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBroken is returned by every call after a call failed half way, a new connection is needed
	ErrBroken = errors.New("connection broken")
)

// Client is a connection to one node, requests are sent one at a time
type Client struct {
	mut    sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	broken error
}

func Dial(ctx context.Context, address string) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	return &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}, nil
}

// Get returns false when the key is not found
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	if err := checkKey(key); err != nil {
		return "", false, err
	}

	reply, err := c.call(ctx, "get "+key)
	if err != nil {
		return "", false, err
	}

	if reply == "NOT_FOUND" {
		return "", false, nil
	}

	prefix := "VALUE " + key + " "
	if !strings.HasPrefix(reply, prefix) {
		return "", false, fmt.Errorf("%w: %q", ErrUnexpectedReply, reply)
	}
	return strings.TrimPrefix(reply, prefix), true, nil
}

func (c *Client) Set(ctx context.Context, key string, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("%w: value contains a line break", ErrInvalidArgument)
	}
	return c.expect(ctx, "set "+key+" "+value, "STORED")
}

// Delete returns false when the key was not found
func (c *Client) Delete(ctx context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}

	reply, err := c.call(ctx, "delete "+key)
	if err != nil {
		return false, err
	}

	switch reply {
	case "DELETED":
		return true, nil
	case "NOT_FOUND":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnexpectedReply, reply)
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.expect(ctx, "ping", "PONG")
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func checkKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	if strings.ContainsAny(key, " \t\r\n") {
		return fmt.Errorf("%w: key %q contains whitespace", ErrInvalidArgument, key)
	}
	return nil
}

func (c *Client) expect(ctx context.Context, request string, expected string) error {
	reply, err := c.call(ctx, request)
	if err != nil {
		return err
	}
	if reply != expected {
		return fmt.Errorf("%w: %q", ErrUnexpectedReply, reply)
	}
	return nil
}

func (c *Client) call(ctx context.Context, request string) (string, error) {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.broken != nil {
		return "", fmt.Errorf("%w: %w", ErrBroken, c.broken)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetDeadline(deadline); err != nil {
			return "", err
		}
	} else {
		if err := c.conn.SetDeadline(time.Time{}); err != nil {
			return "", err
		}
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := io.WriteString(c.conn, request+"\n"); err != nil {
		return "", c.fail(ctx, err)
	}

	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", c.fail(ctx, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// fail closes the connection, a reply to the failed request could still arrive and be read as the next one
func (c *Client) fail(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	} else if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		// the connection deadline can fire just before the context one
		err = context.DeadlineExceeded
	}

	c.broken = err
	_ = c.conn.Close()
	return err
}
