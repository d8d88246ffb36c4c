package comms

import (
	"context"
	"encoding/hex"
	"fmt"
	"go_tftp/constants"
	"go_tftp/fileio"
	"go_tftp/networking"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

var ErrUnknownHost = errors.New("unknown host")

// Options configures a Client. Zero values fall back to constants.
type Options struct {
	ServerPort int
	LocalPort  int
	Timeout    time.Duration
	MaxRetries int
	DSCP       int
	Dir        string // Downloads are written here under the requested name
	Hashing    uint8
	Factory    fileio.IOFactory
	Out        io.Writer // Operator messages
}

// Client downloads files over one endpoint, one transfer at a time
type Client struct {
	opts     Options
	ep       *networking.Endpoint
	server   *net.UDPAddr
	previous *net.UDPAddr // Transfer port of the last download
	logger   *log.Logger
}

// NewClient binds the client endpoint
func NewClient(opts Options) (*Client, error) {
	if opts.ServerPort == 0 {
		opts.ServerPort = constants.DEFAULT_PORT
	}
	if opts.Timeout == 0 {
		opts.Timeout = constants.CLIENT_TIMEOUT
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = constants.DEFAULT_RETRIES
	}
	if opts.Factory == nil {
		opts.Factory = new(fileio.BufferedFactory)
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	ep, err := networking.Listen(":"+strconv.Itoa(opts.LocalPort), opts.DSCP)
	if err != nil {
		return nil, err
	}

	return &Client{opts: opts, ep: ep, logger: log.New(opts.Out, "", 0)}, nil
}

// LocalAddr returns address of the client endpoint
func (c *Client) LocalAddr() *net.UDPAddr {
	return c.ep.LocalAddr()
}

// Connect resolves the server once. Later requests go to the resolved address.
func (c *Client) Connect(host string) error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(c.opts.ServerPort)))
	if err != nil {
		return errors.Wrap(ErrUnknownHost, host)
	}
	c.server = addr
	return nil
}

// Get downloads a single file from the connected server
func (c *Client) Get(ctx context.Context, filename string) (*Result, error) {
	if c.server == nil {
		return nil, errors.New("not connected")
	}

	if c.previous != nil {
		// Drop whatever the last transfer left queued.
		if err := c.ep.Reset(); err != nil {
			return nil, err
		}
	}

	policy := networking.Policy{Timeout: c.opts.Timeout, MaxRetries: c.opts.MaxRetries, Logger: c.logger}
	path := filepath.Join(c.opts.Dir, filename)

	session := NewSession(c.ep, c.server, filename, path, policy, c.opts.Factory, c.opts.Hashing)
	session.IgnorePeer(c.previous)
	result, err := session.Run(ctx)
	if peer := session.Peer(); peer != nil {
		c.previous = peer
	}
	return result, err
}

// Request connects to host and downloads every file in turn, reporting each outcome
// to the operator. Only an unresolvable host is returned as error.
func (c *Client) Request(ctx context.Context, host string, filenames []string) ([]*Result, error) {
	if err := c.Connect(host); err != nil {
		fmt.Fprintln(c.opts.Out, host+": unknown host")
		return nil, err
	}

	results := make([]*Result, 0, len(filenames))
	for _, filename := range filenames {
		result, err := c.Get(ctx, filename)
		if err != nil {
			fmt.Fprintln(c.opts.Out, err.Error())
		} else {
			fmt.Fprintln(c.opts.Out, "Transferred", result.Bytes, "bytes in", result.Elapsed.Milliseconds(), "ms")
			if result.Checksum != nil {
				fmt.Fprintln(c.opts.Out, "Checksum", hex.EncodeToString(result.Checksum))
			}
		}
		results = append(results, result)
		if ctx.Err() != nil {
			break
		}
	}

	return results, nil
}

// Close closes the client endpoint
func (c *Client) Close() {
	c.ep.Close()
}
