package main

import (
	"context"
	"fmt"
	"go_tftp/client/comms"
	"go_tftp/constants"
	"go_tftp/fileio"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
)

func main() {
	args := argparse.NewParser("tftp", constants.Title)

	bind := args.String("a", "address", &argparse.Options{Required: true, Help: "Server host or address"})
	dscp := args.Int("d", "dscp", &argparse.Options{Required: false, Help: "DSCP field for QoS",
		Default: constants.DEFAULT_DSCP})
	files := args.StringList("f", "file", &argparse.Options{Required: true, Help: "File to download (repeatable)"})
	local := args.Int("l", "local-port", &argparse.Options{Required: false, Help: "Local port, 0 picks one",
		Default: 0})
	omit := args.Flag("n", "omit", &argparse.Options{Help: "Omit checksum calculation"})
	output := args.String("o", "output", &argparse.Options{Required: false, Help: "Directory for downloaded files",
		Default: "."})
	port := args.Int("p", "port", &argparse.Options{Required: false, Help: "Server port",
		Default: constants.DEFAULT_PORT})
	retries := args.Int("r", "retries", &argparse.Options{Required: false, Help: "Resends after a timeout",
		Default: constants.DEFAULT_RETRIES})
	sha := args.Flag("s", "sha", &argparse.Options{Help: "Use SHA256 checksum instead of CRC32"})
	timeout := args.Int("t", "timeout", &argparse.Options{Required: false, Help: "Receive timeout in ms",
		Default: int(constants.CLIENT_TIMEOUT / time.Millisecond)})

	err := args.Parse(os.Args)

	if err != nil {
		fmt.Print(args.Usage(err))
		os.Exit(1)
	}

	if *timeout <= 0 || *retries <= 0 {
		fmt.Println("Timeout and retries must be positive")
		os.Exit(1)
	}

	method := fileio.HashCRC32
	if *omit {
		method = fileio.HashNone
	} else if *sha {
		method = fileio.HashSHA256
	}

	client, err := comms.NewClient(comms.Options{
		ServerPort: *port,
		LocalPort:  *local,
		Timeout:    time.Duration(*timeout) * time.Millisecond,
		MaxRetries: *retries,
		DSCP:       *dscp,
		Dir:        *output,
		Hashing:    method,
		Out:        os.Stdout,
	})
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
	defer client.Close()
	fmt.Println("Bound to port " + strconv.Itoa(client.LocalAddr().Port))

	// Ctrl+C aborts the running transfer.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, err := client.Request(ctx, *bind, *files)
	if err != nil {
		os.Exit(1)
	}

	for _, result := range results {
		if result.State != comms.Complete {
			os.Exit(2)
		}
	}
}
