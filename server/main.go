package main

import (
	"context"
	"fmt"
	"go_tftp/constants"
	"go_tftp/fileio"
	server "go_tftp/server/controller"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
)

func main() {
	args := argparse.NewParser("tftpd", constants.Title)

	dscp := args.Int("d", "dscp", &argparse.Options{Required: false, Help: "DSCP field for QoS",
		Default: constants.DEFAULT_DSCP})
	bind := args.String("l", "listen", &argparse.Options{Required: false, Help: "Listen on address",
		Default: constants.DEFAULT_LISTEN})
	port := args.Int("p", "port", &argparse.Options{Required: false, Help: "Listening port",
		Default: constants.DEFAULT_PORT})
	path := args.String("r", "root", &argparse.Options{Required: true, Help: "Root path of served files"})
	retries := args.Int("c", "retries", &argparse.Options{Required: false, Help: "Resends after a timeout",
		Default: constants.DEFAULT_RETRIES})
	timeout := args.Int("t", "timeout", &argparse.Options{Required: false, Help: "Ack timeout in ms",
		Default: int(constants.SERVER_TIMEOUT / time.Millisecond)})
	compressed := args.Flag("z", "lz4", &argparse.Options{Help: "Serve <file>" + constants.LZ4_SUFFIX +
		" decompressed when <file> is missing"})

	err := args.Parse(os.Args)

	if err != nil {
		fmt.Print(args.Usage(err))
		os.Exit(1)
	}

	if *timeout <= 0 || *retries <= 0 {
		fmt.Println("Timeout and retries must be positive")
		os.Exit(1)
	}

	srv := server.NewServer(server.Options{
		Root:       *path,
		Timeout:    time.Duration(*timeout) * time.Millisecond,
		MaxRetries: *retries,
		DSCP:       *dscp,
		Factory:    &fileio.BufferedFactory{LZ4: *compressed},
		Logger:     log.New(os.Stderr, constants.DEFAULT_LOG_PREFIX, log.LstdFlags),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bindTo := *bind + ":" + strconv.Itoa(*port)

	if err := srv.StartListening(ctx, bindTo); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
	fmt.Println("Shutting down")
}
