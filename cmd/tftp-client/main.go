package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/wjholden/gotftpd/internal/client"
	"github.com/wjholden/gotftpd/internal/observability"
	"github.com/wjholden/gotftpd/internal/transaction"
)

var (
	port    = flag.Int("sp", 0, "server UDP port (default 69)")
	verbose = flag.Bool("v", false, "log every packet, not just state changes and errors")
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: tftp-client [-sp port] [-v] <source> <dest>")
		fmt.Fprintln(os.Stderr, "  exactly one of source/dest must be host:filepath")
		flag.Usage()
		os.Exit(2)
	}

	sink := observability.NewConsoleZerologSink(*verbose)

	state, err := client.Transfer(client.Config{ServerPort: *port, Sink: sink}, args[0], args[1])
	if err != nil {
		log.Fatal(err)
	}
	if state != transaction.StateComplete {
		log.Fatalf("tftp-client: transfer ended in state %s", state)
	}
}
