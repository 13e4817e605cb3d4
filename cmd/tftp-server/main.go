package main

import (
	"flag"
	"log"
	"net"

	"github.com/wjholden/gotftpd/internal/observability"
	"github.com/wjholden/gotftpd/internal/server"
)

var (
	port     = flag.Int("sp", server.WellKnownPort, "UDP port to listen on")
	root     = flag.String("root", ".", "directory to serve files from")
	readonly = flag.Bool("readonly", false, "reject all writes")
	verbose  = flag.Bool("v", false, "log every packet, not just state changes and errors")
)

func main() {
	flag.Parse()

	sink := observability.NewConsoleZerologSink(*verbose)

	s, err := server.New(server.Config{
		ListenAddr: &net.UDPAddr{Port: *port},
		Root:       *root,
		ReadOnly:   *readonly,
		Sink:       sink,
	})
	if err != nil {
		log.Fatal(err)
	}

	log.Printf("tftp-server: serving %s on %s", *root, s.LocalAddr())
	if err := s.Serve(); err != nil {
		log.Fatal(err)
	}
}
