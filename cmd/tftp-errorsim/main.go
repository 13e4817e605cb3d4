package main

import (
	"flag"
	"log"
	"net"
	"os"
	"strconv"

	"github.com/wjholden/gotftpd/internal/console"
	"github.com/wjholden/gotftpd/internal/observability"
	"github.com/wjholden/gotftpd/internal/simulator"
)

var (
	serverPort = flag.Int("sp", 69, "real server's UDP port")
	serverIP   = flag.String("sa", "127.0.0.1", "real server's IP address")
	clientPort = flag.Int("cp", 23, "port to listen for clients on")
	verbose    = flag.Bool("v", false, "log every packet, not just state changes and errors")
)

func main() {
	flag.Parse()

	serverAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(*serverIP, strconv.Itoa(*serverPort)))
	if err != nil {
		log.Fatal(err)
	}

	sink := observability.NewConsoleZerologSink(*verbose)

	eng, err := simulator.New(simulator.Config{
		ClientFacingAddr: &net.UDPAddr{Port: *clientPort},
		ServerAddr:       serverAddr,
		Sink:             sink,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

	go func() {
		if err := eng.Serve(); err != nil {
			log.Println("tftp-errorsim: relay stopped:", err)
		}
	}()

	d := console.New()
	simulator.RegisterCommands(d, eng, sink)

	log.Printf("tftp-errorsim: relaying %s <-> %s", eng.ClientFacingAddr(), eng.ServerAddr())
	if err := d.Serve(os.Stdin, os.Stdout); err != nil {
		log.Fatal(err)
	}
}
