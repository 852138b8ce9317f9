// camserver streams a local V4L2 webcam to remote viewers over TCP.
package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/leaanthony/clir"

	_ "github.com/joho/godotenv/autoload"

	"github.com/karlrwjohnson/camstream/lib/config"
	"github.com/karlrwjohnson/camstream/lib/server"
	"github.com/karlrwjohnson/camstream/lib/socket"
	"github.com/karlrwjohnson/camstream/lib/webcam"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	cli := clir.NewCli("camserver", "Stream a local webcam to remote viewers", "v1.0.0")
	cli.LongDescription("Usage: camserver [port]")
	cli.Action(func() error {
		port := cfg.Server.Port
		if args := cli.OtherArgs(); len(args) >= 1 {
			port, err = strconv.Atoi(args[0])
			if err != nil || port <= 0 || port > 65535 {
				log.Fatalf("Bad port number: %s", args[0])
			}
		}
		return run(port)
	})

	if err := cli.Run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(port int) error {
	srv := socket.NewServer(server.NewFactory(webcam.Open))

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(port)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("shutdown signal received")
		srv.Stop()
		<-errChan
	case err := <-errChan:
		if err != nil {
			return err
		}
	}

	log.Println("camserver stopped")
	return nil
}
