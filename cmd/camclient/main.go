// camclient connects to a camserver, opens a webcam, and streams its
// frames into a JPEG snapshot file.
package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/leaanthony/clir"

	_ "github.com/joho/godotenv/autoload"

	"github.com/karlrwjohnson/camstream/lib/client"
	"github.com/karlrwjohnson/camstream/lib/config"
	"github.com/karlrwjohnson/camstream/lib/socket"
	"github.com/karlrwjohnson/camstream/lib/viewer"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	device := cfg.Client.Device
	snapshot := cfg.Client.Snapshot

	cli := clir.NewCli("camclient", "View a remote webcam stream", "v1.0.0")
	cli.LongDescription("Usage: camclient [address] [port]")
	cli.StringFlag("device", "Webcam device to open on the server", &device)
	cli.StringFlag("snapshot", "Path the latest frame is written to", &snapshot)
	cli.Action(func() error {
		address := cfg.Client.Address
		port := cfg.Client.Port
		args := cli.OtherArgs()
		if len(args) >= 1 {
			address = args[0]
		}
		if len(args) >= 2 {
			port, err = strconv.Atoi(args[1])
			if err != nil || port <= 0 || port > 65535 {
				log.Fatalf("Bad port number: %s", args[1])
			}
		}
		return run(address, port, device, snapshot)
	})

	if err := cli.Run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(address string, port int, device, snapshot string) error {
	factory := client.NewFactory(viewer.NewSnapshotFactory(snapshot))

	sess, err := socket.Connect(address, port, factory)
	if err != nil {
		return err
	}
	viewerSess := sess.(*client.Session)

	log.Printf("connected to %s:%d", address, port)

	if err := viewerSess.OpenWebcam(device); err != nil {
		return err
	}
	if err := viewerSess.StartStream(); err != nil {
		return err
	}

	log.Printf("streaming %s to %s; press Ctrl+C to stop", device, snapshot)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("shutdown signal received")
		if err := viewerSess.StopStream(); err != nil {
			log.Printf("stopping stream: %v", err)
		}
		if err := viewerSess.CloseWebcam(); err != nil {
			log.Printf("closing webcam: %v", err)
		}
		if err := viewerSess.Terminate(); err != nil {
			log.Printf("terminating: %v", err)
		}
	case <-sess.Done():
		log.Println("server closed the connection")
	}

	return nil
}
