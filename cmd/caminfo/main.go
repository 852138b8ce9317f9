// caminfo prints the formats and resolutions of local capture devices.
package main

import (
	"fmt"
	"log"

	"github.com/leaanthony/clir"

	"github.com/karlrwjohnson/camstream/lib/webcam"
	"github.com/karlrwjohnson/camstream/lib/wire"
)

func main() {
	cli := clir.NewCli("caminfo", "Inspect local webcam devices", "v1.0.0")
	cli.LongDescription("Usage: caminfo [device...]\nWith no arguments, inspects every /dev/video* device.")
	cli.Action(func() error {
		devices := cli.OtherArgs()
		if len(devices) == 0 {
			found, err := webcam.ListDevices()
			if err != nil {
				return err
			}
			if len(found) == 0 {
				fmt.Println("no capture devices found")
				return nil
			}
			devices = found
		}

		for _, name := range devices {
			if err := describe(name); err != nil {
				log.Printf("%s: %v", name, err)
			}
		}
		return nil
	})

	if err := cli.Run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func describe(name string) error {
	dev, err := webcam.Open(name)
	if err != nil {
		return err
	}
	defer dev.Close()

	fmt.Println(name)

	spec, err := dev.Spec()
	if err != nil {
		return err
	}
	fmt.Printf("  current: %dx%d %s\n", spec.Width, spec.Height, wire.FourCCString(spec.Format))

	formats, err := dev.Formats()
	if err != nil {
		return err
	}
	for _, f := range formats {
		fmt.Printf("  format %s (%s)\n", wire.FourCCString(f.Pixel), f.Description)
		resolutions, err := dev.Resolutions(f.Pixel)
		if err != nil {
			return err
		}
		for _, r := range resolutions {
			fmt.Printf("    %dx%d\n", r.Width, r.Height)
		}
	}
	return nil
}
