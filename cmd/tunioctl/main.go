// Command tunioctl creates a TUN interface, brings it up, and dumps
// incoming packet sizes until interrupted. It exists to exercise the
// library end to end, not as a production tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tunio"
)

func main() {
	name := flag.String("name", "", "interface name (empty lets the OS assign one)")
	flag.Parse()

	if err := run(*name); err != nil {
		fmt.Fprintln(os.Stderr, "tunioctl:", err)
		os.Exit(1)
	}
}

func run(name string) error {
	driver, err := tunio.NewDriver()
	if err != nil {
		return fmt.Errorf("new driver: %w", err)
	}
	defer driver.Close()

	cfg := tunio.NewInterfaceConfig(name)
	iface, queue, err := tunio.NewUp(driver, cfg)
	if err != nil {
		return fmt.Errorf("bring up interface: %w", err)
	}
	defer iface.Close()

	fmt.Printf("tunioctl: interface %s is up\n", iface.Handle())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	buf := make([]byte, 65536)
	for {
		n, err := queue.ReadAsync(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		fmt.Printf("tunioctl: received %d bytes\n", n)
	}
}
