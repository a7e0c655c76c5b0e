// Command netpilot is a small interactive front end for the session
// engine: it dispatches a device/protocol pair, connects, and runs typed
// commands until EOF.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/netpilot/netpilot"
	_ "github.com/netpilot/netpilot/plugins"
	"go.uber.org/zap"
	"golang.org/x/term"
)

func main() {
	var (
		device   = flag.String("device", "generic", "device type to dispatch")
		protocol = flag.String("protocol", "ssh", "protocol to dispatch")
		host     = flag.String("host", "localhost", "target host")
		port     = flag.Int("port", 0, "target port (0 = protocol default)")
		user     = flag.String("user", os.Getenv("USER"), "login username")
		verbose  = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	logger := buildLogger(*verbose)
	defer logger.Sync() //nolint:errcheck

	if err := run(*device, *protocol, *host, *port, *user, logger); err != nil {
		logger.Fatal("session failed", zap.Error(err))
	}
}

func buildLogger(verbose bool) *zap.Logger {
	if verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			return logger
		}
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func run(device, protocol, host string, port int, user string, logger *zap.Logger) error {
	password, err := promptPassword()
	if err != nil {
		return err
	}

	sess, err := netpilot.Dispatch(device, protocol, netpilot.DispatchOptions{
		ChannelOptions: netpilot.ChannelOptions{
			Host:     host,
			Port:     port,
			Username: user,
			Password: password,
			Logger:   logger,
		},
		ClientOptions: []netpilot.ClientOption{netpilot.WithLogger(logger)},
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	release, err := netpilot.Open(ctx, sess, logger)
	if err != nil {
		return err
	}
	defer release()

	// Give the remote terminal a moment to print its banner.
	time.Sleep(3 * time.Second)
	banner, err := sess.Read()
	if err != nil {
		return err
	}
	fmt.Println(string(banner))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("netpilot> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		found, output, err := sess.RunCommand([]byte(line), netpilot.CommandOptions{
			Read: netpilot.ReadOptions{ReadTimeout: 30 * time.Second},
		})
		if err != nil {
			return err
		}
		fmt.Println(string(output))
		if !found {
			fmt.Fprintln(os.Stderr, "warning: prompt not seen before timeout; output may be partial")
		}
	}
}

func promptPassword() (string, error) {
	fmt.Print("Password: ")
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(secret), nil
}
