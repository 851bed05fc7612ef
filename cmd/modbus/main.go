package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/TAMON-TECHNOLOGY/mothbus/client"
	"github.com/TAMON-TECHNOLOGY/mothbus/common"
	"github.com/TAMON-TECHNOLOGY/mothbus/logging"
	"github.com/TAMON-TECHNOLOGY/mothbus/transport"
)

// A small Modbus TCP poller: reads a block of holding registers once and
// prints the values.
func main() {
	host := flag.String("host", "127.0.0.1", "server host")
	port := flag.Int("port", common.DefaultTCPPort, "server port")
	unit := flag.Int("unit", 1, "unit id")
	address := flag.Uint("address", 0, "starting address")
	quantity := flag.Uint("quantity", 1, "number of registers")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	verbose := flag.Bool("v", false, "verbose protocol logging")
	flag.Parse()

	level := common.LevelWarn
	if *verbose {
		level = common.LevelTrace
	}
	logger := logging.NewLogger(logging.WithLevel(level))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", *host, *port))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer conn.Close()

	stream := transport.NewTCPStream(conn, transport.WithTCPLogger(logger))
	master := client.NewMaster(stream, client.WithLogger(logger))

	values := make([]uint16, *quantity)
	if err := master.ReadHoldingRegisters(ctx, common.UnitID(*unit), uint16(*address), values); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	for i, v := range values {
		fmt.Printf("%5d: 0x%04X (%d)\n", uint16(*address)+uint16(i), v, v)
	}
}
