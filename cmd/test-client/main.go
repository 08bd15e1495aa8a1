// test-client is a manual diagnostic tool: it opens one QUIC connection to
// a running quicproxy instance, sends a single GET request over the wire
// framing internal/quictransport speaks, and prints the response.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"github.com/quic-go/quic-go"

	"quicproxy/internal/header"
	"quicproxy/internal/quictransport"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Printf("Usage: %s <proxy_host:port> <path> [authority]\n", os.Args[0])
		fmt.Printf("Example: %s localhost:8443 /hello www.example.com\n", os.Args[0])
		os.Exit(1)
	}

	addr := os.Args[1]
	path := os.Args[2]
	authority := addr
	if len(os.Args) > 3 {
		authority = os.Args[3]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tlsConf := &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"stellite-proxy"}}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		fmt.Printf("failed to dial %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer conn.CloseWithError(0, "")

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		fmt.Printf("failed to open stream: %v\n", err)
		os.Exit(1)
	}

	req := header.New()
	req.Add(header.PseudoMethod, "GET")
	req.Add(header.PseudoPath, path)
	req.Add(header.PseudoAuthority, authority)
	req.Add(header.PseudoScheme, "https")

	if err := quictransport.WriteRequestHeaders(stream, req); err != nil {
		fmt.Printf("failed to send request: %v\n", err)
		os.Exit(1)
	}

	status, headers, body, err := quictransport.ReadResponse(stream)
	if err != nil {
		fmt.Printf("failed to read response: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("status: %d\n", status)
	headers.RangeAll(func(name, value string) {
		fmt.Printf("%s: %s\n", name, value)
	})
	fmt.Printf("\n%s\n", body)
}
