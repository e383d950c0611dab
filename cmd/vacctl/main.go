// Command vacctl sends one command to a running vacrouter and prints the
// reply.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/vacrouter/vacrouter/client"
)

var (
	addr    = flag.String("addr", "127.0.0.1:7373", "vacrouter command socket")
	timeout = flag.Duration("timeout", 2*time.Minute, "how long to wait for the reply")
)

func main() {
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: vacctl [flags] COMMAND [ARG]")
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	c, err := client.Dial(ctx, *addr)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()
	lines, err := c.Do(ctx, strings.Join(flag.Args(), " "))
	for _, line := range lines {
		fmt.Println(line)
	}
	if err != nil {
		c.Close()
		log.Fatal(err)
	}
}
