// Command ncps is a TCP connection-rate benchmark: run as a server with
// -s, or as a client against a server with -c <remote-ip>.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/ncps/console"
	"github.com/m-lab/ncps/supervisor"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var promPort = flag.String("prom", ":9090", "Prometheus metrics export address and port. Default is ':9090'")

func main() {
	os.Exit(run())
}

func run() int {
	// ncps takes -s/-c plus their own flag set ahead of the global flag
	// package's parsing, so pull -prom (and any future process-wide flag)
	// out of the argument list before handing the rest to supervisor.
	flag.CommandLine.Parse(globalFlags(os.Args[1:]))
	flagx.ArgsFromEnv(flag.CommandLine)

	params, err := supervisor.ParseArgs(supervisorArgs(os.Args[1:]))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	out := os.Stdout
	if params.OutputFile != "" {
		f, err := os.Create(params.OutputFile)
		rtx.Must(err, "could not create -o output file %s", params.OutputFile)
		defer f.Close()
		out = f
	}

	promSrv := prometheusx.MustStartPrometheus(*promPort)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		promSrv.Shutdown(ctx)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	sup, err := supervisor.New(params, out)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	go console.Run(ctx, sup)

	if err := sup.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// globalFlags pulls out the flags main's own flag.CommandLine owns (-prom),
// leaving everything else for supervisor.ParseArgs, since ncps's -s/-c
// argument grammar is not expressible with the standard flag package.
func globalFlags(argv []string) []string {
	var out []string
	for i := 0; i < len(argv); i++ {
		if argv[i] == "-prom" || argv[i] == "--prom" {
			out = append(out, argv[i])
			if i+1 < len(argv) {
				out = append(out, argv[i+1])
				i++
			}
		}
	}
	return out
}

func supervisorArgs(argv []string) []string {
	var out []string
	for i := 0; i < len(argv); i++ {
		if argv[i] == "-prom" || argv[i] == "--prom" {
			i++
			continue
		}
		out = append(out, argv[i])
	}
	return out
}
