package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/supergoudvis116/joule-connector/internal/config"
	"github.com/supergoudvis116/joule-connector/internal/core"
	"github.com/supergoudvis116/joule-connector/internal/schema"
)

func main() {
	global := flag.NewFlagSet("joule-cli", flag.ExitOnError)
	addrFlag := global.String("addr", "", "Connector gRPC address")
	jsonOutput := global.Bool("json", false, "Output JSON")
	timeout := global.Duration("timeout", 30*time.Second, "Request timeout")
	global.Usage = usage
	_ = global.Parse(os.Args[1:])
	args := global.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	addr := *addrFlag
	if addr == "" {
		addr = resolveAddr()
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := grpcurl.BlockingDial(ctx, "tcp", dialAddr(addr), insecure.NewCredentials())
	if err != nil {
		fatal("dial", err)
	}
	defer conn.Close()

	switch args[0] {
	case "plugins":
		pluginsCmd(ctx, conn, args[1:])
	case "services":
		servicesCmd(ctx, conn)
	case "methods":
		methodsCmd(ctx, conn, args[1:])
	case "call":
		callCmd(ctx, conn, args[1:])
	case "thermostats", "entities", "set", "mode", "refresh":
		jouleCmd(ctx, conn, args, *jsonOutput)
	default:
		usage()
		os.Exit(2)
	}
}

func pluginsCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "list":
		resp, err := schema.Invoke[core.ListPluginsRequest, core.ListPluginsResponse](ctx, conn, core.RegistryServiceName, "ListPlugins", &core.ListPluginsRequest{})
		if err != nil {
			fatal("list plugins", err)
		}
		for _, plugin := range resp.Plugins {
			fmt.Printf("%s\t%s\t%s\t%s\n", plugin.PluginID, plugin.DisplayName, plugin.Version, plugin.Status)
		}
	case "describe":
		if len(args) < 2 {
			fatal("describe", fmt.Errorf("missing plugin id"))
		}
		resp, err := schema.Invoke[core.DescribePluginRequest, core.DescribePluginResponse](ctx, conn, core.RegistryServiceName, "DescribePlugin", &core.DescribePluginRequest{PluginID: args[1]})
		if err != nil {
			fatal("describe plugin", err)
		}
		if resp.Plugin == nil {
			fmt.Println("not found")
			return
		}
		fmt.Printf("id: %s\n", resp.Plugin.PluginID)
		fmt.Printf("name: %s\n", resp.Plugin.DisplayName)
		fmt.Printf("version: %s\n", resp.Plugin.Version)
		fmt.Printf("status: %s\n", resp.Plugin.Status)
		if resp.Plugin.HealthMessage != "" {
			fmt.Printf("health: %s\n", resp.Plugin.HealthMessage)
		}
		fmt.Println("services:")
		for _, svc := range resp.Plugin.Services {
			fmt.Printf("  - %s\n", svc)
		}
		fmt.Println("dashboards:")
		for _, dash := range resp.Plugin.Dashboards {
			fmt.Printf("  - %s (%s)\n", dash.Name, dash.Path)
		}
		fmt.Println("agents_md:")
		fmt.Println(resp.Plugin.AgentsMD)
	default:
		usage()
		os.Exit(2)
	}
}

func servicesCmd(ctx context.Context, conn *grpc.ClientConn) {
	descSource := reflectionSource(ctx, conn)
	services, err := grpcurl.ListServices(descSource)
	if err != nil {
		fatal("list services", err)
	}

	for _, service := range services {
		fmt.Println(service)
	}
}

func methodsCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	if len(args) < 1 {
		fatal("methods", fmt.Errorf("missing service name"))
	}

	descSource := reflectionSource(ctx, conn)
	methods, err := grpcurl.ListMethods(descSource, args[0])
	if err != nil {
		fatal("list methods", err)
	}

	for _, method := range methods {
		fmt.Println(method)
	}
}

func callCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	flags := flag.NewFlagSet("call", flag.ExitOnError)
	data := flags.String("data", "", "JSON request body")
	_ = flags.Parse(args)
	remaining := flags.Args()
	if len(remaining) < 1 {
		fatal("call", fmt.Errorf("missing method (service/method)"))
	}

	method := remaining[0]
	descSource := reflectionSource(ctx, conn)

	var reader io.Reader
	if *data != "" {
		reader = strings.NewReader(*data)
	} else if isStdinTerminal() {
		reader = strings.NewReader("{}")
	} else {
		reader = os.Stdin
	}

	parser, formatter, err := grpcurl.RequestParserAndFormatter(grpcurl.FormatJSON, descSource, reader, grpcurl.FormatOptions{EmitJSONDefaultFields: true})
	if err != nil {
		fatal("parse request", err)
	}

	handler := grpcurl.NewDefaultEventHandler(os.Stdout, descSource, formatter, false)
	if err := grpcurl.InvokeRPC(ctx, descSource, conn, method, nil, handler, parser.Next); err != nil {
		fatal("invoke", err)
	}
	if handler.Status != nil && handler.Status.Err() != nil {
		fatal("invoke", handler.Status.Err())
	}
}

func reflectionSource(ctx context.Context, conn *grpc.ClientConn) grpcurl.DescriptorSource {
	client := grpcreflect.NewClientAuto(ctx, conn)
	return grpcurl.DescriptorSourceFromServer(ctx, client)
}

func isStdinTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return true
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func resolveAddr() string {
	if value := os.Getenv(config.EnvGRPCAddr); value != "" {
		return value
	}
	for _, path := range configSearchPaths() {
		if addr := addrFromConfig(path); addr != "" {
			return addr
		}
	}
	return "localhost:9000"
}

func configSearchPaths() []string {
	paths := []string{config.Path()}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "joule-connector", "config.pbtxt"))
	}
	return paths
}

func addrFromConfig(path string) string {
	cfg, err := config.Load(path)
	if err != nil || cfg == nil || cfg.Core == nil {
		return ""
	}
	return cfg.Core.GRPCAddr
}

// dialAddr turns a listen address such as ":9000" or "0.0.0.0:9000" into
// one a client can dial.
func dialAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		return net.JoinHostPort("localhost", port)
	}
	return addr
}

func usage() {
	fmt.Println("joule-cli [--addr host:port] [--json] <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  plugins list")
	fmt.Println("  plugins describe <plugin_id>")
	fmt.Println("  services")
	fmt.Println("  methods <service>")
	fmt.Println("  call <service/method> --data '{}' (or pipe JSON via stdin)")
	fmt.Println("  thermostats")
	fmt.Println("  entities [thermostat]")
	fmt.Println("  set <thermostat> <celsius>")
	fmt.Println("  mode <thermostat> <hvac_mode>")
	fmt.Println("  refresh")
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
