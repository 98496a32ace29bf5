package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"avaneesh/trel-go/pkg/mac"
	"avaneesh/trel-go/pkg/node"

	"github.com/spf13/pflag"
)

var (
	configFile  string
	listen      string
	transport   string
	radioChan   uint8
	logLevel    string
	frameDebug  bool
	sendTo      string
	message     string
	interval    time.Duration
	showVersion bool

	Version   = "unknown"
	BuildDate = "unknown"
	BuildType = "DEV"
)

func init() {
	pflag.StringVarP(&configFile, "config", "c", "./config.json", "")
	pflag.StringVar(&listen, "listen", "", "")
	pflag.StringVar(&transport, "transport", "", "")
	pflag.Uint8Var(&radioChan, "channel", 0, "")
	pflag.StringVar(&logLevel, "log-level", "", "")
	pflag.BoolVar(&frameDebug, "frame-debug", false, "")
	pflag.StringVar(&sendTo, "send-to", "", "")
	pflag.StringVarP(&message, "message", "m", "", "")
	pflag.DurationVar(&interval, "interval", 5*time.Second, "")
	pflag.BoolVarP(&showVersion, "version", "v", false, "")

	pflag.Usage = func() {
		fmt.Println("trel-node - Thread Radio Encapsulation Link node")
		fmt.Println("Usage:")
		fmt.Printf("  -c,--config\tPath to the config file.(default: \"./config.json\")\n")
		fmt.Printf("  --listen\tOverride the local \"host:port\" to listen on.\n")
		fmt.Printf("  --transport\tOverride the transport: udp or quic.\n")
		fmt.Printf("  --channel\tOverride the radio channel.\n")
		fmt.Printf("  --log-level\tOverride the log level: debug, info, warn or error.\n")
		fmt.Printf("  --frame-debug\tHex dump every packet sent and received.\n")
		fmt.Printf("  --send-to\tExtended address to send --message to (broadcast if empty).\n")
		fmt.Printf("  -m,--message\tPayload to send every --interval.\n")
		fmt.Printf("  --interval\tTime between sends.(default: 5s)\n")
		fmt.Printf("  -v,--version\tDisplay the current binary file version.\n")
	}
}

func main() {
	pflag.Parse()

	if showVersion {
		printVersion()
		return
	}

	cfg, err := node.LoadConfig(configFile)
	if err != nil {
		fatalf("Failed to load config file: %v", err)
	}
	applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		fatalf("Invalid configuration: %v", err)
	}

	if err := node.SetLogLevel(cfg.LogLevel); err != nil {
		fatalf("Invalid log level: %v", err)
	}
	node.EnableFrameDebug(cfg.FrameDebug)
	defer node.SyncLogs()

	n, err := node.New(cfg, nil, nil)
	if err != nil {
		fatalf("Failed to create node: %v", err)
	}

	n.SetMessageHandler(func(msg node.Message) {
		fmt.Printf("%s -> %s (rssi %d): %q\n", msg.Src, msg.Dst, msg.Rssi, msg.Payload)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if message != "" {
		go sendLoop(ctx, n)
	}

	if err := n.Run(ctx); err != nil {
		fatalf("Node stopped: %v", err)
	}

	stats, linkStats, _ := n.Stats(context.Background())
	fmt.Printf("Sent: %d  Failed: %d  Retries: %d  Received: %d\n",
		stats.Sent, stats.Failed, stats.Retries, stats.Received)
	fmt.Printf("Link: %+v\n", linkStats)

	chStats, _ := n.ChannelStats()
	fmt.Printf("Channel: Tx: %d  Rx: %d  Write errors: %d  Read errors: %d  Queue drops: %d\n",
		chStats.GetPacketsTx(), chStats.GetPacketsRx(), chStats.GetWriteErrors(),
		chStats.GetReadErrors(), chStats.GetQueueDrops())
}

// applyFlags overrides config values with the flags given on the command line
func applyFlags(cfg *node.Config) {
	if pflag.CommandLine.Changed("listen") {
		cfg.Listen = listen
	}
	if pflag.CommandLine.Changed("transport") {
		cfg.Transport = transport
	}
	if pflag.CommandLine.Changed("channel") {
		cfg.Channel = radioChan
	}
	if pflag.CommandLine.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if pflag.CommandLine.Changed("frame-debug") {
		cfg.FrameDebug = frameDebug
	}
}

func sendLoop(ctx context.Context, n *node.Node) {
	var dst mac.ExtAddress
	if sendTo != "" {
		var err error
		if dst, err = mac.ParseExtAddress(sendTo); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --send-to: %v\n", err)
			return
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var err error
		if sendTo != "" {
			err = n.Send(ctx, dst, []byte(message))
		} else {
			err = n.Broadcast(ctx, []byte(message))
		}
		if err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "Send failed: %v\n", err)
		}
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func printVersion() {
	fmt.Printf("BuildType: %s\nVersion: %s\nBuildDate: %s\n",
		BuildType, Version, BuildDate)
}
