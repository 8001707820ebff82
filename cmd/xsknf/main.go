//go:build linux

// Command xsknf is the library's own minimal driver: it parses the CLI
// surface, wires a built-in classifier selected by -classifier, and prints
// periodic per-socket stats until interrupted.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/xsknf-go/xsknf/ifacestat"
	"github.com/xsknf-go/xsknf/xsknf"
)

func fatalIf(err error, msgf string, a ...any) {
	if err != nil {
		fmt.Fprintf(os.Stderr, msgf+": %v\n", append(a, err)...)
		os.Exit(1)
	}
}

// ifindexOf maps an interface's position in the Framework's interface list
// to its kernel ifindex, so the built-in classifiers below can translate a
// PacketProcessor's ingressIfindex argument back into that position
// without capturing the Framework itself.
var ifindexOf []int

func ifaceOf(ingressIfindex int) int {
	for i, idx := range ifindexOf {
		if idx == ingressIfindex {
			return i
		}
	}
	return -1
}

func makeClassifier(name string) (xsknf.PacketProcessor, error) {
	switch name {
	case "drop":
		return func(pkt []byte, ingressIfindex int) int { return -1 }, nil
	case "reflect":
		return func(pkt []byte, ingressIfindex int) int { return ifaceOf(ingressIfindex) }, nil
	case "swap":
		return func(pkt []byte, ingressIfindex int) int {
			if len(pkt) >= 12 {
				var tmp [6]byte
				copy(tmp[:], pkt[0:6])
				copy(pkt[0:6], pkt[6:12])
				copy(pkt[6:12], tmp[:])
			}
			return ifaceOf(ingressIfindex)
		}, nil
	default:
		return nil, fmt.Errorf("unknown classifier %q, want drop|reflect|swap", name)
	}
}

// splitOwnFlags pulls -classifier and -stats-interval (and their =value
// forms) out of args, returning their values plus the remaining argv for
// xsknf.ParseArgs. Done by hand rather than through the flag package
// because xsknf.ParseArgs owns its own FlagSet over the same argv and two
// packages can't both register flags against flag.CommandLine.
func splitOwnFlags(args []string) (classifier string, statsInterval time.Duration, rest []string) {
	classifier = "reflect"
	statsInterval = 2 * time.Second
	rest = append(rest, args[0])

	for i := 1; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-classifier" || a == "--classifier":
			i++
			if i < len(args) {
				classifier = args[i]
			}
		case strings.HasPrefix(a, "-classifier=") || strings.HasPrefix(a, "--classifier="):
			classifier = a[strings.IndexByte(a, '=')+1:]
		case a == "-stats-interval" || a == "--stats-interval":
			i++
			if i < len(args) {
				d, err := time.ParseDuration(args[i])
				fatalIf(err, "parsing -stats-interval")
				statsInterval = d
			}
		case strings.HasPrefix(a, "-stats-interval=") || strings.HasPrefix(a, "--stats-interval="):
			d, err := time.ParseDuration(a[strings.IndexByte(a, '=')+1:])
			fatalIf(err, "parsing -stats-interval")
			statsInterval = d
		default:
			rest = append(rest, a)
		}
	}
	return
}

func main() {
	classifierName, statsInterval, rest := splitOwnFlags(os.Args)

	cfg, err := xsknf.ParseArgs(rest)
	fatalIf(err, "parsing arguments")

	fw, err := xsknf.Init(cfg)
	fatalIf(err, "initializing framework")

	ifindexOf = make([]int, fw.NumInterfaces())
	for i := range ifindexOf {
		iface, err := net.InterfaceByName(fw.InterfaceName(i))
		fatalIf(err, "resolving interface %q", fw.InterfaceName(i))
		ifindexOf[i] = iface.Index
	}

	classifier, err := makeClassifier(classifierName)
	fatalIf(err, "selecting classifier")
	fw.SetPacketProcessor(classifier)

	fatalIf(fw.StartWorkers(), "starting workers")

	ifaceNames := make([]string, fw.NumInterfaces())
	for i := range ifaceNames {
		ifaceNames[i] = fw.InterfaceName(i)
	}
	nicCounters := []ifacestat.Counter{ifacestat.TxPackets, ifacestat.TxBytes, ifacestat.RxPackets, ifacestat.RxBytes}
	lastNIC, err := ifacestat.Snapshot(ifaceNames, nicCounters...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: ethtool snapshot unavailable, NIC-level counters disabled: %v\n", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	p := message.NewPrinter(language.English)
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-sigCh:
			break loop
		case <-ticker.C:
			printStats(p, fw)
			lastNIC = printNICStats(ifaceNames, nicCounters, lastNIC)
		}
	}

	fw.StopWorkers()
	printStats(p, fw)
	printNICStats(ifaceNames, nicCounters, lastNIC)
	fatalIf(fw.Cleanup(), "cleaning up")
}

func printStats(p *message.Printer, fw *xsknf.Framework) {
	for w := 0; w < fw.NumWorkers(); w++ {
		for i := 0; i < fw.NumInterfaces(); i++ {
			s, err := fw.GetSocketStats(w, i)
			if err != nil {
				fmt.Fprintf(os.Stderr, "worker %d iface %d: stats error: %v\n", w, i, err)
				continue
			}
			p.Printf("worker=%d iface=%s rx=%d tx=%d rx_dropped=%d rx_empty_polls=%d tx_wakeup_sendtos=%d\n",
				w, fw.InterfaceName(i), s.RxNpkts, s.TxNpkts, s.RxDropped, s.RxEmptyPolls, s.TxWakeupSendtos)
		}
	}
}

// printNICStats reports the physical-NIC counters ethtool -S exposes,
// underneath the AF_XDP socket-level counters printStats already prints,
// and returns the new snapshot to diff against next time.
func printNICStats(ifaceNames []string, counters []ifacestat.Counter, last ifacestat.Stats) ifacestat.Stats {
	if last == nil {
		return nil
	}
	now, err := ifacestat.Snapshot(ifaceNames, counters...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: ethtool snapshot failed: %v\n", err)
		return last
	}
	ifacestat.Print(os.Stdout, now.Since(last), ifacestat.RoleAliases(ifaceNames))
	return now
}
