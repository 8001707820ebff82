//go:build linux

// Command firewall drops packets matching a configurable set of
// source-IP/protocol rules and reflects everything else back out its
// ingress interface. Headers are decoded with gopacket/layers rather than
// hand-rolled offset arithmetic.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/xsknf-go/xsknf/xsknf"
)

func fatalIf(err error, msgf string, a ...any) {
	if err != nil {
		fmt.Fprintf(os.Stderr, msgf+": %v\n", append(a, err)...)
		os.Exit(1)
	}
}

// rule is one -drop entry: "cidr" or "cidr:proto" where proto is tcp, udp
// or icmp.
type rule struct {
	net   *net.IPNet
	proto string // "" matches any protocol
}

type ruleList []rule

func (r *ruleList) String() string { return "" }

func (r *ruleList) Set(s string) error {
	cidr, proto := s, ""
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		cidr, proto = s[:idx], s[idx+1:]
	}
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		ip := net.ParseIP(cidr)
		if ip == nil {
			return fmt.Errorf("invalid -drop rule %q: not a CIDR or IP", s)
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		ipnet = &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
	}
	*r = append(*r, rule{net: ipnet, proto: proto})
	return nil
}

func (r ruleList) matches(srcIP net.IP, proto string) bool {
	for _, rl := range r {
		if rl.net.Contains(srcIP) && (rl.proto == "" || rl.proto == proto) {
			return true
		}
	}
	return false
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	var rules ruleList
	fs.Var(&rules, "drop", "drop rule 'cidr' or 'cidr:proto' (tcp|udp|icmp); repeatable")

	// Split our own -drop flags out before handing the rest to
	// xsknf.ParseArgs, the same way cmd/xsknf's driver does.
	var ownArgs, rest []string
	rest = append(rest, os.Args[0])
	for i := 1; i < len(os.Args); i++ {
		a := os.Args[i]
		if a == "-drop" || a == "--drop" {
			ownArgs = append(ownArgs, a)
			if i+1 < len(os.Args) {
				i++
				ownArgs = append(ownArgs, os.Args[i])
			}
			continue
		}
		rest = append(rest, a)
	}
	fatalIf(fs.Parse(ownArgs), "parsing -drop rules")

	cfg, err := xsknf.ParseArgs(rest)
	fatalIf(err, "parsing arguments")

	fw, err := xsknf.Init(cfg)
	fatalIf(err, "initializing framework")

	ifindexOf := make([]int, fw.NumInterfaces())
	for i := range ifindexOf {
		iface, err := net.InterfaceByName(fw.InterfaceName(i))
		fatalIf(err, "resolving interface %q", fw.InterfaceName(i))
		ifindexOf[i] = iface.Index
	}

	fw.SetPacketProcessor(func(pkt []byte, ingressIfindex int) int {
		ingress := -1
		for i, idx := range ifindexOf {
			if idx == ingressIfindex {
				ingress = i
			}
		}
		if ingress < 0 {
			return -1
		}

		packet := gopacket.NewPacket(pkt, layers.LayerTypeEthernet, gopacket.NoCopy)
		ipLayer := packet.Layer(layers.LayerTypeIPv4)
		if ipLayer == nil {
			return ingress
		}
		ip4, _ := ipLayer.(*layers.IPv4)

		proto := ""
		switch ip4.Protocol {
		case layers.IPProtocolTCP:
			proto = "tcp"
		case layers.IPProtocolUDP:
			proto = "udp"
		case layers.IPProtocolICMPv4:
			proto = "icmp"
		}

		if rules.matches(ip4.SrcIP, proto) {
			return -1
		}
		return ingress
	})

	fatalIf(fw.StartWorkers(), "starting workers")
	fmt.Fprintln(os.Stderr, "firewall running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fw.StopWorkers()
	fatalIf(fw.Cleanup(), "cleaning up")
}
