// Package xsknf implements the worker-per-CPU AF_XDP packet-forwarding
// framework: UMEM/socket setup, the batched rx/classify/tx/complete
// run-loop, and the control plane that wires eBPF attachment and CPU
// pinning around it.
package xsknf

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// BindMode is a per-interface hint for which AF_XDP bind mode to use.
type BindMode int

const (
	BindAuto BindMode = iota
	BindCopy
	BindZerocopy
)

func (m BindMode) String() string {
	switch m {
	case BindCopy:
		return "copy"
	case BindZerocopy:
		return "zerocopy"
	default:
		return "auto"
	}
}

// WorkingMode selects which kernel hooks the framework installs.
type WorkingMode int

const (
	ModeAFXDP WorkingMode = 1 << iota
	ModeXDP
)

// ModeCombined runs both the AF_XDP data plane and the XDP redirect
// program that feeds it.
const ModeCombined = ModeAFXDP | ModeXDP

func (m WorkingMode) String() string {
	switch m {
	case ModeAFXDP:
		return "AF_XDP"
	case ModeXDP:
		return "XDP"
	case ModeCombined:
		return "COMBINED"
	default:
		return fmt.Sprintf("WorkingMode(%d)", int(m))
	}
}

// InterfaceConfig is one entry of the -i/--iface flag: an interface name
// plus its optional bind-mode override.
type InterfaceConfig struct {
	Name     string
	BindMode BindMode
}

// Config is the fully-resolved, immutable-after-Init configuration for a
// Framework. Zero value is not valid; build one through ParseArgs.
type Config struct {
	Interfaces      []InterfaceConfig
	WorkingMode     WorkingMode
	FrameSize       uint32
	Workers         int
	BatchSize       uint32
	Poll            bool
	BusyPoll        bool
	UnalignedChunks bool
	SKBMode         bool
	EBPFFilename    string
	XDPProgName     string
	TCProgName      string
}

const (
	defaultFrameSize = 2048 // XSK_UMEM__DEFAULT_FRAME_SIZE
	defaultBatchSize = 64
	defaultWorkers   = 1
	maxBatchSize     = 511
)

var (
	ErrNoInterfaces    = errors.New("xsknf: at least one interface is required")
	ErrBadFrameSize    = errors.New("xsknf: frame size must be a power of two unless --unaligned is set")
	ErrBadBatchSize    = errors.New("xsknf: batch size must be in [1, 511]")
	ErrTooFewWorkers   = errors.New("xsknf: workers must be >= 1")
	ErrUnknownBindMode = errors.New("xsknf: unknown bind mode suffix, expected ':c' or ':z'")
	ErrUnknownMode     = errors.New("xsknf: unknown working mode, expected AF_XDP, XDP or COMBINED")
)

// ifaceFlag implements flag.Value for the repeatable -i/--iface flag,
// whose argument is "name" or "name:c" / "name:z".
type ifaceFlag struct{ out *[]InterfaceConfig }

func (f ifaceFlag) String() string { return "" }

func (f ifaceFlag) Set(s string) error {
	name, mode := s, BindAuto
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		name = s[:idx]
		switch s[idx+1:] {
		case "c":
			mode = BindCopy
		case "z":
			mode = BindZerocopy
		default:
			return fmt.Errorf("%w: %q", ErrUnknownBindMode, s[idx+1:])
		}
	}
	*f.out = append(*f.out, InterfaceConfig{Name: name, BindMode: mode})
	return nil
}

// yamlConfig is the shape of an optional -c/-config YAML file of defaults
// that individual flags can then override. Every key except "interfaces"
// (the list form of the repeatable -i/--iface flag) matches its flag's
// long form.
type yamlConfig struct {
	Interfaces      []string `yaml:"interfaces"`
	Mode            string   `yaml:"mode"`
	FrameSize       uint32   `yaml:"frame-size"`
	Workers         int      `yaml:"workers"`
	BatchSize       uint32   `yaml:"batch-size"`
	Poll            bool     `yaml:"poll"`
	BusyPoll        bool     `yaml:"busy-poll"`
	UnalignedChunks bool     `yaml:"unaligned"`
	SKBMode         bool     `yaml:"xdp-skb"`
	EBPFFilename    string   `yaml:"ebpf-filename"`
	XDPProgName     string   `yaml:"xdp-progname"`
	TCProgName      string   `yaml:"tc-progname"`
}

// configFileValue pulls the -c/-config argument's value out of args, the
// same way cmd/xsknf's splitOwnFlags pulls its own flags out before
// handing the rest to this function: -c's value has to be known before
// the rest of the FlagSet's defaults are registered, so it can't go
// through the same fs.Parse pass as everything else.
func configFileValue(args []string) string {
	for i, a := range args {
		switch {
		case a == "-c" || a == "-config" || a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "-config=") || strings.HasPrefix(a, "--config="):
			return a[strings.IndexByte(a, '=')+1:]
		case strings.HasPrefix(a, "-c="):
			return a[3:]
		}
	}
	return ""
}

// ParseArgs parses the CLI surface described in the framework's
// documentation (see the -i/-p/-S/-f/-u/-b/-B/-M/-w flags, the -e
// addition for overriding the default "{argv0}_kern.o" eBPF object path,
// and the -c/-config addition for a YAML file of defaults) into a
// Config. args follows the os.Args convention: args[0] is the program
// name, used to compute the default eBPF object filename exactly as
// xsknf's own argv[0]-derived default does; args[1:] are the flags.
//
// If -c/-config names a file, it is read and unmarshaled into a
// yamlConfig first; its values become every other flag's default, so an
// explicit command-line flag overrides the file and an unspecified one
// falls back to it. Interfaces are the exception: the file's interfaces
// are kept and every -i/--iface flag appends to them.
func ParseArgs(args []string) (*Config, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("xsknf: args must contain at least a program name")
	}
	argv0 := args[0]
	fs := flag.NewFlagSet(argv0, flag.ContinueOnError)

	cfg := &Config{
		WorkingMode: ModeAFXDP,
	}

	defMode := "AF_XDP"
	defFrameSize := uint(defaultFrameSize)
	defWorkers := defaultWorkers
	defBatchSize := uint(defaultBatchSize)
	defEBPFFilename := argv0 + "_kern.o"
	defXDPProgName := "handle_xdp"
	defTCProgName := ""

	if path := configFileValue(args[1:]); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("xsknf: reading config file %q: %w", path, err)
		}
		var yc yamlConfig
		if err := yaml.Unmarshal(b, &yc); err != nil {
			return nil, fmt.Errorf("xsknf: parsing config file %q: %w", path, err)
		}
		for _, name := range yc.Interfaces {
			if err := (ifaceFlag{out: &cfg.Interfaces}).Set(name); err != nil {
				return nil, fmt.Errorf("xsknf: config file %q: %w", path, err)
			}
		}
		if yc.Mode != "" {
			defMode = yc.Mode
		}
		if yc.FrameSize != 0 {
			defFrameSize = uint(yc.FrameSize)
		}
		if yc.Workers != 0 {
			defWorkers = yc.Workers
		}
		if yc.BatchSize != 0 {
			defBatchSize = uint(yc.BatchSize)
		}
		if yc.EBPFFilename != "" {
			defEBPFFilename = yc.EBPFFilename
		}
		if yc.XDPProgName != "" {
			defXDPProgName = yc.XDPProgName
		}
		if yc.TCProgName != "" {
			defTCProgName = yc.TCProgName
		}
		cfg.Poll = yc.Poll
		cfg.BusyPoll = yc.BusyPoll
		cfg.UnalignedChunks = yc.UnalignedChunks
		cfg.SKBMode = yc.SKBMode
	}

	fs.String("c", "", "path to a YAML config file providing defaults for every other flag")
	fs.String("config", "", "alias for -c")
	fs.Var(ifaceFlag{out: &cfg.Interfaces}, "i", "add an interface, optionally 'name:c' or 'name:z'; repeatable")
	fs.Var(ifaceFlag{out: &cfg.Interfaces}, "iface", "alias for -i")
	fs.BoolVar(&cfg.Poll, "p", cfg.Poll, "use poll() between batches")
	fs.BoolVar(&cfg.Poll, "poll", cfg.Poll, "alias for -p")
	fs.BoolVar(&cfg.SKBMode, "S", cfg.SKBMode, "attach XDP in SKB (generic) mode; forces copy")
	fs.BoolVar(&cfg.SKBMode, "xdp-skb", cfg.SKBMode, "alias for -S")
	frameSize := fs.Uint("f", defFrameSize, "UMEM frame size (power of two unless --unaligned)")
	fs.UintVar(frameSize, "frame-size", defFrameSize, "alias for -f")
	fs.BoolVar(&cfg.UnalignedChunks, "u", cfg.UnalignedChunks, "enable unaligned chunk placement; enables huge-page backing")
	fs.BoolVar(&cfg.UnalignedChunks, "unaligned", cfg.UnalignedChunks, "alias for -u")
	batchSize := fs.Uint("b", defBatchSize, "rx/tx batch size (1..511)")
	fs.UintVar(batchSize, "batch-size", defBatchSize, "alias for -b")
	fs.BoolVar(&cfg.BusyPoll, "B", cfg.BusyPoll, "enable socket busy-poll")
	fs.BoolVar(&cfg.BusyPoll, "busy-poll", cfg.BusyPoll, "alias for -B")
	mode := fs.String("M", defMode, "working mode: AF_XDP, XDP or COMBINED")
	fs.StringVar(mode, "mode", defMode, "alias for -M")
	workers := fs.Int("w", defWorkers, "number of worker threads")
	fs.IntVar(workers, "workers", defWorkers, "alias for -w")
	ebpfFilename := fs.String("e", defEBPFFilename, "eBPF object file path")
	fs.StringVar(ebpfFilename, "ebpf-filename", defEBPFFilename, "alias for -e")
	xdpProgName := fs.String("xdp-progname", defXDPProgName, "XDP program name inside the eBPF object")
	tcProgName := fs.String("tc-progname", defTCProgName, "TC egress program name inside the eBPF object (empty disables TC attach)")

	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}

	cfg.FrameSize = uint32(*frameSize)
	cfg.BatchSize = uint32(*batchSize)
	cfg.Workers = *workers
	cfg.EBPFFilename = *ebpfFilename
	cfg.XDPProgName = *xdpProgName
	cfg.TCProgName = *tcProgName

	switch *mode {
	case "AF_XDP":
		cfg.WorkingMode = ModeAFXDP
	case "XDP":
		cfg.WorkingMode = ModeXDP
	case "COMBINED":
		cfg.WorkingMode = ModeCombined
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, *mode)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Interfaces) == 0 {
		return ErrNoInterfaces
	}
	if c.Workers < 1 {
		return ErrTooFewWorkers
	}
	if c.BatchSize < 1 || c.BatchSize > maxBatchSize {
		return ErrBadBatchSize
	}
	if !c.UnalignedChunks && (c.FrameSize&(c.FrameSize-1)) != 0 {
		return ErrBadFrameSize
	}
	if c.SKBMode {
		for i := range c.Interfaces {
			c.Interfaces[i].BindMode = BindCopy
		}
	}
	return nil
}

// resolveBindMode picks the effective per-interface bind mode: SKB-mode
// forces copy; if neither copy nor zero-copy was requested, default to
// zero-copy.
func resolveBindMode(skbMode bool, hint BindMode) BindMode {
	if skbMode {
		return BindCopy
	}
	if hint == BindAuto {
		return BindZerocopy
	}
	return hint
}
