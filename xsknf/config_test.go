//go:build linux

package xsknf

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseArgsDefaults(t *testing.T) {
	cfg, err := ParseArgs([]string{"xsknf", "-i", "eth0"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if len(cfg.Interfaces) != 1 || cfg.Interfaces[0].Name != "eth0" {
		t.Fatalf("Interfaces = %+v, want one entry named eth0", cfg.Interfaces)
	}
	if cfg.Interfaces[0].BindMode != BindAuto {
		t.Errorf("BindMode = %v, want BindAuto", cfg.Interfaces[0].BindMode)
	}
	if cfg.FrameSize != defaultFrameSize {
		t.Errorf("FrameSize = %d, want %d", cfg.FrameSize, defaultFrameSize)
	}
	if cfg.BatchSize != defaultBatchSize {
		t.Errorf("BatchSize = %d, want %d", cfg.BatchSize, defaultBatchSize)
	}
	if cfg.Workers != defaultWorkers {
		t.Errorf("Workers = %d, want %d", cfg.Workers, defaultWorkers)
	}
	if cfg.WorkingMode != ModeAFXDP {
		t.Errorf("WorkingMode = %v, want ModeAFXDP", cfg.WorkingMode)
	}
	if cfg.EBPFFilename != "xsknf_kern.o" {
		t.Errorf("EBPFFilename = %q, want %q", cfg.EBPFFilename, "xsknf_kern.o")
	}
}

func TestParseArgsMultipleInterfacesAndBindModes(t *testing.T) {
	cfg, err := ParseArgs([]string{"xsknf", "-i", "eth0:c", "-i", "eth1:z", "-M", "COMBINED"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if len(cfg.Interfaces) != 2 {
		t.Fatalf("Interfaces = %+v, want 2 entries", cfg.Interfaces)
	}
	if cfg.Interfaces[0].BindMode != BindCopy {
		t.Errorf("Interfaces[0].BindMode = %v, want BindCopy", cfg.Interfaces[0].BindMode)
	}
	if cfg.Interfaces[1].BindMode != BindZerocopy {
		t.Errorf("Interfaces[1].BindMode = %v, want BindZerocopy", cfg.Interfaces[1].BindMode)
	}
	if cfg.WorkingMode != ModeCombined {
		t.Errorf("WorkingMode = %v, want ModeCombined", cfg.WorkingMode)
	}
}

func TestParseArgsSKBModeForcesCopy(t *testing.T) {
	cfg, err := ParseArgs([]string{"xsknf", "-i", "eth0:z", "-S"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if !cfg.SKBMode {
		t.Fatalf("SKBMode = false, want true")
	}
	if cfg.Interfaces[0].BindMode != BindCopy {
		t.Errorf("Interfaces[0].BindMode = %v, want BindCopy (forced by -S)", cfg.Interfaces[0].BindMode)
	}
}

func TestParseArgsErrors(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want error
	}{
		{"no interfaces", []string{"xsknf"}, ErrNoInterfaces},
		{"bad batch size", []string{"xsknf", "-i", "eth0", "-b", "0"}, ErrBadBatchSize},
		{"batch size too large", []string{"xsknf", "-i", "eth0", "-b", "512"}, ErrBadBatchSize},
		{"bad frame size", []string{"xsknf", "-i", "eth0", "-f", "1500"}, ErrBadFrameSize},
		{"too few workers", []string{"xsknf", "-i", "eth0", "-w", "0"}, ErrTooFewWorkers},
		{"unknown mode", []string{"xsknf", "-i", "eth0", "-M", "BOGUS"}, ErrUnknownMode},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseArgs(tc.args)
			if !errors.Is(err, tc.want) {
				t.Fatalf("ParseArgs(%v) err = %v, want %v", tc.args, err, tc.want)
			}
		})
	}
}

func TestParseArgsUnalignedAllowsNonPowerOfTwoFrameSize(t *testing.T) {
	cfg, err := ParseArgs([]string{"xsknf", "-i", "eth0", "-f", "1500", "-u"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if cfg.FrameSize != 1500 {
		t.Errorf("FrameSize = %d, want 1500", cfg.FrameSize)
	}
	if !cfg.UnalignedChunks {
		t.Errorf("UnalignedChunks = false, want true")
	}
}

func TestParseArgsNoProgramName(t *testing.T) {
	if _, err := ParseArgs(nil); err == nil {
		t.Fatalf("ParseArgs(nil) succeeded, want error")
	}
}

func TestIfaceFlagUnknownBindModeSuffix(t *testing.T) {
	var out []InterfaceConfig
	f := ifaceFlag{out: &out}
	if err := f.Set("eth0:x"); !errors.Is(err, ErrUnknownBindMode) {
		t.Fatalf("Set(eth0:x) err = %v, want ErrUnknownBindMode", err)
	}
}

func TestResolveBindMode(t *testing.T) {
	cases := []struct {
		skbMode bool
		hint    BindMode
		want    BindMode
	}{
		{skbMode: true, hint: BindZerocopy, want: BindCopy},
		{skbMode: false, hint: BindAuto, want: BindZerocopy},
		{skbMode: false, hint: BindCopy, want: BindCopy},
		{skbMode: false, hint: BindZerocopy, want: BindZerocopy},
	}
	for _, tc := range cases {
		if got := resolveBindMode(tc.skbMode, tc.hint); got != tc.want {
			t.Errorf("resolveBindMode(%v, %v) = %v, want %v", tc.skbMode, tc.hint, got, tc.want)
		}
	}
}

func TestWorkingModeString(t *testing.T) {
	cases := map[WorkingMode]string{
		ModeAFXDP:    "AF_XDP",
		ModeXDP:      "XDP",
		ModeCombined: "COMBINED",
	}
	for mode, want := range cases {
		if got := mode.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", mode, got, want)
		}
	}
}

func writeTestConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xsknf.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing test config file: %v", err)
	}
	return path
}

func TestParseArgsYAMLConfigProvidesDefaults(t *testing.T) {
	path := writeTestConfigFile(t, `
interfaces: ["eth0:c", "eth1"]
mode: COMBINED
frame-size: 4096
workers: 3
batch-size: 128
busy-poll: false
`)

	cfg, err := ParseArgs([]string{"xsknf", "-c", path})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if len(cfg.Interfaces) != 2 {
		t.Fatalf("Interfaces = %+v, want 2 entries from the config file", cfg.Interfaces)
	}
	if cfg.Interfaces[0].Name != "eth0" || cfg.Interfaces[0].BindMode != BindCopy {
		t.Errorf("Interfaces[0] = %+v, want eth0 in copy mode", cfg.Interfaces[0])
	}
	if cfg.WorkingMode != ModeCombined {
		t.Errorf("WorkingMode = %v, want ModeCombined", cfg.WorkingMode)
	}
	if cfg.FrameSize != 4096 {
		t.Errorf("FrameSize = %d, want 4096", cfg.FrameSize)
	}
	if cfg.Workers != 3 {
		t.Errorf("Workers = %d, want 3", cfg.Workers)
	}
	if cfg.BatchSize != 128 {
		t.Errorf("BatchSize = %d, want 128", cfg.BatchSize)
	}
}

func TestParseArgsFlagOverridesYAMLConfig(t *testing.T) {
	path := writeTestConfigFile(t, `
interfaces: ["eth0"]
workers: 3
`)

	cfg, err := ParseArgs([]string{"xsknf", "-c", path, "-w", "7"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if cfg.Workers != 7 {
		t.Errorf("Workers = %d, want 7 (explicit flag must win over the config file)", cfg.Workers)
	}
}

func TestParseArgsMissingConfigFile(t *testing.T) {
	if _, err := ParseArgs([]string{"xsknf", "-c", "/nonexistent/path/xsknf.yaml"}); err == nil {
		t.Fatalf("ParseArgs succeeded with a missing config file, want error")
	}
}
