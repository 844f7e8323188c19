package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"livefleet/internal/testsupport/controlstub"
)

const fleetYAML = `foundation:
  prefix: livefleet
  resourceGroup: livefleet-channels
  cdnHost: cdn.example.net
channels:
  - name: CH01
    redundancy: single
    encodingProfile: SD-540p
    ingest:
      - availabilityZone: a
        port: 20100
        allowedCidr: 0.0.0.0/0
`

const emptyFleetYAML = `foundation:
  prefix: livefleet
  resourceGroup: livefleet-channels
  cdnHost: cdn.example.net
channels: []
`

type harness struct {
	stub      *controlstub.ControlPlane
	dir       string
	fleetPath string
}

func newHarness(t *testing.T) harness {
	t.Helper()
	stub := controlstub.Start(controlstub.Options{})
	t.Cleanup(stub.Close)
	dir := t.TempDir()
	fleetPath := filepath.Join(dir, "fleet.yaml")
	if err := os.WriteFile(fleetPath, []byte(fleetYAML), 0o600); err != nil {
		t.Fatalf("write fleet file: %v", err)
	}
	t.Setenv("LIVEFLEET_CONTROL_API", stub.BaseURL())
	t.Setenv("LIVEFLEET_CONTROL_TOKEN", "")
	t.Setenv("LIVEFLEET_REDIS_ADDR", "")
	t.Setenv("LIVEFLEET_POSTGRES_DSN", "")
	t.Setenv("LIVEFLEET_FLEET_FILE", "")
	t.Setenv("LIVEFLEET_LOG_LEVEL", "error")
	return harness{stub: stub, dir: dir, fleetPath: fleetPath}
}

func (h harness) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	global := []string{"-fleet", h.fleetPath, "-data", filepath.Join(h.dir, "stacks.json"), "-env-file", ""}
	code := run(context.Background(), append(global, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// TestChannelLifecycle drives a channel from compile through deploy,
// start, stop and cleanup, then removes the foundation.
func TestChannelLifecycle(t *testing.T) {
	h := newHarness(t)

	code, out, errOut := h.run(t, "compile", "CH01")
	if code != exitOK || !strings.Contains(out, "CH01-transcode-channel") {
		t.Fatalf("compile: code %d stdout %s stderr %s", code, out, errOut)
	}
	if len(h.stub.OperationsOfKind("create")) != 0 {
		t.Fatalf("compile must not create resources")
	}

	if code, out, errOut = h.run(t, "deploy"); code != exitOK {
		t.Fatalf("deploy: code %d stdout %s stderr %s", code, out, errOut)
	}

	if code, _, errOut = h.run(t, "start", "CH01", "-scope", "flows"); code != exitOK {
		t.Fatalf("start: code %d stderr %s", code, errOut)
	}
	if got := len(h.stub.OperationsOfKind("transition")); got != 1 {
		t.Fatalf("expected one flow transition, got %d", got)
	}
	if code, _, errOut = h.run(t, "stop", "-scope", "flows", "CH01"); code != exitOK {
		t.Fatalf("stop: code %d stderr %s", code, errOut)
	}

	code, _, errOut = h.run(t, "decommission")
	if code != exitError || !strings.Contains(errOut, "channels still reference the foundation") {
		t.Fatalf("expected decommission refused, got code %d stderr %s", code, errOut)
	}

	if err := os.WriteFile(h.fleetPath, []byte(emptyFleetYAML), 0o600); err != nil {
		t.Fatalf("rewrite fleet file: %v", err)
	}
	code, out, errOut = h.run(t, "cleanup")
	if code != exitOK || !strings.Contains(out, `"CH01"`) {
		t.Fatalf("cleanup: code %d stdout %s stderr %s", code, out, errOut)
	}

	if code, out, errOut = h.run(t, "decommission"); code != exitOK {
		t.Fatalf("decommission: code %d stdout %s stderr %s", code, out, errOut)
	}
}

func TestUsageErrors(t *testing.T) {
	h := newHarness(t)
	testCases := []struct {
		name string
		args []string
		want int
	}{
		{name: "no command", args: nil, want: exitUsage},
		{name: "unknown command", args: []string{"launch"}, want: exitUsage},
		{name: "start without channel", args: []string{"start"}, want: exitUsage},
		{name: "bad scope", args: []string{"stop", "CH01", "-scope", "all-of-it"}, want: exitUsage},
		{name: "start undeployed", args: []string{"start", "CH01"}, want: exitError},
		{name: "compile undeclared", args: []string{"compile", "CH09"}, want: exitError},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if code, _, errOut := h.run(t, tc.args...); code != tc.want {
				t.Fatalf("expected exit %d, got %d: %s", tc.want, code, errOut)
			}
		})
	}
}

func TestDeployReportsPartialFailure(t *testing.T) {
	h := newHarness(t)
	broken := strings.Replace(fleetYAML, "SD-540p", "UHD-2160p", 1)
	if err := os.WriteFile(h.fleetPath, []byte(broken), 0o600); err != nil {
		t.Fatalf("write fleet file: %v", err)
	}
	code, out, errOut := h.run(t, "deploy", "-skip-cleanup")
	if code != exitPartial || !strings.Contains(errOut, "CH01") || !strings.Contains(out, `"stage": "compile"`) {
		t.Fatalf("expected partial failure, got code %d stdout %s stderr %s", code, out, errOut)
	}
}

func TestParseWithChannel(t *testing.T) {
	for _, args := range [][]string{{"CH01", "-scope", "flows"}, {"-scope", "flows", "CH01"}} {
		fs := (&cli{stderr: &bytes.Buffer{}}).subcommand("start")
		scope := fs.String("scope", "all", "")
		channel, err := parseWithChannel(fs, args)
		if err != nil || channel != "CH01" || *scope != "flows" {
			t.Fatalf("args %v: channel %q scope %q err %v", args, channel, *scope, err)
		}
	}
}
