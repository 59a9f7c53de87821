package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gobmc/internal/fakebmc"
	"github.com/3leaps/gobmc/pkg/output"
	"github.com/3leaps/gobmc/pkg/transport"
	"github.com/3leaps/gobmc/pkg/workflow"
)

// harness runs the command tree in-process against a fake controller.
type harness struct {
	t       *testing.T
	bmc     *fakebmc.Server
	jobsDir string
}

func newHarness(t *testing.T, opts []fakebmc.Option) *harness {
	t.Helper()

	dir := t.TempDir()
	for _, kv := range os.Environ() {
		if name, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(name, "GOBMC_") {
			t.Setenv(name, "")
			_ = os.Unsetenv(name)
		}
	}
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir+"/config")
	t.Setenv("XDG_DATA_HOME", dir+"/data")
	t.Setenv("GOBMC_JOBS_DIR", dir+"/jobs")
	t.Setenv("GOBMC_RATE_LIMIT", "0")

	bmc := fakebmc.New(opts...)
	t.Cleanup(bmc.Close)

	clientOptions = []transport.Option{
		transport.WithBaseURL(bmc.URL()),
		transport.WithHTTPClient(bmc.Client()),
	}
	pollerOptions = []workflow.PollerOption{
		workflow.WithClock(time.Now, func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	}
	t.Cleanup(func() {
		clientOptions = nil
		pollerOptions = nil
		runtimeConfig = nil
		resetFlags(rootCmd)
	})
	return &harness{t: t, bmc: bmc, jobsDir: dir + "/jobs"}
}

// run executes gobmc with connection flags for the fake controller and
// returns stdout.
func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	runtimeConfig = nil
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	base := []string{"--host", h.bmc.Host(), "-u", fakebmc.DefaultUser, "-p", fakebmc.DefaultPassword}
	rootCmd.SetArgs(append(args, base...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// resetFlags restores every flag of the tree to its default so state does
// not leak between invocations.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// decodeResult parses the first JSON document written in json mode.
func decodeResult(t *testing.T, out string) map[string]any {
	t.Helper()
	var res map[string]any
	require.NoError(t, json.NewDecoder(strings.NewReader(out)).Decode(&res), out)
	return res
}

// decodeRecords parses jsonl output.
func decodeRecords(t *testing.T, out string) []output.Record {
	t.Helper()
	var recs []output.Record
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var r output.Record
		require.NoError(t, json.Unmarshal([]byte(line), &r), line)
		recs = append(recs, r)
	}
	require.NoError(t, sc.Err())
	return recs
}

func recordsOfType(recs []output.Record, typ string) []output.Record {
	var out []output.Record
	for _, r := range recs {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}
