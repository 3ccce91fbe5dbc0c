package e2e

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/basalt-labs/histd/pkg/queryclient"
	"github.com/basalt-labs/histd/pkg/types"
	"github.com/basalt-labs/histd/test/framework"
)

// TestIngest_PersistsValidDatagramsAndSurvivesMalformedOnes builds the
// real histd binary, starts it against a scratch database, and fires
// 100 well-formed and 10 malformed UDP datagrams at it in random
// order: the server must stay up throughout, persist exactly the 100
// valid events, and log one warning per malformed datagram (spec
// section 8 scenario 6).
func TestIngest_PersistsValidDatagramsAndSurvivesMalformedOnes(t *testing.T) {
	if testing.Short() {
		t.Skip("builds and runs the compiled histd binary; skipped in short mode")
	}

	tmpDir := t.TempDir()
	histdBin := buildBinary(t, tmpDir, "./cmd/histd")

	dbPath := filepath.Join(tmpDir, "history.db")
	port := freePort(t)

	proc := framework.NewProcess(histdBin)
	proc.Args = []string{dbPath, "--port", strconv.Itoa(port), "--log-level", "info"}
	require.NoError(t, proc.Start())
	defer func() { _ = proc.Stop() }()

	require.NoError(t, proc.WaitForLog("ingest listener started", 5*time.Second))
	require.NoError(t, proc.WaitForLog("query server started", 5*time.Second))

	sendScenarioSixDatagrams(t, port)

	waiter := framework.DefaultWaiter()
	const numMalformed = 10
	require.NoError(t, waiter.WaitFor(context.Background(), func() bool {
		return countOccurrences(proc.Logs(), "rejected malformed datagram") >= numMalformed
	}, "all malformed datagrams logged"))

	require.True(t, proc.IsRunning(), "server must stay up through a mix of valid and malformed datagrams")

	client, err := queryclient.Dial(fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const numValid = 100
	var rows []types.ResultRow
	require.NoError(t, waiter.WaitFor(ctx, func() bool {
		rows, err = client.Query(context.Background(), types.QueryFilter{Limit: numValid})
		return err == nil && len(rows) == numValid
	}, "all 100 valid datagrams persisted"))

	require.Len(t, rows, numValid)
}

// sendScenarioSixDatagrams fires 100 valid and 10 malformed datagrams
// at the ingest port, in random order, each over its own UDP socket
// (matching independent shell sessions, not one connected stream).
func sendScenarioSixDatagrams(t *testing.T, port int) {
	t.Helper()

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}

	type datagram struct {
		payload []byte
	}

	const numValid = 100
	const numMalformed = 10
	datagrams := make([]datagram, 0, numValid+numMalformed)
	for i := 0; i < numValid; i++ {
		datagrams = append(datagrams, datagram{payload: validDatagram(i)})
	}
	for i := 0; i < numMalformed; i++ {
		datagrams = append(datagrams, datagram{payload: []byte(fmt.Sprintf("not-a-valid-datagram-%d", i))})
	}

	rand.Shuffle(len(datagrams), func(i, j int) {
		datagrams[i], datagrams[j] = datagrams[j], datagrams[i]
	})

	for _, d := range datagrams {
		conn, err := net.DialUDP("udp", nil, addr)
		require.NoError(t, err)
		_, err = conn.Write(d.payload)
		require.NoError(t, err)
		conn.Close()
	}
}

// validDatagram builds the 5-field NUL-separated wire format spec
// section 4.2 describes: session, host, exit_status, dir, and a
// 7-byte-prefixed argv, with i folded into the command text so each
// datagram produces a distinct (command, place) group.
func validDatagram(i int) []byte {
	fields := [][]byte{
		[]byte(strconv.Itoa(i % 7)),
		[]byte("e2e-host"),
		[]byte(strconv.Itoa(i % 2)),
		[]byte("/tmp/e2e"),
		[]byte(fmt.Sprintf("  %3d  echo %d\n", i, i)),
	}
	out := fields[0]
	for _, f := range fields[1:] {
		out = append(out, 0)
		out = append(out, f...)
	}
	return out
}

func countOccurrences(logs string, substr string) int {
	count := 0
	for {
		idx := indexOf(logs, substr)
		if idx < 0 {
			break
		}
		count++
		logs = logs[idx+len(substr):]
	}
	return count
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// buildBinary compiles the package at pkgPath (relative to the module
// root) into dir and returns the path to the resulting executable.
func buildBinary(t *testing.T, dir, pkgPath string) string {
	t.Helper()
	out := filepath.Join(dir, filepath.Base(pkgPath))
	cmd := exec.Command("go", "build", "-o", out, pkgPath)
	cmd.Dir = moduleRoot(t)
	output, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "go build %s failed:\n%s", pkgPath, output)
	return out
}

func moduleRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Join(wd, "..", "..")
}

// freePort reserves an ephemeral TCP port and immediately releases it,
// matching pkg/query's own test helper's probe-then-release pattern.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
