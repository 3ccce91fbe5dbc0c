package ingest

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/basalt-labs/histd/pkg/histderr"
	"github.com/basalt-labs/histd/pkg/types"
)

// historyPrefixLen is the width of the line-number-and-padding prefix
// the shell's `history 1` builtin puts in front of the command text
// (spec section 4.2, field 5).
const historyPrefixLen = 7

// Parse decodes one ingest datagram into a types.IngestRecord. It is a
// pure function so it can be unit tested without a socket. end_time is
// always the server's wall clock at parse time (now), never trusted
// from the datagram (spec section 4.2).
func Parse(datagram []byte, now time.Time) (types.IngestRecord, error) {
	fields := bytes.Split(datagram, []byte{0})
	if len(fields) != 5 {
		return types.IngestRecord{}, histderr.InvalidInput(
			fmt.Sprintf("expected 5 NUL-separated fields, got %d", len(fields)), nil)
	}

	session, err := strconv.Atoi(string(fields[0]))
	if err != nil {
		return types.IngestRecord{}, histderr.InvalidInput("field 1 (session) is not an integer", err)
	}

	host := string(fields[1])

	exitStatus, err := strconv.Atoi(string(fields[2]))
	if err != nil {
		return types.IngestRecord{}, histderr.InvalidInput("field 3 (exit status) is not an integer", err)
	}

	dir := string(fields[3])

	argvField := fields[4]
	if len(argvField) < historyPrefixLen {
		return types.IngestRecord{}, histderr.InvalidInput(
			fmt.Sprintf("field 5 (argv) shorter than %d bytes", historyPrefixLen), nil)
	}
	argv := string(argvField[historyPrefixLen:])

	return types.IngestRecord{
		Session:    session,
		Host:       host,
		ExitStatus: exitStatus,
		Dir:        dir,
		Argv:       argv,
		EndTime:    now.Unix(),
	}, nil
}
