package reconcile

import (
	"sort"
	"time"

	"github.com/InsereNomen/AlderSync/pkg/types"
)

// mtimeTolerance is the window inside which two timestamps are considered
// equal and the comparison falls through to size, then hash
const mtimeTolerance = time.Second

// Plan is the bidirectional sync plan computed at transaction begin.
// Pull and Push are disjoint; every path present on either side lands in
// exactly one of pull, push, or no-op.
type Plan struct {
	Pull []string
	Push []string

	// TotalBytes and TotalFiles aggregate both sets; the reconcile lock
	// timeout is derived from them
	TotalBytes int64
	TotalFiles int
}

// BuildPlan compares the client inventory against the server's current
// inventory and decides, per path, which side wins.
//
// Decision order for a path present on both sides: newest mtime wins
// (outside a one-second tolerance), then differing size, then differing
// hash, with mtime ties favoring the server. Identical files are no-ops.
func BuildPlan(clientFiles map[string]types.ClientFileInfo, serverFiles []*types.FileRevision) Plan {
	plan := Plan{}

	serverByPath := make(map[string]*types.FileRevision, len(serverFiles))
	for _, f := range serverFiles {
		serverByPath[f.Path] = f
	}

	pull := func(f *types.FileRevision) {
		plan.Pull = append(plan.Pull, f.Path)
		plan.TotalBytes += f.Size
		plan.TotalFiles++
	}
	push := func(path string, c types.ClientFileInfo) {
		plan.Push = append(plan.Push, path)
		plan.TotalBytes += c.Size
		plan.TotalFiles++
	}

	for path, client := range clientFiles {
		server, onServer := serverByPath[path]
		if !onServer {
			push(path, client)
			continue
		}

		serverMtime := server.ModifiedUTC.UTC()
		clientMtime := client.ModifiedUTC.UTC()
		diff := serverMtime.Sub(clientMtime)
		if diff < 0 {
			diff = -diff
		}

		if diff > mtimeTolerance {
			if clientMtime.After(serverMtime) {
				push(path, client)
			} else {
				pull(server)
			}
			continue
		}

		// Timestamps agree within tolerance; differing size or hash means
		// the sides diverged. Ties favor the server.
		if server.Size != client.Size || server.Hash != client.Hash {
			if clientMtime.After(serverMtime) {
				push(path, client)
			} else {
				pull(server)
			}
		}
	}

	for path, server := range serverByPath {
		if _, onClient := clientFiles[path]; !onClient {
			pull(server)
		}
	}

	sort.Strings(plan.Pull)
	sort.Strings(plan.Push)
	return plan
}
