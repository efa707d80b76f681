package installlog

import (
	"context"
	"os"
	"runtime"

	"github.com/pithecene-io/modpatch/pipeline"
	"github.com/pithecene-io/modpatch/types"
)

// CurrentEnvironment describes the running host.
func CurrentEnvironment() types.EnvironmentInfo {
	host, _ := os.Hostname()
	return types.EnvironmentInfo{
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		GoVersion:   runtime.Version(),
		ToolVersion: types.Version,
		Hostname:    host,
	}
}

// NewRecord builds the install log record of a finished attempt.
func NewRecord(res *pipeline.Result, opts types.PatchOptions, versions types.ComponentVersions, env types.EnvironmentInfo) *types.InstallLogRecord {
	return &types.InstallLogRecord{
		AttemptID:   res.AttemptID,
		Environment: env,
		Options:     opts,
		Versions:    versions,
		StartedAt:   res.StartedAt,
		DurationMs:  res.Duration.Milliseconds(),
		Outcome:     res.Outcome,
		Transcript:  res.Transcript,
	}
}

// Recorder writes one record per finished attempt. Options and Versions
// are read when the attempt completes.
type Recorder struct {
	Store    *Store
	Options  func() types.PatchOptions
	Versions func() types.ComponentVersions
}

// Complete implements pipeline.CompletionHook.
func (r *Recorder) Complete(ctx context.Context, res *pipeline.Result) error {
	var versions types.ComponentVersions
	if r.Versions != nil {
		versions = r.Versions()
	}
	return r.Store.Write(ctx, NewRecord(res, r.Options(), versions, CurrentEnvironment()))
}

var _ pipeline.CompletionHook = (*Recorder)(nil)
