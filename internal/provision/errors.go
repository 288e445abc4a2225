package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/spawnctl/internal/authority"
	"github.com/danmuck/spawnctl/internal/fetch"
)

// Stage names one remote step of a provisioning flow.
type Stage string

const (
	StageCreate         Stage = "create"
	StageFetch          Stage = "fetch"
	StageInstall        Stage = "install"
	StageBootstrap      Stage = "bootstrap"
	StageLookup         Stage = "lookup"
	StageDelete         Stage = "delete"
	StageUpdateSettings Stage = "update_settings"
)

// RemoteRejection is a remote stage failure reported verbatim to the caller.
type RemoteRejection struct {
	Stage   Stage
	Code    authority.RejectCode
	Message string
}

func (e *RemoteRejection) Error() string {
	return fmt.Sprintf("%s failed: %d: %s", e.Stage, int(e.Code), e.Message)
}

// rejection classifies err as a RemoteRejection for stage.
func rejection(stage Stage, err error) *RemoteRejection {
	var rr *RemoteRejection
	if errors.As(err, &rr) {
		return rr
	}
	var fe *fetch.Error
	if errors.As(err, &fe) {
		err = fe.Reject()
	}
	var rej *authority.Reject
	if errors.As(err, &rej) {
		return &RemoteRejection{Stage: stage, Code: rej.Code, Message: rej.Message}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &RemoteRejection{Stage: stage, Code: authority.CodeSysTransient, Message: err.Error()}
	}
	return &RemoteRejection{Stage: stage, Code: authority.CodeSysFatal, Message: err.Error()}
}
