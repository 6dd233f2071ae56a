package port

import "agentmirror/internal/domain/model"

type ResultSink interface {
	// WritePass prints or stores one reconciliation pass.
	WritePass(res *model.PassResult) error
}
