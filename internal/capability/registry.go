package capability

import (
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/storage"
	"github.com/SUSE-Enceladus/csp-billing-adapter/pkg/apperror"
)

// Registry binds exactly one capability of each category, composed
// statically at process startup.
type Registry struct {
	Storage storage.Store
	Archive storage.ArchiveStore
	CSP     CSP
	Usage   Usage
	General General
}

// Validate confirms every required capability category is bound exactly
// once. Since Registry's fields are singular (not slices), "duplicate"
// registrations can't occur through this API; Validate instead catches
// the "missing" half of the exactly-one-provider-per-category rule.
func (r *Registry) Validate() error {
	if r.Storage == nil {
		return apperror.NewConfigError("no Storage capability registered", nil)
	}
	if r.Archive == nil {
		return apperror.NewConfigError("no Archive capability registered", nil)
	}
	if r.CSP == nil {
		return apperror.NewConfigError("no CSP capability registered", nil)
	}
	if r.Usage == nil {
		return apperror.NewConfigError("no Usage capability registered", nil)
	}
	if r.General == nil {
		return apperror.NewConfigError("no General capability registered", nil)
	}
	return nil
}
