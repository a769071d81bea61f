package billing

import (
	"context"
	"time"

	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/capability"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/storage"
	"github.com/SUSE-Enceladus/csp-billing-adapter/pkg/apperror"
)

// BillResult is the outcome of one metering attempt.
type BillResult struct {
	RecordID    string
	MeteringTime time.Time
	Dimensions  []storage.DimensionUnits
	Failed      bool
	Detail      string
}

// Biller submits a dimension vector to the CSP metering capability and
// normalizes the result.
type Biller struct {
	csp capability.CSP
}

// NewBiller wraps a CSP capability.
func NewBiller(csp capability.CSP) *Biller {
	return &Biller{csp: csp}
}

// Bill submits dimensions for now. On success it returns a BillResult
// with RecordID and MeteringTime set. On failure Failed is true and the
// caller (the control loop) is responsible for keeping usage_records,
// setting billing_api_access_ok=false, and adding a ledger entry. Bill
// itself never mutates cache or csp-config state.
func (b *Biller) Bill(ctx context.Context, dimensions []storage.DimensionUnits, now time.Time, dryRun bool) (BillResult, error) {
	result, err := b.csp.MeterBilling(ctx, dimensions, now, dryRun)
	if err != nil {
		// Retries are already exhausted inside the capability; an error
		// here means the call never produced even a failed-status
		// response (network/transport failure all the way down).
		return BillResult{Dimensions: dimensions, Failed: true, Detail: err.Error()}, nil
	}

	if result.Status != capability.MeterOK {
		return BillResult{Dimensions: dimensions, Failed: true, Detail: result.Detail}, nil
	}

	return BillResult{
		RecordID:     result.RecordID,
		MeteringTime: now,
		Dimensions:   dimensions,
		Failed:       false,
	}, nil
}

// DryRunBill issues Bootstrap's validation bill: a synthetic
// zero-unit vector against every dimension the metric config names.
// Failure here is fatal (apperror.KindBootCSPAccess) and prevents the
// loop from starting.
func (b *Biller) DryRunBill(ctx context.Context, dimensions []storage.DimensionUnits, now time.Time) error {
	result, err := b.Bill(ctx, dimensions, now, true)
	if err != nil {
		return apperror.NewBootCSPError("dry-run meter call failed", err)
	}
	if result.Failed {
		return apperror.NewBootCSPError("dry-run meter call rejected: "+result.Detail, nil)
	}
	return nil
}
