// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"errors"

	"github.com/photonbench/timetag-rpc/tagrpc"
	"github.com/photonbench/timetag-rpc/timetag"
)

// sdkFault converts an SDK error into a wire fault, carrying the SDK's own
// error code as the fault kind so remote callers see the same classification
// a local caller would.
func sdkFault(err error) error {
	if err == nil {
		return nil
	}
	var sdkErr *timetag.Error
	if errors.As(err, &sdkErr) {
		return &tagrpc.Fault{Kind: sdkErr.Code, Message: sdkErr.Message}
	}
	var fault *tagrpc.Fault
	if errors.As(err, &fault) {
		return fault
	}
	return tagrpc.Faultf(tagrpc.KindRuntime, "%v", err)
}
