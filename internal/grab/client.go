// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package grab dispatches chosen releases to a download client behind a
// two-phase confirmation protocol and records the outcome in the ledger.
package grab

import (
	"context"

	"github.com/fetcharr/fetcharr/internal/models"
)

// DispatchStatus classifies the outcome of a submit call.
type DispatchStatus string

const (
	// DispatchAccepted means the client created a job.
	DispatchAccepted DispatchStatus = "accepted"
	// DispatchRejectedByClient is a definitive refusal; retrying will not help.
	DispatchRejectedByClient DispatchStatus = "rejectedByClient"
	// DispatchTransientFailure may succeed on retry (network, client busy).
	DispatchTransientFailure DispatchStatus = "transientFailure"
)

// DispatchResult is what the download client reported for a submission.
type DispatchResult struct {
	Status      DispatchStatus `json:"status"`
	ClientJobID string         `json:"clientJobId,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}

// SeedCriteria is passed through to torrent clients on dispatch.
type SeedCriteria struct {
	Ratio           float64 `json:"ratio,omitempty"`
	SeedTimeMinutes int     `json:"seedTimeMinutes,omitempty"`
}

// DownloadClient abstracts the download client wire protocol. Submit never
// returns a Go error for client-side refusals; those are DispatchResult
// statuses. Errors are reserved for conditions the adapter itself cannot
// classify.
type DownloadClient interface {
	Submit(ctx context.Context, release *models.Release, seed *SeedCriteria) (*DispatchResult, error)
	PollStatus(ctx context.Context, clientJobID string) (models.QueueState, error)
}
