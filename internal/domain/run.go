package domain

import "time"

// Phase is a step of the reconciliation cycle
type Phase string

const (
	PhaseIdle                   Phase = "idle"
	PhaseLoadGroups             Phase = "load_groups"
	PhaseLoadServices           Phase = "load_services"
	PhaseExpandOwnerClaims      Phase = "expand_owner_claims"
	PhaseBuildRepositoryCatalog Phase = "build_repository_catalog"
	PhaseResolveGroupReferences Phase = "resolve_group_references"
	PhaseComputeAssociations    Phase = "compute_associations"
	PhasePublish                Phase = "publish"
)

// RunStatus is the outcome of a cycle
type RunStatus string

const (
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// CycleRun records one execution of the reconciliation cycle
type CycleRun struct {
	ID                string     `json:"id"`
	Trigger           string     `json:"trigger"` // "schedule", "manual" or "cli"
	Status            RunStatus  `json:"status"`
	Phase             Phase      `json:"phase"`
	Groups            int        `json:"groups"`
	Repositories      int        `json:"repositories"`
	GroupRepositories int        `json:"groupRepositories"`
	ArtifactsWritten  int        `json:"artifactsWritten"`
	Error             string     `json:"error,omitempty"`
	StartedAt         time.Time  `json:"startedAt"`
	FinishedAt        *time.Time `json:"finishedAt,omitempty"`
}
