package model

import "time"

type AnomalyKind string

const (
	AnomalyOrphanOrder            AnomalyKind = "ORPHAN_ORDER"
	AnomalyTerminalTransition     AnomalyKind = "TERMINAL_TRANSITION"
	AnomalyIllegalTransition      AnomalyKind = "ILLEGAL_TRANSITION"
	AnomalySupervisionTimeout     AnomalyKind = "SUPERVISION_TIMEOUT"
	AnomalyOCORaceDetected        AnomalyKind = "OCO_RACE_DETECTED"
	AnomalyOCOBothFilled          AnomalyKind = "OCO_BOTH_FILLED"
	AnomalySliceSkipped           AnomalyKind = "SLICE_SKIPPED"
	AnomalyGridLevelOccupied      AnomalyKind = "GRID_LEVEL_OCCUPIED"
	AnomalyGridRegenerationFailed AnomalyKind = "GRID_REGENERATION_FAILED"
)

// Anomaly is a non-fatal inconsistency surfaced to operators.
type Anomaly struct {
	ID              string      `json:"id" gorm:"primaryKey"`
	Kind            AnomalyKind `json:"kind"`
	StrategyID      string      `json:"strategy_id,omitempty"`
	ClientOrderID   string      `json:"client_order_id,omitempty"`
	ExchangeOrderID string      `json:"exchange_order_id,omitempty"`
	Symbol          string      `json:"symbol,omitempty"`
	Detail          string      `json:"detail"`
	At              time.Time   `json:"at"`
}

func (Anomaly) TableName() string {
	return "anomalies"
}
