package models

// All returns every persisted model in migration order.
func All() []any {
	return []any{
		&User{},
		&AuditLog{},
		&Tool{},
		&Chemical{},
		&CycleCountSchedule{},
		&CycleCountBatch{},
		&CycleCountItem{},
		&CycleCountResult{},
		&CycleCountAdjustment{},
	}
}
